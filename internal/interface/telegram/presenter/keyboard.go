// Package presenter formats data for Telegram display.
// Presenters turn query results into message text and inline keyboards;
// the bot converts keyboards into the client library's format.
package presenter

import (
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard - inline-клавиатура, не зависящая от библиотеки.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton - кнопка с callback-данными.
type InlineButton struct {
	Text         string
	CallbackData string
}

// NewInlineKeyboard создаёт пустую клавиатуру.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{Rows: make([][]InlineButton, 0)}
}

// AddRow добавляет ряд кнопок. Пустой ряд пропускается.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	if len(buttons) > 0 {
		k.Rows = append(k.Rows, buttons)
	}
	return k
}

// IsEmpty - в клавиатуре нет кнопок.
func (k *InlineKeyboard) IsEmpty() bool {
	return k == nil || len(k.Rows) == 0
}

// CallbackButton создаёт кнопку с callback-данными.
func CallbackButton(text, data string) InlineButton {
	return InlineButton{Text: text, CallbackData: data}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD PAGINATION
// ══════════════════════════════════════════════════════════════════════════════

// TopCallbackPrefix - префикс callback-данных листания рейтинга.
const TopCallbackPrefix = "levtop_"

// TopCallbackData кодирует номер страницы.
func TopCallbackData(page int) string {
	return fmt.Sprintf("%s%d", TopCallbackPrefix, page)
}

// ParseTopCallback разбирает "levtop_<n>". Принимаются только цифры.
func ParseTopCallback(data string) (int, bool) {
	digits, ok := strings.CutPrefix(data, TopCallbackPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	page, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return page, true
}

// PaginationKeyboard строит ряд ◀️ / ▶️. На единственной странице
// клавиатуры нет.
func PaginationKeyboard(page, totalPages int) *InlineKeyboard {
	var row []InlineButton
	if page > 1 {
		row = append(row, CallbackButton("◀️", TopCallbackData(page-1)))
	}
	if page < totalPages {
		row = append(row, CallbackButton("▶️", TopCallbackData(page+1)))
	}
	if len(row) == 0 {
		return nil
	}
	return NewInlineKeyboard().AddRow(row...)
}
