// Package chat описывает настройки чата, награды за уровни, историю
// попаданий в тройку лидеров и состояние ежемесячного сброса.
package chat

import (
	"strings"
	"time"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// TopN - сколько мест месяца засчитывается в историю.
const TopN = 3

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config - настройки чата. Чат без Config не участвует в начислении опыта.
type Config struct {
	ChatID shared.ChatID `json:"chat_id"`

	// AlertThread - тема форума для поздравлений. nil - основной поток.
	AlertThread *int `json:"alert_thread,omitempty"`

	// MonthsElapsed - сколько раз в чате выполнялся месячный сброс.
	MonthsElapsed int `json:"months_elapsed"`

	// LastRolloverMonth - месяц последнего захваченного сброса.
	LastRolloverMonth shared.MonthTag `json:"last_rollover_month"`

	// CompletedRolloverMonth - месяц последнего полностью завершённого сброса.
	CompletedRolloverMonth shared.MonthTag `json:"completed_rollover_month"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConfig создаёт настройки нового чата. Текущий месяц считается уже
// сброшенным: в новом чате сбрасывать нечего.
func NewConfig(chatID shared.ChatID, month shared.MonthTag, now time.Time) Config {
	return Config{
		ChatID:                 chatID,
		LastRolloverMonth:      month,
		CompletedRolloverMonth: month,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// NeedsClaim - сброс в этот месяц ещё никто не захватил.
func (c Config) NeedsClaim(current shared.MonthTag) bool {
	return c.LastRolloverMonth.Before(current)
}

// NeedsCompletion - сброс захвачен, но не доведён до конца.
func (c Config) NeedsCompletion(current shared.MonthTag) bool {
	return c.LastRolloverMonth == current && c.CompletedRolloverMonth != current
}

// ThreadID возвращает тему для уведомлений и признак её наличия.
func (c Config) ThreadID() (int, bool) {
	if c.AlertThread == nil {
		return 0, false
	}
	return *c.AlertThread, true
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARD
// ══════════════════════════════════════════════════════════════════════════════

// Reward - текст награды за достижение уровня.
type Reward struct {
	ChatID shared.ChatID `json:"chat_id"`
	Level  int           `json:"level"`
	Text   string        `json:"text"`
}

// NewReward проверяет и создаёт награду.
func NewReward(chatID shared.ChatID, level int, text string, maxLevel int) (Reward, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reward{}, shared.ErrEmptyReward
	}
	if level < 1 || level > maxLevel {
		return Reward{}, shared.NewDomainError("chat", "SetReward", shared.ErrValueOutOfRange, "level outside [1, max]")
	}
	return Reward{ChatID: chatID, Level: level, Text: text}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryStat - сколько раз пользователь попадал в тройку месяца.
type HistoryStat struct {
	ChatID    shared.ChatID `json:"chat_id"`
	UserID    shared.UserID `json:"user_id"`
	Top3Count int           `json:"top3_count"`
}

// Standing - место в итоговой тройке закрытого месяца. Фиксируется
// одновременно с захватом сброса и зачисляется в историю ровно один раз.
type Standing struct {
	ChatID shared.ChatID `json:"chat_id"`

	// RolloverMonth - месяц, в который выполнялся сброс.
	RolloverMonth shared.MonthTag `json:"rollover_month"`

	UserID   shared.UserID `json:"user_id"`
	Position int           `json:"position"`
	Level    int           `json:"level"`
	XP       int           `json:"xp"`
	Credited bool          `json:"credited"`
}
