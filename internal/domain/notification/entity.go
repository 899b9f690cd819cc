// Package notification описывает исходящие сообщения в чат: поздравления
// с уровнем, тексты наград и служебные объявления.
package notification

import (
	"context"
	"time"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// Kind - тип сообщения.
type Kind string

const (
	// KindLevelUp - поздравление с новым уровнем.
	KindLevelUp Kind = "level_up"

	// KindReward - текст награды за уровень.
	KindReward Kind = "reward"

	// KindAnnouncement - служебное объявление (запуск бота).
	KindAnnouncement Kind = "announcement"

	// KindReply - ответ на команду.
	KindReply Kind = "reply"
)

// Message - одно сообщение в чат.
type Message struct {
	Kind   Kind
	ChatID shared.ChatID

	// ThreadID - тема форума; nil - основной поток чата.
	ThreadID *int

	Text string

	// HTML - разбирать разметку HTML. Тексты администраторов отправляются
	// как есть.
	HTML bool
}

// Destination возвращает тему и признак её наличия.
func (m Message) Destination() (int, bool) {
	if m.ThreadID == nil {
		return 0, false
	}
	return *m.ThreadID, true
}

// DeliveryResult - результат отправки.
type DeliveryResult struct {
	// MessageID - ID отправленного сообщения.
	MessageID int

	// DeliveredAt - время доставки.
	DeliveredAt time.Time
}

// Sender доставляет сообщения. Ошибка доставки оборачивает
// shared.ErrNotificationDeliveryFailed, а удалённый из чата бот -
// shared.ErrForbidden.
type Sender interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}
