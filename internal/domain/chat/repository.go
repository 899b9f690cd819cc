package chat

import (
	"context"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// Repository - хранилище настроек чатов и наград.
type Repository interface {
	// Get возвращает настройки или ErrChatNotConfigured.
	Get(ctx context.Context, chatID shared.ChatID) (Config, error)

	// List возвращает все настроенные чаты.
	List(ctx context.Context) ([]Config, error)

	// Register создаёт настройки, если их нет, и возвращает актуальные.
	Register(ctx context.Context, cfg Config) (Config, error)

	// SetAlertThread меняет тему уведомлений. nil - основной поток.
	SetAlertThread(ctx context.Context, chatID shared.ChatID, thread *int) error

	// Delete удаляет настройки чата.
	Delete(ctx context.Context, chatID shared.ChatID) error

	// GetReward возвращает награду за уровень или ErrRewardNotFound.
	GetReward(ctx context.Context, chatID shared.ChatID, level int) (Reward, error)

	// SetReward создаёт или заменяет награду.
	SetReward(ctx context.Context, reward Reward) error

	// GetHistory возвращает историю пользователя; отсутствие - нулевая статистика.
	GetHistory(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (HistoryStat, error)
}

// RolloverStore - атомарные шаги месячного сброса.
type RolloverStore interface {
	// ClaimRollover одной условной записью переводит LastRolloverMonth из
	// observed в next, увеличивает MonthsElapsed и фиксирует тройку лидеров
	// закрываемого месяца. false - сброс уже захвачен другим.
	ClaimRollover(ctx context.Context, chatID shared.ChatID, observed, next shared.MonthTag) (bool, error)

	// CreditStandings зачисляет незачисленные места в историю и возвращает,
	// сколько зачислено сейчас.
	CreditStandings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int, error)

	// ResetMonthly обнуляет месячный трек у всех записей с месяцем раньше month.
	ResetMonthly(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int64, error)

	// CompleteRollover отмечает сброс завершённым.
	CompleteRollover(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) error

	// Standings возвращает зафиксированную тройку сброса.
	Standings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) ([]Standing, error)
}
