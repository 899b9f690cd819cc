// Package query contains read operations following CQRS pattern.
// Queries never modify ledger state - they only read and return data.
// The monthly views may trigger a pending monthly rollover first.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// DefaultPageSize - размер страницы рейтинга.
const DefaultPageSize = 10

// MaxPageSize ограничивает размер страницы.
const MaxPageSize = 50

// MonthEnsurer выполняет отложенный месячный сброс чата.
type MonthEnsurer interface {
	EnsureCurrentMonth(ctx context.Context, chatID shared.ChatID) (shared.MonthTag, error)
}

// NameResolver возвращает отображаемое имя участника чата.
type NameResolver interface {
	DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error)
}

// FallbackName - имя, если участника не удалось найти.
func FallbackName(userID shared.UserID) string {
	return "User " + userID.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Страница рейтинга чата по месячному или историческому треку.
// Порядок: уровень по убыванию, XP по убыванию, затем user_id.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса рейтинга.
type GetLeaderboardQuery struct {
	// ChatID - чат.
	ChatID shared.ChatID

	// Track - трек (по умолчанию месячный).
	Track progress.Track

	// Page - номер страницы с 1; выход за границы приводится к ближайшей.
	Page int

	// PageSize - размер страницы (по умолчанию 10).
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.ChatID.IsValid() {
		return shared.NewDomainError("leaderboard", "Validate", shared.ErrInvalidInput, "chat id is required")
	}
	if q.Track == "" {
		q.Track = progress.TrackMonthly
	}
	if !q.Track.IsValid() {
		return shared.NewDomainError("leaderboard", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown track %q", q.Track))
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return nil
}

// LeaderboardEntryDTO - запись рейтинга.
type LeaderboardEntryDTO struct {
	// Position - место в рейтинге (начиная с 1).
	Position int `json:"position"`

	// UserID - участник.
	UserID shared.UserID `json:"user_id"`

	// DisplayName - имя или "User <id>".
	DisplayName string `json:"display_name"`

	// Level - уровень на треке.
	Level int `json:"level"`

	// XP - XP на текущем уровне.
	XP int `json:"xp"`
}

// GetLeaderboardResult содержит результат запроса рейтинга.
type GetLeaderboardResult struct {
	// Entries - записи страницы.
	Entries []LeaderboardEntryDTO `json:"entries"`

	// Page - фактический номер страницы после ограничения.
	Page int `json:"page"`

	// TotalPages - всего страниц (минимум 1).
	TotalPages int `json:"total_pages"`

	// Total - всего участников.
	Total int `json:"total"`

	// Track - трек рейтинга.
	Track progress.Track `json:"track"`

	// Month - месяц (для месячного трека).
	Month shared.MonthTag `json:"month"`

	// ClosesIn - сколько осталось до закрытия месяца. Только для месячного трека.
	ClosesIn time.Duration `json:"closes_in,omitempty"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// HasPrev - есть предыдущая страница.
func (r *GetLeaderboardResult) HasPrev() bool { return r.Page > 1 }

// HasNext - есть следующая страница.
func (r *GetLeaderboardResult) HasNext() bool { return r.Page < r.TotalPages }

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardHandler обрабатывает запрос рейтинга.
type GetLeaderboardHandler struct {
	ranking progress.Ranking
	months  MonthEnsurer
	names   NameResolver
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewGetLeaderboardHandler создаёт новый обработчик.
func NewGetLeaderboardHandler(
	ranking progress.Ranking,
	months MonthEnsurer,
	names NameResolver,
	clock timeutil.Clock,
	logger *slog.Logger,
) *GetLeaderboardHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		ranking: ranking,
		months:  months,
		names:   names,
		clock:   clock,
		logger:  logger.With("component", "leaderboard"),
	}
}

// Handle выполняет запрос. Количество и страница читаются из одного снимка,
// поэтому номер страницы и TotalPages всегда согласованы с записями.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	month := shared.MonthOf(h.clock.Now())
	if q.Track == progress.TrackMonthly && h.months != nil {
		ensured, err := h.months.EnsureCurrentMonth(ctx, q.ChatID)
		switch {
		case err == nil:
			month = ensured
		case shared.IsNotFound(err):
			// Чат не настроен: показываем то, что есть.
		default:
			return nil, fmt.Errorf("get_leaderboard: ensure month: %w", err)
		}
	}

	records, total, err := h.ranking.Page(ctx, progress.PageQuery{
		ChatID:   q.ChatID,
		Track:    q.Track,
		Month:    month,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: read page: %w", err)
	}

	page, totalPages := progress.ClampPage(q.Page, q.PageSize, total)
	offset := progress.Offset(page, q.PageSize)

	entries := make([]LeaderboardEntryDTO, 0, len(records))
	for i, rec := range records {
		entries = append(entries, LeaderboardEntryDTO{
			Position:    offset + i + 1,
			UserID:      rec.UserID,
			DisplayName: h.resolveName(ctx, q.ChatID, rec.UserID),
			Level:       rec.Level(q.Track),
			XP:          rec.XP(q.Track),
		})
	}

	now := h.clock.Now()
	result := &GetLeaderboardResult{
		Entries:     entries,
		Page:        page,
		TotalPages:  totalPages,
		Total:       total,
		Track:       q.Track,
		Month:       month,
		GeneratedAt: now.UTC(),
	}
	if q.Track == progress.TrackMonthly {
		result.ClosesIn = timeutil.UntilNextMonth(now)
	}
	return result, nil
}

func (h *GetLeaderboardHandler) resolveName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) string {
	if h.names == nil {
		return FallbackName(userID)
	}
	name, err := h.names.DisplayName(ctx, chatID, userID)
	if err != nil || name == "" {
		if err != nil {
			h.logger.Debug("display name lookup failed", "chat_id", chatID.Int64(), "user_id", userID.Int64(), "error", err)
		}
		return FallbackName(userID)
	}
	return name
}
