package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Профиль участника: месячный и исторический прогресс, место в месячном
// рейтинге, сколько XP осталось до следующего уровня.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery содержит параметры запроса профиля.
type GetProfileQuery struct {
	ChatID shared.ChatID
	UserID shared.UserID
}

// ProfileDTO - профиль участника.
type ProfileDTO struct {
	UserID shared.UserID   `json:"user_id"`
	Month  shared.MonthTag `json:"month"`

	XPMonthly        int `json:"xp_monthly"`
	LevelMonthly     int `json:"level_monthly"`
	MonthlyThreshold int `json:"monthly_threshold"`
	XPToNext         int `json:"xp_to_next"`

	XPLifetime    int `json:"xp_lifetime"`
	LevelLifetime int `json:"level_lifetime"`

	// Position - место в месячном рейтинге; 0 - без активности в этом месяце.
	Position int `json:"position"`
	Total    int `json:"total"`

	// Top3Count - сколько месяцев участник закрывал в тройке.
	Top3Count int `json:"top3_count"`

	MaxLevel bool `json:"max_level"`
}

// GetProfileHandler обрабатывает запрос профиля.
type GetProfileHandler struct {
	records progress.Repository
	ranking progress.Ranking
	chats   chat.Repository
	months  MonthEnsurer
	leveler *leveling.Leveler
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewGetProfileHandler создаёт новый обработчик.
func NewGetProfileHandler(
	records progress.Repository,
	ranking progress.Ranking,
	chats chat.Repository,
	months MonthEnsurer,
	leveler *leveling.Leveler,
	clock timeutil.Clock,
	logger *slog.Logger,
) *GetProfileHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetProfileHandler{
		records: records,
		ranking: ranking,
		chats:   chats,
		months:  months,
		leveler: leveler,
		clock:   clock,
		logger:  logger.With("component", "profile"),
	}
}

// Handle выполняет запрос. Пользователь без записи получает нулевой профиль.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileDTO, error) {
	key := progress.Key{ChatID: q.ChatID, UserID: q.UserID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	month := shared.MonthOf(h.clock.Now())
	if h.months != nil {
		ensured, err := h.months.EnsureCurrentMonth(ctx, q.ChatID)
		switch {
		case err == nil:
			month = ensured
		case shared.IsNotFound(err):
		default:
			return nil, fmt.Errorf("get_profile: ensure month: %w", err)
		}
	}

	rec, err := h.records.Get(ctx, key)
	switch {
	case err == nil:
		rec = rec.NormalizeMonth(month)
	case shared.IsNotFound(err):
		rec = progress.NewRecord(key, month)
	default:
		return nil, fmt.Errorf("get_profile: load %s: %w", key, err)
	}

	position, total, err := h.ranking.Position(ctx, key, progress.TrackMonthly, month)
	if err != nil {
		return nil, fmt.Errorf("get_profile: position: %w", err)
	}

	history, err := h.chats.GetHistory(ctx, q.ChatID, q.UserID)
	if err != nil {
		// История не критична для профиля.
		h.logger.Warn("history lookup failed", "chat_id", q.ChatID.Int64(), "user_id", q.UserID.Int64(), "error", err)
	}

	return &ProfileDTO{
		UserID:           q.UserID,
		Month:            month,
		XPMonthly:        rec.XPMonthly,
		LevelMonthly:     rec.LevelMonthly,
		MonthlyThreshold: h.leveler.Threshold(rec.LevelMonthly),
		XPToNext:         h.leveler.XPToNext(rec.XPMonthly, rec.LevelMonthly),
		XPLifetime:       rec.XPLifetime,
		LevelLifetime:    rec.LevelLifetime,
		Position:         position,
		Total:            total,
		Top3Count:        history.Top3Count,
		MaxLevel:         rec.LevelMonthly >= h.leveler.MaxLevel(),
	}, nil
}
