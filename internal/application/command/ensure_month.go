package command

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENSURE CURRENT MONTH
// Monthly rollover, claim-then-act:
//   1. claim: one conditional write moves last_rollover_month forward and
//      snapshots the closing month's top three. Only one caller wins.
//   2. credit: each captured standing bumps its user's top-3 counter once.
//   3. wipe: monthly XP/level of records from earlier months go to zero.
//   4. complete: completed_rollover_month catches up.
// A crash after the claim leaves completed_rollover_month behind, and the
// next caller resumes from step 2. Steps 2-4 are idempotent.
// ══════════════════════════════════════════════════════════════════════════════

// RolloverMetrics receives rollover counters.
type RolloverMetrics interface {
	RolloverCompleted(credited int, wiped int64)
}

type nopRolloverMetrics struct{}

func (nopRolloverMetrics) RolloverCompleted(int, int64) {}

// EnsureMonthConfig configures the rollover manager.
type EnsureMonthConfig struct {
	Clock   timeutil.Clock
	Metrics RolloverMetrics
	Logger  *slog.Logger
}

// EnsureMonthHandler runs the monthly rollover for a chat at most once.
type EnsureMonthHandler struct {
	chats   chat.Repository
	store   chat.RolloverStore
	clock   timeutil.Clock
	metrics RolloverMetrics
	logger  *slog.Logger

	// In-process callers for one chat share a single run.
	group singleflight.Group
}

// NewEnsureMonthHandler creates a new EnsureMonthHandler.
func NewEnsureMonthHandler(chats chat.Repository, store chat.RolloverStore, cfg EnsureMonthConfig) *EnsureMonthHandler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewSystemClock(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRolloverMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EnsureMonthHandler{
		chats:   chats,
		store:   store,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "rollover"),
	}
}

// CurrentMonth returns the month tag of the handler's clock.
func (h *EnsureMonthHandler) CurrentMonth() shared.MonthTag {
	return shared.MonthOf(h.clock.Now())
}

// EnsureCurrentMonth makes sure the chat has rolled over into the current
// month and returns that month. Unconfigured chats fail with
// shared.ErrChatNotConfigured.
func (h *EnsureMonthHandler) EnsureCurrentMonth(ctx context.Context, chatID shared.ChatID) (shared.MonthTag, error) {
	month := h.CurrentMonth()
	_, err, _ := h.group.Do(chatID.String()+"/"+month.String(), func() (interface{}, error) {
		return nil, h.ensure(ctx, chatID, month)
	})
	if err != nil {
		return month, err
	}
	return month, nil
}

func (h *EnsureMonthHandler) ensure(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) error {
	cfg, err := h.chats.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("ensure_month: load chat %s: %w", chatID, err)
	}

	switch {
	case cfg.NeedsClaim(month):
		won, err := h.store.ClaimRollover(ctx, chatID, cfg.LastRolloverMonth, month)
		if err != nil {
			return fmt.Errorf("ensure_month: claim %s for %s: %w", month, chatID, err)
		}
		if !won {
			h.logger.Debug("rollover claimed elsewhere", "chat_id", chatID.Int64(), "month", month.String())
			return nil
		}
		h.logger.Info("rollover claimed",
			"chat_id", chatID.Int64(),
			"from", cfg.LastRolloverMonth.String(),
			"to", month.String(),
			"months_elapsed", cfg.MonthsElapsed+1,
		)
		return h.finish(ctx, chatID, month)

	case cfg.NeedsCompletion(month):
		h.logger.Warn("resuming interrupted rollover", "chat_id", chatID.Int64(), "month", month.String())
		return h.finish(ctx, chatID, month)
	}

	return nil
}

func (h *EnsureMonthHandler) finish(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) error {
	credited, err := h.store.CreditStandings(ctx, chatID, month)
	if err != nil {
		return fmt.Errorf("ensure_month: credit standings: %w", err)
	}

	wiped, err := h.store.ResetMonthly(ctx, chatID, month)
	if err != nil {
		return fmt.Errorf("ensure_month: reset monthly: %w", err)
	}

	if err := h.store.CompleteRollover(ctx, chatID, month); err != nil {
		return fmt.Errorf("ensure_month: complete: %w", err)
	}

	h.metrics.RolloverCompleted(credited, wiped)
	h.logger.Info("rollover completed",
		"chat_id", chatID.Int64(),
		"month", month.String(),
		"credited", credited,
		"records_reset", wiped,
	)
	return nil
}

// SweepResult summarizes a rollover pass over all chats.
type SweepResult struct {
	Chats  int
	Failed int
}

// Sweep runs EnsureCurrentMonth for every configured chat. Failures are
// logged and counted; one broken chat does not stop the others.
func (h *EnsureMonthHandler) Sweep(ctx context.Context) (SweepResult, error) {
	configs, err := h.chats.List(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("ensure_month: list chats: %w", err)
	}

	res := SweepResult{Chats: len(configs)}
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := h.EnsureCurrentMonth(ctx, cfg.ChatID); err != nil {
			res.Failed++
			h.logger.Error("rollover failed", "chat_id", cfg.ChatID.Int64(), "error", err)
		}
	}
	return res, nil
}
