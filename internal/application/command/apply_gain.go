// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY GAIN COMMAND
// The progress ledger: deposits XP on both tracks of a (chat, user) record
// and reports which tracks leveled up. Writes are compare-and-swap on the
// record version, so concurrent deposits for one key never lose a gain and
// never report the same level-up twice.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxCASAttempts bounds the read-modify-write loop.
const DefaultMaxCASAttempts = 16

// ApplyGainCommand contains one XP deposit.
type ApplyGainCommand struct {
	ChatID shared.ChatID
	UserID shared.UserID
	Amount int

	// Month is the month the deposit belongs to. Zero means "now".
	Month shared.MonthTag

	// EventID identifies the activity. A redelivered event whose id matches
	// the record's last applied event is a no-op.
	EventID string
}

// Validate validates the command.
func (c ApplyGainCommand) Validate() error {
	key := progress.Key{ChatID: c.ChatID, UserID: c.UserID}
	if err := key.Validate(); err != nil {
		return err
	}
	if c.Amount < 0 {
		return shared.ErrNegativeGain
	}
	if !c.Month.IsZero() && !c.Month.IsValid() {
		return shared.NewDomainError("progress", "ApplyGain", shared.ErrInvalidFormat, "month tag must be YYYY-MM")
	}
	return nil
}

// ApplyGainResult contains the committed record and the level-ups it caused.
type ApplyGainResult struct {
	Record   progress.Record
	LevelUps []progress.LevelUpEvent

	// Attempts is how many read-modify-write rounds were needed.
	Attempts int

	// Duplicate is set when the event had already been applied.
	Duplicate bool
}

// LeveledUp reports whether any track gained a level.
func (r *ApplyGainResult) LeveledUp() bool {
	return len(r.LevelUps) > 0
}

// LedgerMetrics receives ledger counters.
type LedgerMetrics interface {
	CASConflict()
	XPGranted(amount int)
	LevelUp(track string, levels int)
}

type nopLedgerMetrics struct{}

func (nopLedgerMetrics) CASConflict()        {}
func (nopLedgerMetrics) XPGranted(int)       {}
func (nopLedgerMetrics) LevelUp(string, int) {}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyGainConfig configures the ledger.
type ApplyGainConfig struct {
	MaxAttempts int
	Clock       timeutil.Clock
	Metrics     LedgerMetrics
	Logger      *slog.Logger
}

// ApplyGainHandler handles ApplyGainCommand.
type ApplyGainHandler struct {
	repo        progress.Repository
	leveler     *leveling.Leveler
	maxAttempts int
	clock       timeutil.Clock
	metrics     LedgerMetrics
	logger      *slog.Logger
}

// NewApplyGainHandler creates a new ApplyGainHandler.
func NewApplyGainHandler(repo progress.Repository, leveler *leveling.Leveler, cfg ApplyGainConfig) *ApplyGainHandler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxCASAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewSystemClock(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopLedgerMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ApplyGainHandler{
		repo:        repo,
		leveler:     leveler,
		maxAttempts: cfg.MaxAttempts,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "ledger"),
	}
}

// Handle applies the deposit. The returned record is exactly what was
// committed. Storage failures surface as shared.ErrStorageUnavailable and
// leave the stored record untouched.
func (h *ApplyGainHandler) Handle(ctx context.Context, cmd ApplyGainCommand) (*ApplyGainResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_gain: %w", err)
	}

	month := cmd.Month
	if month.IsZero() {
		month = shared.MonthOf(h.clock.Now())
	}
	key := progress.Key{ChatID: cmd.ChatID, UserID: cmd.UserID}

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		current, err := h.repo.Get(ctx, key)
		switch {
		case err == nil:
		case shared.IsNotFound(err):
			current = progress.NewRecord(key, month)
		default:
			return nil, fmt.Errorf("apply_gain: load %s: %w", key, err)
		}

		if cmd.EventID != "" && current.LastEventID == cmd.EventID {
			return &ApplyGainResult{Record: current, Attempts: attempt, Duplicate: true}, nil
		}

		next, events, err := current.ApplyGain(h.leveler, cmd.Amount, month)
		if err != nil {
			return nil, fmt.Errorf("apply_gain: %s: %w", key, err)
		}
		next.LastEventID = cmd.EventID

		err = h.repo.CompareAndSwap(ctx, next, current.Version)
		if err == nil {
			next.Version = current.Version + 1
			h.metrics.XPGranted(cmd.Amount)
			for _, ev := range events {
				h.metrics.LevelUp(ev.Track.String(), ev.LevelsGained)
			}
			return &ApplyGainResult{Record: next, LevelUps: events, Attempts: attempt}, nil
		}
		if !errors.Is(err, shared.ErrConcurrentModification) {
			return nil, fmt.Errorf("apply_gain: save %s: %w", key, err)
		}

		h.metrics.CASConflict()
		h.logger.Debug("version conflict, retrying",
			"chat_id", cmd.ChatID.Int64(),
			"user_id", cmd.UserID.Int64(),
			"attempt", attempt,
		)
	}

	return nil, shared.WrapError("progress", "ApplyGain", shared.ErrConcurrentModification,
		fmt.Sprintf("gave up after %d conflicting writes", h.maxAttempts), nil)
}

// Leveler returns the leveling rules the ledger applies.
func (h *ApplyGainHandler) Leveler() *leveling.Leveler {
	return h.leveler
}
