package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/leveleando/leveleando-tg/config"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/postgres"
	"github.com/leveleando/leveleando-tg/pkg/retry"
)

type migrateMode int

const (
	migrateUp migrateMode = iota
	migrateDown
	migrateStatus
)

// runMigrate applies pending migrations, rolls back the last one, or only
// lists them. The status table is printed in every mode.
func runMigrate(ctx context.Context, cfg *config.Config, out io.Writer, mode migrateMode) error {
	if !cfg.UsesPostgres() {
		return errNoDatabase
	}

	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	switch mode {
	case migrateUp:
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", applied)
	case migrateDown:
		if err := migrator.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "rolled back the last migration")
	}

	list, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range list {
		applied := "-"
		if m.IsApplied {
			applied = m.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return w.Flush()
}

// runRollover closes the previous month without waiting for the schedule.
// It is idempotent: chats already rolled over are left alone.
func runRollover(ctx context.Context, cfg *config.Config, out io.Writer, chatID int64) error {
	log := slog.Default()

	st, err := openStorage(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := newCore(cfg, st, log)
	if err != nil {
		return err
	}

	if chatID == 0 {
		res, err := c.months.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled over %d chat(s), %d failed\n", res.Chats-res.Failed, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("rollover failed for %d chat(s)", res.Failed)
		}
		return nil
	}

	id := shared.ChatID(chatID)
	month, err := retry.DoWithData(ctx, func(ctx context.Context) (shared.MonthTag, error) {
		return c.months.EnsureCurrentMonth(ctx, id)
	}, retry.WithMaxAttempts(3), retry.WithRetryIf(shared.IsRetryable))
	if err != nil {
		return fmt.Errorf("rollover chat %d: %w", chatID, err)
	}
	fmt.Fprintf(out, "chat %d is on %s\n", chatID, month)
	return nil
}
