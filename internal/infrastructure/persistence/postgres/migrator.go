package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// Every replica may run `serve` with AUTO_MIGRATE set, so schema changes are
// applied under a session-level advisory lock: the first replica migrates,
// the rest wait and then find nothing pending.
// ══════════════════════════════════════════════════════════════════════════════

// migrationLockID is an arbitrary constant shared by all replicas.
const migrationLockID int64 = 0x4c564c54

const migrationTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// ErrMigrationFailed wraps the failing step.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one schema step. AppliedAt and IsApplied are filled by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt *time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over GetMigrations, ordered by version.
func NewMigrator(conn *Connection) *Migrator {
	ms := GetMigrations()
	slices.SortFunc(ms, func(a, b Migration) int { return a.Version - b.Version })
	return &Migrator{conn: conn, migrations: ms}
}

// Migrate applies every pending migration, each in its own transaction,
// and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	ran := 0
	err := m.locked(ctx, func(c *pgxpool.Conn) error {
		applied, err := appliedVersions(ctx, c)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			err := pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
					return err
				}
				_, err := tx.Exec(ctx,
					`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
					mig.Version, mig.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %03d_%s: %w", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
			ran++
		}
		return nil
	})
	return ran, err
}

// Rollback reverts the newest applied migration. With nothing applied it
// is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.locked(ctx, func(c *pgxpool.Conn) error {
		applied, err := appliedVersions(ctx, c)
		if err != nil {
			return err
		}
		var mig Migration
		for _, candidate := range slices.Backward(m.migrations) {
			if _, ok := applied[candidate.Version]; ok {
				mig = candidate
				break
			}
		}
		if mig.Version == 0 {
			return nil
		}
		err = pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: rollback %03d_%s: %w", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		return nil
	})
}

// Status lists every known migration with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	c, err := m.conn.Acquire(ctx)
	if err != nil {
		return nil, storageErr("migrator.Status", err)
	}
	defer c.Release()

	if _, err := c.Exec(ctx, migrationTable); err != nil {
		return nil, storageErr("migrator.Status", err)
	}
	applied, err := appliedVersions(ctx, c)
	if err != nil {
		return nil, err
	}

	out := slices.Clone(m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].AppliedAt = &at
			out[i].IsApplied = true
		}
	}
	return out, nil
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(c *pgxpool.Conn) error) error {
	c, err := m.conn.Acquire(ctx)
	if err != nil {
		return storageErr("migrator.lock", err)
	}
	defer c.Release()

	if _, err := c.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return storageErr("migrator.lock", err)
	}
	defer func() {
		_, _ = c.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := c.Exec(ctx, migrationTable); err != nil {
		return storageErr("migrator.lock", err)
	}
	return fn(c)
}

func appliedVersions(ctx context.Context, c *pgxpool.Conn) (map[int]time.Time, error) {
	rows, err := c.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, storageErr("migrator.applied", err)
	}
	type row struct {
		Version   int
		AppliedAt time.Time
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, storageErr("migrator.applied", err)
	}

	out := make(map[int]time.Time, len(list))
	for _, r := range list {
		out[r.Version] = r.AppliedAt
	}
	return out, nil
}
