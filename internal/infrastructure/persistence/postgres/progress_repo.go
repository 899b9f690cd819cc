package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository and progress.Ranking.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var (
	_ progress.Repository = (*ProgressRepository)(nil)
	_ progress.Ranking    = (*ProgressRepository)(nil)
)

const progressColumns = `
	chat_id, user_id, xp_monthly, level_monthly, xp_lifetime, level_lifetime,
	month_tag, version, last_event_id, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Ledger
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the record for key or shared.ErrProgressNotFound.
func (r *ProgressRepository) Get(ctx context.Context, key progress.Key) (progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress WHERE chat_id = $1 AND user_id = $2`

	rec, err := scanRecord(r.conn.QueryRow(ctx, query, key.ChatID.Int64(), key.UserID.Int64()))
	if err != nil {
		if IsNoRows(err) {
			return progress.Record{}, shared.ErrProgressNotFound
		}
		return progress.Record{}, storageErr("progress.Get", err)
	}
	return rec, nil
}

// CompareAndSwap writes rec when the stored version equals expectedVersion.
// Version 0 inserts and loses to any row already present.
func (r *ProgressRepository) CompareAndSwap(ctx context.Context, rec progress.Record, expectedVersion int64) error {
	var (
		query string
		args  []any
	)

	if expectedVersion == 0 {
		query = `
			INSERT INTO progress (
				chat_id, user_id, xp_monthly, level_monthly, xp_lifetime, level_lifetime,
				month_tag, version, last_event_id, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, NOW())
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`
		args = []any{
			rec.ChatID.Int64(), rec.UserID.Int64(),
			rec.XPMonthly, rec.LevelMonthly, rec.XPLifetime, rec.LevelLifetime,
			rec.MonthTag.String(), rec.LastEventID,
		}
	} else {
		query = `
			UPDATE progress SET
				xp_monthly = $3,
				level_monthly = $4,
				xp_lifetime = $5,
				level_lifetime = $6,
				month_tag = $7,
				last_event_id = $8,
				version = version + 1,
				updated_at = NOW()
			WHERE chat_id = $1 AND user_id = $2 AND version = $9
		`
		args = []any{
			rec.ChatID.Int64(), rec.UserID.Int64(),
			rec.XPMonthly, rec.LevelMonthly, rec.XPLifetime, rec.LevelLifetime,
			rec.MonthTag.String(), rec.LastEventID, expectedVersion,
		}
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return storageErr("progress.CompareAndSwap", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ranking
// ─────────────────────────────────────────────────────────────────────────────

// rankFilter returns the WHERE clause and ORDER BY for a track.
// $1 is the chat id and, for the monthly track, $2 is the month.
func rankFilter(track progress.Track) (where, order string) {
	if track == progress.TrackMonthly {
		return `chat_id = $1 AND month_tag = $2 AND (xp_monthly > 0 OR level_monthly > 0)`,
			`level_monthly DESC, xp_monthly DESC, user_id ASC`
	}
	return `chat_id = $1 AND (xp_lifetime > 0 OR level_lifetime > 0)`,
		`level_lifetime DESC, xp_lifetime DESC, user_id ASC`
}

func rankArgs(chatID shared.ChatID, track progress.Track, month shared.MonthTag) []any {
	if track == progress.TrackMonthly {
		return []any{chatID.Int64(), month.String()}
	}
	return []any{chatID.Int64()}
}

// Page reads the total and the clamped page inside one snapshot.
func (r *ProgressRepository) Page(ctx context.Context, q progress.PageQuery) ([]progress.Record, int, error) {
	where, order := rankFilter(q.Track)
	base := rankArgs(q.ChatID, q.Track, q.Month)

	var (
		entries []progress.Record
		total   int
	)
	err := r.conn.WithTx(ctx, SnapshotTxOptions(), func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM progress WHERE `+where, base...).Scan(&total); err != nil {
			return fmt.Errorf("count ranking: %w", err)
		}

		page, _ := progress.ClampPage(q.Page, q.PageSize, total)
		n := len(base)
		query := fmt.Sprintf(`SELECT %s FROM progress WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
			progressColumns, where, order, n+1, n+2)
		args := append(append([]any{}, base...), q.PageSize, progress.Offset(page, q.PageSize))

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("read ranking page: %w", err)
		}
		defer rows.Close()

		entries = make([]progress.Record, 0, q.PageSize)
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			entries = append(entries, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, storageErr("progress.Page", err)
	}
	return entries, total, nil
}

// Position returns the 1-based rank of key and the ranking size.
// A user without activity on the track has position 0.
func (r *ProgressRepository) Position(
	ctx context.Context,
	key progress.Key,
	track progress.Track,
	month shared.MonthTag,
) (int, int, error) {
	where, _ := rankFilter(track)
	base := rankArgs(key.ChatID, track, month)

	levelCol, xpCol := "level_lifetime", "xp_lifetime"
	if track == progress.TrackMonthly {
		levelCol, xpCol = "level_monthly", "xp_monthly"
	}

	var position, total int
	err := r.conn.WithTx(ctx, SnapshotTxOptions(), func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM progress WHERE `+where, base...).Scan(&total); err != nil {
			return fmt.Errorf("count ranking: %w", err)
		}

		n := len(base)
		self := fmt.Sprintf(`SELECT %s, %s FROM progress WHERE %s AND user_id = $%d`, levelCol, xpCol, where, n+1)
		var level, xp int
		err := tx.QueryRow(ctx, self, append(append([]any{}, base...), key.UserID.Int64())...).Scan(&level, &xp)
		if IsNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read own row: %w", err)
		}

		ahead := fmt.Sprintf(`
			SELECT count(*) FROM progress
			WHERE %[1]s AND (
				%[2]s > $%[4]d
				OR (%[2]s = $%[4]d AND %[3]s > $%[5]d)
				OR (%[2]s = $%[4]d AND %[3]s = $%[5]d AND user_id < $%[6]d)
			)`, where, levelCol, xpCol, n+1, n+2, n+3)
		var before int
		args := append(append([]any{}, base...), level, xp, key.UserID.Int64())
		if err := tx.QueryRow(ctx, ahead, args...).Scan(&before); err != nil {
			return fmt.Errorf("count ahead: %w", err)
		}
		position = before + 1
		return nil
	})
	if err != nil {
		return 0, 0, storageErr("progress.Position", err)
	}
	return position, total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanRecord(row pgx.Row) (progress.Record, error) {
	var (
		rec            progress.Record
		chatID, userID int64
		month          string
	)
	err := row.Scan(
		&chatID,
		&userID,
		&rec.XPMonthly,
		&rec.LevelMonthly,
		&rec.XPLifetime,
		&rec.LevelLifetime,
		&month,
		&rec.Version,
		&rec.LastEventID,
		&rec.UpdatedAt,
	)
	if err != nil {
		return progress.Record{}, err
	}
	rec.ChatID = shared.ChatID(chatID)
	rec.UserID = shared.UserID(userID)
	rec.MonthTag = shared.MonthTag(month)
	return rec, nil
}
