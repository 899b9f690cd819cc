package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHAT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChatRepository implements chat.Repository and chat.RolloverStore.
type ChatRepository struct {
	conn *Connection
}

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(conn *Connection) *ChatRepository {
	return &ChatRepository{conn: conn}
}

var (
	_ chat.Repository    = (*ChatRepository)(nil)
	_ chat.RolloverStore = (*ChatRepository)(nil)
)

const chatColumns = `
	chat_id, alert_thread, months_elapsed, last_rollover_month,
	completed_rollover_month, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the chat settings or shared.ErrChatNotConfigured.
func (r *ChatRepository) Get(ctx context.Context, chatID shared.ChatID) (chat.Config, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_config WHERE chat_id = $1`

	cfg, err := scanConfig(r.conn.QueryRow(ctx, query, chatID.Int64()))
	if err != nil {
		if IsNoRows(err) {
			return chat.Config{}, shared.ErrChatNotConfigured
		}
		return chat.Config{}, storageErr("chat.Get", err)
	}
	return cfg, nil
}

// List returns every configured chat.
func (r *ChatRepository) List(ctx context.Context) ([]chat.Config, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_config ORDER BY chat_id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, storageErr("chat.List", err)
	}
	defer rows.Close()

	var out []chat.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, storageErr("chat.List", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("chat.List", err)
	}
	return out, nil
}

// Register inserts cfg unless the chat exists and returns the stored row.
func (r *ChatRepository) Register(ctx context.Context, cfg chat.Config) (chat.Config, error) {
	query := `
		INSERT INTO chat_config (
			chat_id, alert_thread, months_elapsed, last_rollover_month,
			completed_rollover_month, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		cfg.ChatID.Int64(),
		cfg.AlertThread,
		cfg.MonthsElapsed,
		cfg.LastRolloverMonth.String(),
		cfg.CompletedRolloverMonth.String(),
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return chat.Config{}, storageErr("chat.Register", err)
	}
	return r.Get(ctx, cfg.ChatID)
}

// SetAlertThread changes the notification thread. nil clears it.
func (r *ChatRepository) SetAlertThread(ctx context.Context, chatID shared.ChatID, thread *int) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE chat_config SET alert_thread = $2, updated_at = NOW() WHERE chat_id = $1`,
		chatID.Int64(), thread,
	)
	if err != nil {
		return storageErr("chat.SetAlertThread", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrChatNotConfigured
	}
	return nil
}

// Delete removes the chat settings. Progress, rewards and history stay.
func (r *ChatRepository) Delete(ctx context.Context, chatID shared.ChatID) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM chat_config WHERE chat_id = $1`, chatID.Int64()); err != nil {
		return storageErr("chat.Delete", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Rewards & History
// ─────────────────────────────────────────────────────────────────────────────

// GetReward returns the reward text for a level or shared.ErrRewardNotFound.
func (r *ChatRepository) GetReward(ctx context.Context, chatID shared.ChatID, level int) (chat.Reward, error) {
	reward := chat.Reward{ChatID: chatID, Level: level}
	err := r.conn.QueryRow(ctx,
		`SELECT reward_text FROM level_rewards WHERE chat_id = $1 AND level = $2`,
		chatID.Int64(), level,
	).Scan(&reward.Text)
	if err != nil {
		if IsNoRows(err) {
			return chat.Reward{}, shared.ErrRewardNotFound
		}
		return chat.Reward{}, storageErr("chat.GetReward", err)
	}
	return reward, nil
}

// SetReward creates or replaces the reward for a level.
func (r *ChatRepository) SetReward(ctx context.Context, reward chat.Reward) error {
	query := `
		INSERT INTO level_rewards (chat_id, level, reward_text, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chat_id, level) DO UPDATE SET
			reward_text = EXCLUDED.reward_text,
			updated_at = NOW()
	`
	if _, err := r.conn.Exec(ctx, query, reward.ChatID.Int64(), reward.Level, reward.Text); err != nil {
		return storageErr("chat.SetReward", err)
	}
	return nil
}

// GetHistory returns the user's top-3 count. A missing row is a zero count.
func (r *ChatRepository) GetHistory(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (chat.HistoryStat, error) {
	stat := chat.HistoryStat{ChatID: chatID, UserID: userID}
	err := r.conn.QueryRow(ctx,
		`SELECT top3_count FROM history_stats WHERE chat_id = $1 AND user_id = $2`,
		chatID.Int64(), userID.Int64(),
	).Scan(&stat.Top3Count)
	if err != nil && !IsNoRows(err) {
		return chat.HistoryStat{}, storageErr("chat.GetHistory", err)
	}
	return stat, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Rollover
// ─────────────────────────────────────────────────────────────────────────────

// ClaimRollover moves last_rollover_month from observed to next and writes
// the top-3 of rows tagged observed in the same transaction. Rows tagged
// with any other month never rank. The conditional UPDATE takes the row
// lock, so a concurrent claimer re-reads the new month and matches nothing.
func (r *ChatRepository) ClaimRollover(ctx context.Context, chatID shared.ChatID, observed, next shared.MonthTag) (bool, error) {
	claimed := false
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE chat_config SET
				last_rollover_month = $3,
				months_elapsed = months_elapsed + 1,
				updated_at = NOW()
			WHERE chat_id = $1 AND last_rollover_month = $2
		`, chatID.Int64(), observed.String(), next.String())
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM chat_config WHERE chat_id = $1)`, chatID.Int64(),
			).Scan(&exists); err != nil {
				return fmt.Errorf("check chat: %w", err)
			}
			if !exists {
				return shared.ErrChatNotConfigured
			}
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO rollover_standings (chat_id, rollover_month, user_id, position, level, xp, credited)
			SELECT chat_id, $2, user_id,
				row_number() OVER (ORDER BY level_monthly DESC, xp_monthly DESC, user_id ASC),
				level_monthly, xp_monthly, FALSE
			FROM progress
			WHERE chat_id = $1 AND month_tag = $3 AND (xp_monthly > 0 OR level_monthly > 0)
			ORDER BY level_monthly DESC, xp_monthly DESC, user_id ASC
			LIMIT $4
			ON CONFLICT (chat_id, rollover_month, user_id) DO NOTHING
		`, chatID.Int64(), next.String(), observed.String(), chat.TopN)
		if err != nil {
			return fmt.Errorf("snapshot standings: %w", err)
		}

		claimed = true
		return nil
	})
	if err != nil {
		return false, storageErr("chat.ClaimRollover", err)
	}
	return claimed, nil
}

// CreditStandings marks uncredited standings and bumps history in one
// statement. A standing is credited at most once.
func (r *ChatRepository) CreditStandings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		WITH credited AS (
			UPDATE rollover_standings SET credited = TRUE
			WHERE chat_id = $1 AND rollover_month = $2 AND NOT credited
			RETURNING user_id
		)
		INSERT INTO history_stats (chat_id, user_id, top3_count)
		SELECT $1, user_id, 1 FROM credited
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			top3_count = history_stats.top3_count + 1
	`, chatID.Int64(), month.String())
	if err != nil {
		return 0, storageErr("chat.CreditStandings", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetMonthly zeroes the monthly track of every row older than month.
func (r *ChatRepository) ResetMonthly(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE progress SET
			xp_monthly = 0,
			level_monthly = 0,
			month_tag = $2,
			version = version + 1,
			updated_at = NOW()
		WHERE chat_id = $1 AND month_tag < $2
	`, chatID.Int64(), month.String())
	if err != nil {
		return 0, storageErr("chat.ResetMonthly", err)
	}
	return tag.RowsAffected(), nil
}

// CompleteRollover records that the rollover into month finished.
func (r *ChatRepository) CompleteRollover(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE chat_config SET completed_rollover_month = $2, updated_at = NOW() WHERE chat_id = $1`,
		chatID.Int64(), month.String(),
	)
	if err != nil {
		return storageErr("chat.CompleteRollover", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrChatNotConfigured
	}
	return nil
}

// Standings returns the top-3 captured for a rollover month.
func (r *ChatRepository) Standings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) ([]chat.Standing, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, position, level, xp, credited
		FROM rollover_standings
		WHERE chat_id = $1 AND rollover_month = $2
		ORDER BY position
	`, chatID.Int64(), month.String())
	if err != nil {
		return nil, storageErr("chat.Standings", err)
	}
	defer rows.Close()

	out := make([]chat.Standing, 0, chat.TopN)
	for rows.Next() {
		s := chat.Standing{ChatID: chatID, RolloverMonth: month}
		var userID int64
		if err := rows.Scan(&userID, &s.Position, &s.Level, &s.XP, &s.Credited); err != nil {
			return nil, storageErr("chat.Standings", err)
		}
		s.UserID = shared.UserID(userID)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("chat.Standings", err)
	}
	return out, nil
}

func scanConfig(row pgx.Row) (chat.Config, error) {
	var (
		cfg             chat.Config
		chatID          int64
		last, completed string
	)
	err := row.Scan(
		&chatID,
		&cfg.AlertThread,
		&cfg.MonthsElapsed,
		&last,
		&completed,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return chat.Config{}, err
	}
	cfg.ChatID = shared.ChatID(chatID)
	cfg.LastRolloverMonth = shared.MonthTag(last)
	cfg.CompletedRolloverMonth = shared.MonthTag(completed)
	return cfg, nil
}
