package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progress",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_chat_config",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_rollover_history",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- One row per (chat, user). Both tracks live in the same row and move
-- together under the version column.
CREATE TABLE IF NOT EXISTS progress (
    chat_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    xp_monthly INTEGER NOT NULL DEFAULT 0,
    level_monthly INTEGER NOT NULL DEFAULT 0,
    xp_lifetime INTEGER NOT NULL DEFAULT 0,
    level_lifetime INTEGER NOT NULL DEFAULT 0,
    month_tag CHAR(7) NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    last_event_id TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (chat_id, user_id),

    CONSTRAINT valid_xp CHECK (xp_monthly >= 0 AND xp_lifetime >= 0),
    CONSTRAINT valid_level CHECK (level_monthly >= 0 AND level_lifetime >= 0),
    CONSTRAINT valid_month CHECK (month_tag ~ '^[0-9]{4}-[0-9]{2}$')
);

CREATE INDEX IF NOT EXISTS idx_progress_monthly_rank
    ON progress(chat_id, month_tag, level_monthly DESC, xp_monthly DESC, user_id);
CREATE INDEX IF NOT EXISTS idx_progress_lifetime_rank
    ON progress(chat_id, level_lifetime DESC, xp_lifetime DESC, user_id);
`

const migration001Down = `
DROP TABLE IF EXISTS progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CHAT CONFIG & REWARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS chat_config (
    chat_id BIGINT PRIMARY KEY,
    alert_thread INTEGER,
    months_elapsed INTEGER NOT NULL DEFAULT 0,
    last_rollover_month CHAR(7) NOT NULL,
    completed_rollover_month CHAR(7) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_thread CHECK (alert_thread IS NULL OR alert_thread > 0)
);

CREATE TABLE IF NOT EXISTS level_rewards (
    chat_id BIGINT NOT NULL,
    level INTEGER NOT NULL,
    reward_text TEXT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (chat_id, level),

    CONSTRAINT valid_reward_level CHECK (level >= 1),
    CONSTRAINT non_empty_reward CHECK (length(reward_text) > 0)
);
`

const migration002Down = `
DROP TABLE IF EXISTS level_rewards;
DROP TABLE IF EXISTS chat_config;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ROLLOVER HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Top-3 of each closed month, written in the same transaction as the claim.
CREATE TABLE IF NOT EXISTS rollover_standings (
    chat_id BIGINT NOT NULL,
    rollover_month CHAR(7) NOT NULL,
    user_id BIGINT NOT NULL,
    position SMALLINT NOT NULL,
    level INTEGER NOT NULL,
    xp INTEGER NOT NULL,
    credited BOOLEAN NOT NULL DEFAULT FALSE,

    PRIMARY KEY (chat_id, rollover_month, user_id),

    CONSTRAINT valid_position CHECK (position BETWEEN 1 AND 3)
);

CREATE TABLE IF NOT EXISTS history_stats (
    chat_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    top3_count INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (chat_id, user_id),

    CONSTRAINT valid_top3 CHECK (top3_count >= 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS history_stats;
DROP TABLE IF EXISTS rollover_standings;
`
