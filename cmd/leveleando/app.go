package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leveleando/leveleando-tg/config"
	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/application/query"
	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/metrics"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/memory"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/postgres"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/redis"
	httpserver "github.com/leveleando/leveleando-tg/internal/interface/http"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// storage is the set of ports one backend provides.
type storage struct {
	records  progress.Repository
	ranking  progress.Ranking
	chats    chat.Repository
	rollover chat.RolloverStore

	db     *postgres.Connection
	cache  *redis.Cache
	probes map[string]httpserver.Probe
}

func (s *storage) Close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func postgresConfig(cfg *config.Config) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.Database.URL
	pg.MaxConns = cfg.Database.MaxConns
	pg.MinConns = cfg.Database.MinConns
	pg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	pg.ConnectTimeout = cfg.Database.ConnectTimeout
	pg.QueryTimeout = cfg.Database.QueryTimeout
	return pg
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// openStorage connects PostgreSQL when configured and falls back to the
// in-memory store otherwise. Redis is optional; a failed connection only
// disables the name cache and the sweep lease.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*storage, error) {
	st := &storage{probes: map[string]httpserver.Probe{}}

	if cfg.UsesPostgres() {
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		st.db = conn
		st.probes["postgres"] = conn.Ping

		if migrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
			log.Info("migrations applied", "count", applied)
		}

		chats := postgres.NewChatRepository(conn)
		records := postgres.NewProgressRepository(conn)
		st.records, st.ranking = records, records
		st.chats, st.rollover = chats, chats
		log.Info("using postgres storage")
	} else {
		mem := memory.NewStore()
		st.records, st.ranking = mem, mem
		st.chats, st.rollover = mem.Chats(), mem
		log.Warn("DATABASE_URL not set, progress lives in memory and is lost on restart")
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			log.Warn("redis unavailable, name cache and sweep lease disabled", "error", err)
		} else {
			st.cache = cache
			st.probes["redis"] = cache.Ping
			log.Info("redis connection established")
		}
	}
	return st, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION LAYER
// ══════════════════════════════════════════════════════════════════════════════

// core holds the application handlers shared by serve and rollover.
type core struct {
	clock   timeutil.Clock
	leveler *leveling.Leveler
	metrics *metrics.Metrics

	months    *command.EnsureMonthHandler
	ledger    *command.ApplyGainHandler
	configure *command.ConfigureChatHandler
}

func newLeveler(cfg config.LevelingConfig) (*leveling.Leveler, error) {
	policy, err := leveling.PolicyByName(cfg.Policy, cfg.Base, cfg.Step, cfg.Table)
	if err != nil {
		return nil, err
	}
	return leveling.NewLeveler(policy,
		leveling.WithMaxLevel(cfg.MaxLevel),
		leveling.WithChain(cfg.ChainLevelUps),
	)
}

func newCore(cfg *config.Config, st *storage, log *slog.Logger) (*core, error) {
	leveler, err := newLeveler(cfg.Leveling)
	if err != nil {
		return nil, fmt.Errorf("leveling: %w", err)
	}

	c := &core{
		clock:   timeutil.NewSystemClock(cfg.App.Location()),
		leveler: leveler,
		metrics: metrics.New(),
	}
	c.months = command.NewEnsureMonthHandler(st.chats, st.rollover, command.EnsureMonthConfig{
		Clock:   c.clock,
		Metrics: c.metrics,
		Logger:  log,
	})
	c.ledger = command.NewApplyGainHandler(st.records, leveler, command.ApplyGainConfig{
		MaxAttempts: cfg.Activity.MaxCASAttempts,
		Clock:       c.clock,
		Metrics:     c.metrics,
		Logger:      log,
	})
	c.configure = command.NewConfigureChatHandler(st.chats, c.clock, leveler.MaxLevel(), log)
	return c, nil
}

func (c *core) leaderboards(st *storage, names query.NameResolver, log *slog.Logger) *query.GetLeaderboardHandler {
	return query.NewGetLeaderboardHandler(st.ranking, c.months, names, c.clock, log)
}

func (c *core) profiles(st *storage, log *slog.Logger) *query.GetProfileHandler {
	return query.NewGetProfileHandler(st.records, st.ranking, st.chats, c.months, c.leveler, c.clock, log)
}

func gainRange(cfg config.ActivityConfig) (eventhandler.GainRange, error) {
	g := eventhandler.GainRange{
		TextMin:  cfg.TextMin,
		TextMax:  cfg.TextMax,
		MediaMin: cfg.MediaMin,
		MediaMax: cfg.MediaMax,
	}
	return g, g.Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// chatDirectory lists chats from the repository and removes them through
// the configuration handler so removals are logged in one place.
type chatDirectory struct {
	chats     chat.Repository
	configure *command.ConfigureChatHandler
}

func (d chatDirectory) List(ctx context.Context) ([]chat.Config, error) {
	return d.chats.List(ctx)
}

func (d chatDirectory) RemoveChat(ctx context.Context, chatID shared.ChatID) error {
	return d.configure.RemoveChat(ctx, chatID)
}

// errNoDatabase is returned by commands that need PostgreSQL.
var errNoDatabase = errors.New("DATABASE_URL is not set")
