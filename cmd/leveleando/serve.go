package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leveleando/leveleando-tg/config"
	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/external/telegram"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/messaging"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/persistence/redis"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/scheduler"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/scheduler/jobs"
	"github.com/leveleando/leveleando-tg/internal/infrastructure/service"
	httpserver "github.com/leveleando/leveleando-tg/internal/interface/http"
	tgbot "github.com/leveleando/leveleando-tg/internal/interface/telegram"
	"github.com/leveleando/leveleando-tg/internal/interface/telegram/presenter"
)

var errUpdatesClosed = errors.New("telegram: update stream closed")

// serve wires every component and runs them until ctx ends.
func serve(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()
	log.Info("starting LeveleandoTG",
		"version", cfg.App.Version,
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Storage
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg, log, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := newCore(cfg, st, log)
	if err != nil {
		return err
	}
	gains, err := gainRange(cfg.Activity)
	if err != nil {
		return fmt.Errorf("activity gains: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Telegram client
	// ─────────────────────────────────────────────────────────────────────────
	client, err := telegram.NewClient(telegram.ClientConfig{
		Token:         cfg.Telegram.Token,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		Timeout:       cfg.Telegram.RequestTimeout,
		PollTimeout:   cfg.Telegram.PollTimeout,
		RetryAttempts: cfg.Telegram.RetryAttempts,
		SendTimeout:   cfg.Telegram.SendTimeout,
		RateLimit: telegram.RateLimiterConfig{
			RequestsPerSecond: cfg.Telegram.RateLimit,
			Burst:             cfg.Telegram.RateBurst,
		},
		Logger: log,
		Debug:  cfg.App.Debug,
	}, nil)
	if err != nil {
		return err
	}

	// Names: Redis first, then getChatMember. A nil cache must stay a nil
	// interface for the resolver to skip it.
	var nameStore service.NameStore
	if st.cache != nil {
		nameStore = redis.NewNameCache(st.cache)
	}
	names := service.NewNameResolver(nameStore, client, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Application handlers
	// ─────────────────────────────────────────────────────────────────────────
	activity := eventhandler.NewOnActivityHandler(st.chats, c.months, c.ledger, client, eventhandler.ActivityConfig{
		Gains:     gains,
		Formatter: presenter.LevelUpFormatter{},
		Names:     names,
		Metrics:   c.metrics,
		Clock:     c.clock,
		Logger:    log,
	})

	router := tgbot.NewRouter(client, tgbot.RouterDeps{
		Chats:        st.chats,
		Leaderboards: c.leaderboards(st, names, log),
		Profiles:     c.profiles(st, log),
		Configure:    c.configure,
	}, tgbot.RouterConfig{
		PageSize: cfg.Activity.PageSize,
		MaxLevel: c.leveler.MaxLevel(),
		Logger:   log,
		Debug:    cfg.App.Debug,
	})

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		Shards:         cfg.Activity.Shards,
		QueueSize:      cfg.Activity.QueueSize,
		JobTimeout:     cfg.Activity.JobTimeout,
		DeadLetterSize: messaging.DefaultDispatcherConfig().DeadLetterSize,
		Metrics:        c.metrics,
		Logger:         log,
	})
	dispatcher.Use(messaging.LoggingMiddleware(log, 2*time.Second))

	bot, err := tgbot.NewBot(tgbot.BotConfig{
		MaxConcurrentUpdates:    cfg.Telegram.MaxConcurrentUpdates,
		DropPendingUpdates:      cfg.Telegram.DropPendingUpdates,
		Announce:                cfg.Telegram.Announce,
		GracefulShutdownTimeout: cfg.App.ShutdownTimeout,
		Logger:                  log,
		Debug:                   cfg.App.Debug,
	}, tgbot.BotDependencies{
		Gateway:    client,
		Router:     router,
		Activity:   activity,
		Dispatcher: dispatcher,
		Chats:      chatDirectory{chats: st.chats, configure: c.configure},
	})
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		var locker scheduler.Locker
		if st.cache != nil {
			locker = st.cache
		}
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Location:   cfg.App.Location(),
			JobTimeout: cfg.Scheduler.JobTimeout,
			Locker:     locker,
			LeaseTTL:   cfg.Scheduler.LeaseTTL,
			Logger:     log,
		})
		if err := sched.Register(jobs.NewMonthlyRolloverJob(c.months, log), cfg.Scheduler.RolloverSpec); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ShutdownTimeout = cfg.App.ShutdownTimeout
	httpDeps := httpserver.Dependencies{Probes: st.probes, Logger: log}
	if cfg.Observability.MetricsEnabled {
		httpDeps.Metrics = c.metrics.Handler()
	}
	server := httpserver.NewServer(httpCfg, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Run
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		if err := bot.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errUpdatesClosed
		}
		return nil
	})

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.App.ShutdownTimeout)
			defer cancel()
			return sched.Stop(stopCtx)
		})
	}

	log.Info("LeveleandoTG is running", "http_address", httpCfg.Address())

	err = g.Wait()
	if err != nil {
		log.Error("shutdown with error", "error", err)
		return err
	}
	log.Info("shutdown completed")
	return nil
}
