// Package scheduler runs periodic jobs on cron expressions. When several
// replicas run the same schedule, a shared lease lets only one of them
// execute each tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/leveleando/leveleando-tg/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of scheduled work.
type Job interface {
	// Name is unique within a scheduler and names the lease.
	Name() string

	// Run executes the job. ctx is cancelled on timeout or shutdown.
	Run(ctx context.Context) error

	Description() string
}

// Locker is a cross-process lease. Acquire returns false when another
// holder owns key.
type Locker interface {
	AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, token string) error
}

// JobResult describes one execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Skipped     bool
	Error       error
}

// Success reports whether the run finished without error.
func (r JobResult) Success() bool { return r.Error == nil && !r.Skipped }

var (
	ErrJobNotFound   = errors.New("scheduler: job not found")
	ErrJobExists     = errors.New("scheduler: job already registered")
	ErrLeaseNotHeld  = errors.New("scheduler: lease held by another replica")
	ErrAlreadyActive = errors.New("scheduler: already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	// Location interprets cron expressions. Nil means UTC.
	Location *time.Location

	// JobTimeout bounds one run.
	JobTimeout time.Duration

	// Locker is optional; nil runs every tick locally.
	Locker Locker

	// LeaseTTL must exceed JobTimeout so the lease outlives a slow run.
	LeaseTTL time.Duration

	// HistorySize bounds the kept JobResults.
	HistorySize int

	Logger *slog.Logger
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Location:    time.UTC,
		JobTimeout:  5 * time.Minute,
		LeaseTTL:    10 * time.Minute,
		HistorySize: 50,
	}
}

type entry struct {
	job     Job
	spec    string
	id      cron.EntryID
	running sync.Mutex
}

// Scheduler runs registered jobs on their cron specs.
type Scheduler struct {
	cfg    SchedulerConfig
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	history []JobResult
	ctx     context.Context
	cancel  context.CancelFunc
	active  bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	return &Scheduler{
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		logger:  logger.OrDefault(cfg.Logger).With(logger.Component("scheduler")),
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Register schedules job on a standard five-field cron spec.
func (s *Scheduler) Register(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[job.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name())
	}

	e := &entry{job: job, spec: spec}
	id, err := s.cron.AddFunc(spec, func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		s.runEntry(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: invalid spec %q: %w", job.Name(), spec, err)
	}
	e.id = id
	s.entries[job.Name()] = e

	s.logger.Info("job registered", "job", job.Name(), "spec", spec)
	return nil
}

// Start begins ticking. Runs started afterwards see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.active = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries), "location", s.cfg.Location.String())
	return nil
}

// Stop cancels in-flight runs and waits for them, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a registered job immediately, honoring the lease.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.runEntry(ctx, e)
	if res.Skipped {
		return res, ErrLeaseNotHeld
	}
	return res, res.Error
}

// runEntry runs e at most once per process at a time and, with a Locker,
// at most once across replicas.
func (s *Scheduler) runEntry(ctx context.Context, e *entry) JobResult {
	name := e.job.Name()
	res := JobResult{JobName: name, StartedAt: time.Now()}

	if !e.running.TryLock() {
		s.logger.Warn("job still running, tick skipped", "job", name)
		res.Skipped = true
		return s.finish(res)
	}
	defer e.running.Unlock()

	if s.cfg.Locker != nil {
		key := "job:" + name
		token := uuid.NewString()
		ok, err := s.cfg.Locker.AcquireLease(ctx, key, token, s.cfg.LeaseTTL)
		if err != nil {
			res.Error = fmt.Errorf("acquire lease: %w", err)
			s.logger.Error("job lease failed", "job", name, logger.Err(err))
			return s.finish(res)
		}
		if !ok {
			s.logger.Debug("job lease held elsewhere", "job", name)
			res.Skipped = true
			return s.finish(res)
		}
		defer func() {
			if err := s.cfg.Locker.ReleaseLease(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger.Warn("job lease release failed", "job", name, logger.Err(err))
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	res.Error = s.safeRun(runCtx, e.job)
	if res.Error != nil {
		s.logger.Error("job failed", "job", name, logger.Err(res.Error))
	} else {
		s.logger.Info("job completed", "job", name, "duration", time.Since(res.StartedAt))
	}
	return s.finish(res)
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) finish(res JobResult) JobResult {
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)

	s.mu.Lock()
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Spec        string
	NextRun     time.Time
	PrevRun     time.Time
}

// ListJobs returns every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, JobInfo{
			Name:        e.job.Name(),
			Description: e.job.Description(),
			Spec:        e.spec,
			NextRun:     ce.Next,
			PrevRun:     ce.Prev,
		})
	}
	return out
}

// History returns up to limit recent results, newest last. limit <= 0 returns all.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]JobResult, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}
