// Package messaging runs inbound chat work on a fixed set of ordered shards.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYED DISPATCHER
// Jobs with the same key land on the same shard and run in arrival order.
// Distinct keys run concurrently on different shards. There is no
// process-wide lock: the ledger's compare-and-swap stays the authority, the
// shards only keep one member's messages from racing each other.
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrDispatcherClosed is returned by Submit after shutdown began.
	ErrDispatcherClosed = errors.New("messaging: dispatcher closed")

	// ErrJobPanicked wraps a recovered panic.
	ErrJobPanicked = errors.New("messaging: job panicked")
)

// Job is one unit of work.
type Job struct {
	// ID correlates log lines. Submit fills it when empty.
	ID string

	// Key selects the shard, e.g. "chat:user".
	Key string

	// Name labels metrics and logs.
	Name string

	Run func(ctx context.Context) error
}

// Handler executes a job.
type Handler func(ctx context.Context, job Job) error

// Middleware wraps handler execution.
type Middleware func(Handler) Handler

// Metrics receives dispatcher counters.
type Metrics interface {
	JobFinished(name string, err error, elapsed time.Duration)
	JobRetried(name string)
	JobDeadLettered(name string)
}

type nopMetrics struct{}

func (nopMetrics) JobFinished(string, error, time.Duration) {}
func (nopMetrics) JobRetried(string)                        {}
func (nopMetrics) JobDeadLettered(string)                   {}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Shards is the number of ordered queues.
	Shards int

	// QueueSize bounds each shard; Submit blocks while a shard is full.
	QueueSize int

	// JobTimeout bounds one attempt. Zero disables it.
	JobTimeout time.Duration

	// Retrier re-runs jobs whose error passes shared.IsRetryable.
	Retrier *retry.Retrier

	// DeadLetterSize bounds the failed-job buffer. Zero disables it.
	DeadLetterSize int

	Metrics Metrics
	Logger  *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Shards:         16,
		QueueSize:      256,
		JobTimeout:     30 * time.Second,
		DeadLetterSize: 100,
	}
}

// Dispatcher fans jobs out to keyed shards.
type Dispatcher struct {
	shards      []chan Job
	middlewares []Middleware
	retrier     *retry.Retrier
	jobTimeout  time.Duration
	deadLetters *DeadLetterQueue
	metrics     Metrics
	logger      *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Run to start the shards.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.EventRetrier(retry.WithRetryIf(shared.IsRetryable))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		shards:     make([]chan Job, cfg.Shards),
		retrier:    cfg.Retrier,
		jobTimeout: cfg.JobTimeout,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "dispatcher"),
	}
	for i := range d.shards {
		d.shards[i] = make(chan Job, cfg.QueueSize)
	}
	if cfg.DeadLetterSize > 0 {
		d.deadLetters = NewDeadLetterQueue(cfg.DeadLetterSize)
	}
	return d
}

// Use appends middleware. Must be called before Run.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.middlewares = append(d.middlewares, mw...)
}

// ShardFor returns the shard index for key.
func (d *Dispatcher) ShardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.shards)))
}

// Submit enqueues job on its key's shard. It blocks while the shard is full
// and gives up when ctx ends.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("messaging: job %q has no Run", job.Name)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.shards[d.ShardFor(job.Key)] <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts one worker per shard and blocks until ctx ends. Queued jobs are
// drained before Run returns; they run with a context detached from ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("messaging: dispatcher already running")
	}
	d.started = true
	d.mu.Unlock()

	handler := d.chain()
	workCtx := context.WithoutCancel(ctx)

	for i, shard := range d.shards {
		d.wg.Add(1)
		go d.worker(workCtx, i, shard, handler)
	}
	d.logger.Info("dispatcher started", "shards", len(d.shards))

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher drained")
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, index int, jobs <-chan Job, handler Handler) {
	defer d.wg.Done()
	for job := range jobs {
		start := time.Now()
		err := handler(ctx, job)
		d.metrics.JobFinished(job.Name, err, time.Since(start))
		if err != nil {
			d.logger.Error("job failed",
				"job", job.Name,
				"job_id", job.ID,
				"shard", index,
				"error", err,
			)
			if d.deadLetters != nil {
				d.deadLetters.Add(DeadLetterEntry{Job: job, Err: err, FailedAt: time.Now()})
				d.metrics.JobDeadLettered(job.Name)
			}
		}
	}
}

// chain wraps execute in the registered middleware, outermost first.
func (d *Dispatcher) chain() Handler {
	h := d.execute
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		h = d.middlewares[i](h)
	}
	return RecoveryMiddleware(d.logger)(h)
}

// execute runs one job with retries. Each attempt gets its own timeout.
func (d *Dispatcher) execute(ctx context.Context, job Job) error {
	attempt := 0
	return d.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			d.metrics.JobRetried(job.Name)
			d.logger.Debug("retrying job", "job", job.Name, "job_id", job.ID, "attempt", attempt)
		}
		if d.jobTimeout <= 0 {
			return job.Run(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
		return job.Run(ctx)
	})
}

// DeadLetters returns the failed-job buffer, or nil when disabled.
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.deadLetters
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryMiddleware turns a panic into ErrJobPanicked so the shard survives.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job Job) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job panicked",
						"job", job.Name,
						"job_id", job.ID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
				}
			}()
			return next(ctx, job)
		}
	}
}

// LoggingMiddleware logs slow jobs.
func LoggingMiddleware(logger *slog.Logger, slow time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job Job) error {
			start := time.Now()
			err := next(ctx, job)
			if elapsed := time.Since(start); elapsed >= slow {
				logger.Warn("slow job", "job", job.Name, "job_id", job.ID, "elapsed", elapsed)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is a job that failed after all retries.
type DeadLetterEntry struct {
	Job      Job
	Err      error
	FailedAt time.Time
}

// DeadLetterQueue keeps the most recent failures; the oldest fall off.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add records entry, evicting the oldest when full.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the buffer, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
