// Package pool runs background conversation steps on a bounded set of workers.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/types"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = types.NewError(types.ErrServiceUnavailable, "runner is closed")
	// ErrFull is returned when every worker is busy and the queue is full.
	ErrFull = types.NewError(types.ErrServiceUnavailable, "runner queue is full").WithRetryable(true)
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Config configures a Runner.
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers" env:"MAX_WORKERS"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  16,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// Runner manages a pool of worker goroutines. Workers are spawned on demand
// up to MaxWorkers and exit after IdleTimeout without work.
type Runner struct {
	cfg    Config
	logger *zap.Logger
	queue  chan queued

	mu     sync.RWMutex
	closed bool

	workers   atomic.Int32
	active    atomic.Int32
	wg        sync.WaitGroup
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type queued struct {
	ctx  context.Context
	task Task
}

// New creates a Runner. Non-positive fields fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Runner {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "runner")),
		queue:  make(chan queued, cfg.QueueSize),
	}
}

// Submit queues task without blocking. ctx is passed to the task as is.
func (r *Runner) Submit(ctx context.Context, task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.submitted.Add(1)
	item := queued{ctx: ctx, task: task}

	// 优先新建 worker，避免任务在有空闲名额时排队
	if r.trySpawn(item) {
		return nil
	}
	select {
	case r.queue <- item:
		return nil
	default:
		r.rejected.Add(1)
		return ErrFull
	}
}

func (r *Runner) trySpawn(first queued) bool {
	for {
		n := r.workers.Load()
		if n >= int32(r.cfg.MaxWorkers) {
			return false
		}
		if r.workers.CompareAndSwap(n, n+1) {
			r.wg.Add(1)
			go r.worker(first)
			return true
		}
	}
}

func (r *Runner) worker(first queued) {
	defer r.wg.Done()
	defer r.workers.Add(-1)

	r.execute(first)

	timer := time.NewTimer(r.cfg.IdleTimeout)
	defer timer.Stop()
	for {
		select {
		case item, ok := <-r.queue:
			if !ok {
				return
			}
			r.execute(item)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.cfg.IdleTimeout)
		case <-timer.C:
			return
		}
	}
}

func (r *Runner) execute(item queued) {
	r.active.Add(1)
	defer r.active.Add(-1)

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("task panicked", zap.Any("panic", p), zap.Stack("stack"))
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return item.task(item.ctx)
	}()

	if err != nil {
		r.failed.Add(1)
		return
	}
	r.completed.Add(1)
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to
// expire.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Workers:   int(r.workers.Load()),
		Active:    int(r.active.Load()),
		Queued:    len(r.queue),
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Rejected:  r.rejected.Load(),
	}
}

// Stats contains runner counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
