// Package daemon provides the bounded executor that runs post-publish
// reconciliation off the publishing caller's path.
//
// The executor:
// 1. Queues tasks by document id, collapsing resubmissions (debouncing)
// 2. Hands settled tasks to a fixed pool of workers
// 3. Never runs two tasks for the same id at once
// 4. Drains what is still queued on graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("executor stopped")
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "refsync",
		Subsystem: "daemon",
		Name:      "queue_depth",
		Help:      "Tasks waiting for their debounce interval or a free worker",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refsync",
		Subsystem: "daemon",
		Name:      "tasks_total",
		Help:      "Tasks by outcome (run, collapsed, rejected)",
	}, []string{"outcome"})
)

// Config holds configuration for the executor.
type Config struct {
	// Workers is the number of tasks that may run at once.
	Workers int

	// DebounceInterval is how long a task waits after its last submission
	// before it runs. Rapid republishes of one document collapse into one
	// task.
	DebounceInterval time.Duration

	// QueueSize caps the number of distinct queued ids.
	QueueSize int

	// Logger for executor activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:          4,
		DebounceInterval: 100 * time.Millisecond,
		QueueSize:        1024,
		Logger:           slog.Default(),
	}
}

type pending struct {
	task     func(ctx context.Context)
	queuedAt time.Time
}

type job struct {
	key  string
	task func(ctx context.Context)
}

// Executor runs keyed tasks on a bounded worker pool.
type Executor struct {
	config *Config
	logger *slog.Logger

	queue    map[string]*pending // key -> latest submission
	inflight map[string]bool
	queueMu  sync.Mutex
	stopped  bool

	work chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an executor. A nil config uses DefaultConfig.
//
// Use Start() to begin processing; tasks submitted before Start wait in the
// queue.
func New(config *Config) *Executor {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		config:   config,
		logger:   config.Logger.With("component", "daemon"),
		queue:    make(map[string]*pending),
		inflight: make(map[string]bool),
		work:     make(chan job, config.Workers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit queues task under key. A task already queued under key is
// replaced and its debounce interval restarts.
func (e *Executor) Submit(key string, task func(ctx context.Context)) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	if e.stopped {
		tasksTotal.WithLabelValues("rejected").Inc()
		return ErrStopped
	}
	if _, queued := e.queue[key]; queued {
		tasksTotal.WithLabelValues("collapsed").Inc()
	} else if len(e.queue) >= e.config.QueueSize {
		tasksTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w (%d tasks)", ErrQueueFull, len(e.queue))
	}

	e.queue[key] = &pending{task: task, queuedAt: time.Now()}
	queueDepth.Set(float64(len(e.queue)))
	return nil
}

// Pending returns the number of queued tasks.
func (e *Executor) Pending() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Start begins processing the queue.
//
// This blocks until ctx is cancelled or Stop is called.
func (e *Executor) Start(ctx context.Context) error {
	e.logger.Info("starting executor",
		"workers", e.config.Workers, "debounce", e.config.DebounceInterval)

	e.wg.Add(2)
	go e.runWorkers()
	go e.processQueue()

	select {
	case <-ctx.Done():
		e.logger.Info("shutdown signal received")
		return e.Stop()
	case <-e.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the executor. Running tasks finish; tasks still
// queued run before Stop returns.
func (e *Executor) Stop() error {
	e.queueMu.Lock()
	if e.stopped {
		e.queueMu.Unlock()
		return nil
	}
	e.stopped = true
	e.queueMu.Unlock()

	e.logger.Info("stopping executor")
	e.cancel()
	e.wg.Wait()

	e.queueMu.Lock()
	remaining := e.queue
	e.queue = make(map[string]*pending)
	queueDepth.Set(0)
	e.queueMu.Unlock()

	if len(remaining) > 0 {
		e.logger.Info("draining queued tasks", "count", len(remaining))
	}
	drainCtx := context.WithoutCancel(e.ctx)
	for key, p := range remaining {
		e.run(drainCtx, job{key: key, task: p.task})
	}

	e.logger.Info("executor stopped")
	return nil
}

// runWorkers runs the worker pool until the work channel is closed.
func (e *Executor) runWorkers() {
	defer e.wg.Done()

	taskCtx := context.WithoutCancel(e.ctx)
	g := new(errgroup.Group)
	for n := 0; n < e.config.Workers; n++ {
		g.Go(func() error {
			for j := range e.work {
				e.run(taskCtx, j)
				e.queueMu.Lock()
				delete(e.inflight, j.key)
				e.queueMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// run executes one task, containing panics so a worker survives.
func (e *Executor) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", "key", j.key, "panic", r)
		}
	}()
	start := time.Now()
	j.task(ctx)
	tasksTotal.WithLabelValues("run").Inc()
	e.logger.Debug("task finished", "key", j.key, "elapsed", time.Since(start))
}

// processQueue moves settled tasks to the workers with debouncing.
func (e *Executor) processQueue() {
	defer e.wg.Done()
	defer close(e.work)

	ticker := time.NewTicker(e.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return

		case <-ticker.C:
			ready := e.takeReady()
			for n, j := range ready {
				select {
				case e.work <- j:
				case <-e.ctx.Done():
					e.requeue(ready[n:])
					return
				}
			}
		}
	}
}

// requeue puts undelivered jobs back so Stop drains them. A newer
// submission under the same key wins.
func (e *Executor) requeue(jobs []job) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	for _, j := range jobs {
		delete(e.inflight, j.key)
		if _, newer := e.queue[j.key]; !newer {
			e.queue[j.key] = &pending{task: j.task, queuedAt: time.Now()}
		}
	}
}

// takeReady removes tasks whose debounce interval has passed and whose key
// is not already running.
func (e *Executor) takeReady() []job {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	now := time.Now()
	var ready []job
	for key, p := range e.queue {
		if now.Sub(p.queuedAt) < e.config.DebounceInterval || e.inflight[key] {
			continue
		}
		ready = append(ready, job{key: key, task: p.task})
		e.inflight[key] = true
		delete(e.queue, key)
	}
	queueDepth.Set(float64(len(e.queue)))
	return ready
}
