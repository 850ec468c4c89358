package shortener

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/sundayezeilo/shortspace/internal/errx"
)

const (
	DefaultClickQueueSize  = 1024
	DefaultClickWorkers    = 4
	DefaultClickMaxRetries = 2
	DefaultClickTimeout    = 2 * time.Second

	defaultClickBackoff = 50 * time.Millisecond
)

// ClickSink accepts click events. Record must never block the caller.
type ClickSink interface {
	Record(namespaceID, slug string) bool
}

// ClickStats is a snapshot of click recorder counters.
type ClickStats struct {
	Enqueued int64 `json:"enqueued"`
	Applied  int64 `json:"applied"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Pending  int   `json:"pending"`
}

// ClickRecorderConfig holds configuration for the click recorder. Zero values
// select the defaults above, except MaxRetries where zero means a single
// attempt and a negative value selects the default. Rate <= 0 disables pacing.
type ClickRecorderConfig struct {
	QueueSize      int
	Workers        int
	MaxRetries     int
	Timeout        time.Duration
	Rate           float64
	Burst          int
	InitialBackoff time.Duration
	Logger         *slog.Logger
}

type click struct {
	namespaceID string
	slug        string
}

// ClickRecorder applies click increments in the background.
//
// Work runs under contexts owned by the recorder, never a request context,
// so a client hanging up after its redirect cannot cancel the increment.
// Counting is at-most-once: events dropped on a full queue, or whose retries
// run out, are lost and only show up in Stats.
type ClickRecorder struct {
	store          Store
	queue          chan click
	workers        int
	maxRetries     int
	timeout        time.Duration
	initialBackoff time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	enqueued atomic.Int64
	applied  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewClickRecorder creates a recorder writing to store. Call Start before use.
func NewClickRecorder(store Store, config *ClickRecorderConfig) *ClickRecorder {
	if config == nil {
		config = &ClickRecorderConfig{}
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultClickQueueSize
	}
	workers := config.Workers
	if workers <= 0 {
		workers = DefaultClickWorkers
	}
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultClickMaxRetries
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultClickTimeout
	}
	initialBackoff := config.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultClickBackoff
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if config.Rate > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.Rate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ClickRecorder{
		store:          store,
		queue:          make(chan click, queueSize),
		workers:        workers,
		maxRetries:     maxRetries,
		timeout:        timeout,
		initialBackoff: initialBackoff,
		limiter:        limiter,
		logger:         logger.With("component", "click_recorder"),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the worker pool. Calling it more than once has no effect.
func (c *ClickRecorder) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	for range c.workers {
		c.wg.Add(1)
		go c.work()
	}
}

// Record enqueues one click. It reports false when the event was dropped
// because the queue is full or the recorder is stopped.
func (c *ClickRecorder) Record(namespaceID, slug string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.dropped.Add(1)
		return false
	}

	select {
	case c.queue <- click{namespaceID: namespaceID, slug: slug}:
		c.enqueued.Add(1)
		return true
	default:
		// Drops come in bursts under load; Stats carries the count.
		c.dropped.Add(1)
		c.logger.Debug("click queue full, dropping event",
			"namespace", namespaceID,
			"slug", slug,
		)
		return false
	}
}

// Stop refuses new events and drains the queue. If ctx ends first, in-flight
// increments are abandoned and ctx.Err() is returned.
func (c *ClickRecorder) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	started := c.started
	c.mu.Unlock()

	if !started {
		// Nobody will drain the queue.
		for range c.queue {
			c.dropped.Add(1)
		}
		c.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns current counters.
func (c *ClickRecorder) Stats() ClickStats {
	return ClickStats{
		Enqueued: c.enqueued.Load(),
		Applied:  c.applied.Load(),
		Dropped:  c.dropped.Load(),
		Failed:   c.failed.Load(),
		Pending:  len(c.queue),
	}
}

func (c *ClickRecorder) work() {
	defer c.wg.Done()
	for ev := range c.queue {
		c.apply(ev)
	}
}

func (c *ClickRecorder) apply(ev click) {
	logger := c.logger.With("namespace", ev.namespaceID, "slug", ev.slug)

	if c.limiter != nil {
		if err := c.limiter.Wait(c.ctx); err != nil {
			c.failed.Add(1)
			logger.Warn("click abandoned while waiting for rate limiter", "error", err.Error())
			return
		}
	}

	operation := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()

		err := c.store.IncrementClicks(ctx, ev.namespaceID, ev.slug, 1)
		if err != nil && errx.KindOf(err) == errx.NotFound {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), c.ctx)

	if err := backoff.Retry(operation, b); err != nil {
		c.failed.Add(1)
		attrs := []any{
			"error", err.Error(),
			"error_kind", errx.KindOf(err),
			"operation", errx.OpOf(err),
		}
		if errx.KindOf(err) == errx.NotFound {
			logger.Info("click for missing link discarded", attrs...)
			return
		}
		logger.Warn("click increment failed", attrs...)
		return
	}
	c.applied.Add(1)
}
