package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/progress"
	"github.com/librettohq/libretto/internal/types"
)

// Config configures a Controller.
type Config struct {
	Logger *slog.Logger
	Hub    *progress.Hub

	// MaxConcurrent caps jobs running across keys (default 4).
	MaxConcurrent int64
	// RetryAttempts is the total tries per job including the first
	// (default 3).
	RetryAttempts uint
	// RetryDelay is the base backoff delay between tries (default 500ms).
	RetryDelay time.Duration
}

// Controller owns the job registry, the per-key mutex table, and the
// global concurrency cap. Submitted work runs in the background;
// synchronous work runs inline but is recorded the same way.
type Controller struct {
	logger   *slog.Logger
	hub      *progress.Hub
	sem      *semaphore.Weighted
	locks    *keyMutex
	attempts uint
	delay    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	jobs   map[string]*job
	order  []string          // creation order, oldest first
	live   map[string]string // key+fingerprint → live job id
	wg     sync.WaitGroup
}

type job struct {
	mu        sync.Mutex
	rec       Record
	ctx       context.Context
	cancel    context.CancelFunc
	requested bool // explicit cancel asked for
	done      chan struct{}
}

// New builds a controller. A nil Hub gets a private one; Hub() exposes
// it for the transports.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")

	hub := cfg.Hub
	if hub == nil {
		hub = progress.NewHub(logger)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:   logger,
		hub:      hub,
		sem:      semaphore.NewWeighted(maxConcurrent),
		locks:    newKeyMutex(),
		attempts: attempts,
		delay:    delay,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*job),
		live:     make(map[string]string),
	}
}

// Hub returns the progress hub jobs publish to.
func (c *Controller) Hub() *progress.Hub {
	return c.hub
}

// Submit registers a job and runs it in the background. When a live
// job with the same key and fingerprint exists, the caller is
// coalesced onto it: the existing record comes back with coalesced
// true and no second run starts.
func (c *Controller) Submit(req Request) (Record, bool, error) {
	if err := validate(req); err != nil {
		return Record{}, false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Record{}, false, fmt.Errorf("controller is shut down")
	}
	if req.Fingerprint != "" {
		if id, ok := c.live[liveKey(req.Key, req.Fingerprint)]; ok {
			existing := c.jobs[id]
			c.mu.Unlock()
			c.logger.Info("request coalesced onto live job",
				"job_id", id, "kind", req.Kind, "key", req.Key.String())
			return existing.snapshot(), true, nil
		}
	}
	j := c.register(req)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(j, req)

	return j.snapshot(), false, nil
}

// RunSync executes the request inline under its key mutex and returns
// the work's payload. A held key fails fast with ErrBusy so
// synchronous endpoints can answer 409 instead of queueing. The run is
// still recorded as a job and publishes terminal events.
func (c *Controller) RunSync(ctx context.Context, req Request) (Record, any, error) {
	if err := validate(req); err != nil {
		return Record{}, nil, err
	}

	if !c.locks.TryLock(req.Key) {
		return Record{}, nil, fmt.Errorf("%s: %w", req.Key.String(), types.ErrBusy)
	}
	defer c.locks.Unlock(req.Key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Record{}, nil, fmt.Errorf("controller is shut down")
	}
	j := c.register(req)
	c.mu.Unlock()
	defer close(j.done)
	defer c.dropLive(j, req)

	stream, _ := c.hub.Stream(j.id())
	j.setRunning()

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload, err := req.Run(runCtx, stream)
	c.finish(j, stream, req, 1, payload, err)
	return j.snapshot(), payload, err
}

// Get returns a job by id, with the latest progress event attached.
func (c *Controller) Get(id string) (Record, bool) {
	c.mu.RLock()
	j := c.jobs[id]
	c.mu.RUnlock()
	if j == nil {
		return Record{}, false
	}

	rec := j.snapshot()
	if stream, ok := c.hub.Stream(id); ok {
		if ev, seen := stream.Last(); seen {
			rec.LastEvent = &ev
		}
	}
	return rec, true
}

// List returns matching jobs, newest first.
func (c *Controller) List(f Filter) []Record {
	c.mu.RLock()
	records := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		rec := c.jobs[id].snapshot()
		if f.BookID != "" && rec.BookID != f.BookID {
			continue
		}
		if f.State != "" && rec.State != f.State {
			continue
		}
		if f.Kind != "" && rec.Kind != f.Kind {
			continue
		}
		records = append(records, rec)
	}
	c.mu.RUnlock()

	sort.SliceStable(records, func(i, k int) bool {
		return records[i].CreatedAt.After(records[k].CreatedAt)
	})
	return records
}

// Cancel requests cooperative cancellation. The job observes it at its
// next checkpoint; subscribers get an error event with reason
// canceled. Terminal jobs are left as they are.
func (c *Controller) Cancel(id string) error {
	c.mu.RLock()
	j := c.jobs[id]
	c.mu.RUnlock()
	if j == nil {
		return fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}

	j.mu.Lock()
	terminal := j.rec.State.Terminal()
	if !terminal {
		j.requested = true
	}
	j.mu.Unlock()

	if terminal {
		return nil
	}
	j.cancel()
	c.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Wait blocks until the job reaches a terminal state. It exists for
// tests and CLI --wait flows.
func (c *Controller) Wait(ctx context.Context, id string) (Record, error) {
	c.mu.RLock()
	j := c.jobs[id]
	c.mu.RUnlock()
	if j == nil {
		return Record{}, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}

	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Close cancels every running job, waits for them to unwind, and
// releases their progress streams.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	for _, id := range ids {
		c.hub.Release(id)
	}
}

// register creates the job record, its context, and its progress
// stream. Caller holds c.mu.
func (c *Controller) register(req Request) *job {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(metrics.WithJob(c.ctx, id))

	j := &job{
		rec: Record{
			ID:        id,
			Kind:      req.Kind,
			State:     StatePending,
			TargetKey: req.Key.String(),
			BookID:    req.Key.Book,
			Chapter:   req.Key.Chapter,
			Language:  req.Key.Language,
			CreatedAt: time.Now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.jobs[id] = j
	c.order = append(c.order, id)
	if req.Fingerprint != "" {
		c.live[liveKey(req.Key, req.Fingerprint)] = id
	}
	c.hub.Register(id)
	return j
}

// run executes a submitted job: global cap, key mutex, bounded retry,
// terminal event.
func (c *Controller) run(j *job, req Request) {
	defer c.wg.Done()
	defer close(j.done)
	defer c.dropLive(j, req)

	stream, _ := c.hub.Stream(j.id())

	// Key first, then the global cap: jobs queued behind the same key
	// wait without holding concurrency slots other keys could use.
	if err := c.locks.Lock(j.ctx, req.Key); err != nil {
		c.finish(j, stream, req, 0, nil, err)
		return
	}
	defer c.locks.Unlock(req.Key)

	if err := c.sem.Acquire(j.ctx, 1); err != nil {
		c.finish(j, stream, req, 0, nil, err)
		return
	}
	defer c.sem.Release(1)

	j.setRunning()
	c.logger.Info("job started", "job_id", j.id(), "kind", req.Kind, "key", req.Key.String())

	var payload any
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			attemptCtx := j.ctx
			if req.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(j.ctx, req.Timeout)
				defer cancel()
			}
			var runErr error
			payload, runErr = req.Run(attemptCtx, stream)
			return runErr
		},
		retry.Context(j.ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(10*time.Second),
		retry.RetryIf(Transient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("transient failure, retrying",
				"job_id", j.id(), "attempt", n+1, "error", err)
		}),
	)

	c.finish(j, stream, req, attempts, payload, err)
}

// finish records the terminal state and publishes the terminal event.
func (c *Controller) finish(j *job, stream *progress.Stream, req Request, attempts int, payload any, err error) {
	step := string(req.Kind)
	switch {
	case err == nil:
		j.setDone(StateSucceeded, attempts, "")
		if stream != nil {
			stream.Publish(types.Done(step, "complete", payload))
		}
		c.logger.Info("job succeeded", "job_id", j.id(), "kind", req.Kind, "attempts", attempts)
	case j.cancelRequested() || errors.Is(err, context.Canceled):
		j.setDone(StateCanceled, attempts, "canceled")
		if stream != nil {
			stream.Publish(types.ErrorEvent(step, "canceled", "job canceled"))
		}
		c.logger.Info("job canceled", "job_id", j.id(), "kind", req.Kind)
	default:
		j.setDone(StateFailed, attempts, err.Error())
		if stream != nil {
			stream.Publish(types.ErrorEvent(step, Reason(err), err.Error()))
		}
		c.logger.Error("job failed",
			"job_id", j.id(), "kind", req.Kind, "attempts", attempts, "error", err)
	}
}

// dropLive removes the coalescing entry once the job is no longer
// accepting riders.
func (c *Controller) dropLive(j *job, req Request) {
	if req.Fingerprint == "" {
		return
	}
	lk := liveKey(req.Key, req.Fingerprint)
	c.mu.Lock()
	if c.live[lk] == j.id() {
		delete(c.live, lk)
	}
	c.mu.Unlock()
}

func validate(req Request) error {
	if req.Run == nil {
		return fmt.Errorf("job has no work function")
	}
	if req.Kind == "" {
		return fmt.Errorf("job has no kind")
	}
	if req.Key.Book == "" {
		return fmt.Errorf("job key has no book")
	}
	return nil
}

func liveKey(key Key, fingerprint string) string {
	return key.String() + "\x00" + fingerprint
}

func (j *job) id() string {
	return j.rec.ID
}

func (j *job) snapshot() Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

func (j *job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.rec.State = StateRunning
	j.rec.StartedAt = &now
}

func (j *job) setDone(state State, attempts int, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.rec.State = state
	j.rec.Attempts = attempts
	j.rec.Error = errMsg
	j.rec.FinishedAt = &now
}

func (j *job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.requested
}
