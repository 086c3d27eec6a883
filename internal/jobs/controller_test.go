package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := New(Config{RetryDelay: time.Millisecond})
	t.Cleanup(c.Close)
	return c
}

func waitTerminal(t *testing.T, c *Controller, id string) Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := c.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	return rec
}

func TestController_RunsJobAndPublishesDone(t *testing.T) {
	c := newTestController(t)

	rec, coalesced, err := c.Submit(Request{
		Kind: KindTTS,
		Key:  ChapterKey("b1", 0, "en", ClassSource),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			pub.Publish(types.Progress("tts", "synthesizing", 50))
			return map[string]string{"path": "/b1/audio/en/0.canonical.wav"}, nil
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if coalesced {
		t.Error("first submission reported as coalesced")
	}
	if rec.State != StatePending && rec.State != StateRunning && rec.State != StateSucceeded {
		t.Errorf("unexpected initial state %s", rec.State)
	}
	if rec.TargetKey != "b1/0/en/source" {
		t.Errorf("TargetKey = %q", rec.TargetKey)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error %q)", final.State, final.Error)
	}
	if final.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", final.Attempts)
	}
	if final.StartedAt == nil || final.FinishedAt == nil {
		t.Error("terminal record missing timings")
	}

	stream, ok := c.Hub().Stream(rec.ID)
	if !ok {
		t.Fatal("stream not registered for job")
	}
	last, seen := stream.Last()
	if !seen || last.Event != types.EventDone {
		t.Errorf("last event = %+v, want done", last)
	}
	if !stream.Closed() {
		t.Error("stream should close at terminal state")
	}
}

func TestController_SerializesSameKey(t *testing.T) {
	c := newTestController(t)
	key := ChapterKey("b1", 2, "en", ClassSource)

	var inside, overlaps int32
	run := func(ctx context.Context, pub Publisher) (any, error) {
		if atomic.AddInt32(&inside, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return nil, nil
	}

	var ids []string
	for i := 0; i < 4; i++ {
		rec, _, err := c.Submit(Request{Kind: KindTTS, Key: key, Run: run})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		if rec := waitTerminal(t, c, id); rec.State != StateSucceeded {
			t.Errorf("job %s state = %s", id, rec.State)
		}
	}

	if overlaps != 0 {
		t.Errorf("same-key jobs overlapped %d times", overlaps)
	}
}

func TestController_CoalescesIdenticalRequests(t *testing.T) {
	c := newTestController(t)
	key := ChapterKey("b1", 0, "en", ClassAlign)

	release := make(chan struct{})
	var runs int32
	req := Request{
		Kind:        KindAlign,
		Key:         key,
		Fingerprint: "abc123",
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			atomic.AddInt32(&runs, 1)
			<-release
			return nil, nil
		},
	}

	first, coalesced, err := c.Submit(req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if coalesced {
		t.Fatal("first submission coalesced")
	}

	second, coalesced, err := c.Submit(req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !coalesced {
		t.Fatal("identical request did not coalesce")
	}
	if second.ID != first.ID {
		t.Errorf("coalesced onto job %s, want %s", second.ID, first.ID)
	}

	// A different fingerprint on the same key must not coalesce.
	other := req
	other.Fingerprint = "def456"
	third, coalesced, err := c.Submit(other)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if coalesced || third.ID == first.ID {
		t.Error("different fingerprint coalesced")
	}

	close(release)
	waitTerminal(t, c, first.ID)
	waitTerminal(t, c, third.ID)

	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Errorf("work ran %d times, want 2", got)
	}

	// After the job finishes, the same fingerprint starts a fresh run.
	release = make(chan struct{})
	close(release)
	fourth, coalesced, err := c.Submit(req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if coalesced || fourth.ID == first.ID {
		t.Error("terminal job still absorbing new submissions")
	}
	waitTerminal(t, c, fourth.ID)
}

func TestController_RetriesTransientFailures(t *testing.T) {
	c := newTestController(t)

	var calls int32
	rec, _, err := c.Submit(Request{
		Kind: KindTTS,
		Key:  ChapterKey("b1", 1, "en", ClassSource),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, &providers.RateLimitError{Message: "throttled", StatusCode: 429}
			}
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error %q)", final.State, final.Error)
	}
	if final.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", final.Attempts)
	}
}

func TestController_PermanentFailureFailsWithoutRetry(t *testing.T) {
	c := newTestController(t)

	var calls int32
	rec, _, err := c.Submit(Request{
		Kind: KindAlign,
		Key:  ChapterKey("b1", 0, "en", ClassAlign),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("token table is empty")
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("permanent failure ran %d times, want 1", got)
	}
	if final.Error == "" {
		t.Error("failed record carries no error")
	}

	stream, _ := c.Hub().Stream(rec.ID)
	last, _ := stream.Last()
	if last.Event != types.EventError || last.Reason != "internal" {
		t.Errorf("terminal event = %+v, want error/internal", last)
	}
}

func TestController_TransientExhaustionFails(t *testing.T) {
	c := newTestController(t)

	var calls int32
	rec, _, err := c.Submit(Request{
		Kind: KindTranslate,
		Key:  ChapterKey("b1", 0, "de", ClassSource),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &providers.RateLimitError{Message: "still throttled", StatusCode: 429}
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("ran %d times, want 3", got)
	}
}

func TestController_Cancel(t *testing.T) {
	c := newTestController(t)

	started := make(chan struct{})
	rec, _, err := c.Submit(Request{
		Kind: KindAlign,
		Key:  ChapterKey("b1", 0, "en", ClassAlign),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-started
	if err := c.Cancel(rec.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateCanceled {
		t.Fatalf("state = %s, want canceled", final.State)
	}

	stream, _ := c.Hub().Stream(rec.ID)
	last, _ := stream.Last()
	if last.Event != types.EventError || last.Reason != "canceled" {
		t.Errorf("terminal event = %+v, want error/canceled", last)
	}

	// Canceling a terminal job is a no-op.
	if err := c.Cancel(rec.ID); err != nil {
		t.Errorf("Cancel() on terminal job error = %v", err)
	}
}

func TestController_CancelUnknownJob(t *testing.T) {
	c := newTestController(t)
	if err := c.Cancel("no-such-job"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestController_AttemptTimeoutIsTransient(t *testing.T) {
	c := newTestController(t)

	var calls int32
	rec, _, err := c.Submit(Request{
		Kind:    KindTTS,
		Key:     ChapterKey("b1", 3, "en", ClassSource),
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			atomic.AddInt32(&calls, 1)
			select {
			case <-time.After(time.Second):
				return "too slow to matter", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, c, rec.ID)
	if final.State != StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("timed-out attempt ran %d times, want 3", got)
	}

	stream, _ := c.Hub().Stream(rec.ID)
	last, _ := stream.Last()
	if last.Reason != "timeout" {
		t.Errorf("reason = %q, want timeout", last.Reason)
	}
}

func TestController_GlobalConcurrencyCap(t *testing.T) {
	c := New(Config{MaxConcurrent: 1, RetryDelay: time.Millisecond})
	defer c.Close()

	var inside, overlaps int32
	run := func(ctx context.Context, pub Publisher) (any, error) {
		if atomic.AddInt32(&inside, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return nil, nil
	}

	var ids []string
	for i := 0; i < 4; i++ {
		rec, _, err := c.Submit(Request{
			Kind: KindTTS,
			Key:  ChapterKey("b1", i, "en", ClassSource),
			Run:  run,
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		waitTerminal(t, c, id)
	}

	if overlaps != 0 {
		t.Errorf("cap of 1 allowed %d overlapping runs", overlaps)
	}
}

func TestController_RunSync(t *testing.T) {
	c := newTestController(t)
	key := ChapterKey("b1", 0, "en", ClassEdit)

	rec, payload, err := c.RunSync(context.Background(), Request{
		Kind: KindEdit,
		Key:  key,
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			return 42, nil
		},
	})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if payload != 42 {
		t.Errorf("payload = %v, want 42", payload)
	}
	if rec.State != StateSucceeded {
		t.Errorf("state = %s, want succeeded", rec.State)
	}

	// The run shows up in the registry like any other job.
	stored, ok := c.Get(rec.ID)
	if !ok {
		t.Fatal("sync job missing from registry")
	}
	if stored.Kind != KindEdit || !stored.State.Terminal() {
		t.Errorf("stored record = %+v", stored)
	}
}

func TestController_RunSyncBusyKey(t *testing.T) {
	c := newTestController(t)
	key := ChapterKey("b1", 0, "en", ClassEdit)

	started := make(chan struct{})
	release := make(chan struct{})
	rec, _, err := c.Submit(Request{
		Kind: KindEdit,
		Key:  key,
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	_, _, err = c.RunSync(context.Background(), Request{
		Kind: KindEdit,
		Key:  key,
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			return nil, nil
		},
	})
	if !errors.Is(err, types.ErrBusy) {
		t.Errorf("RunSync() on held key error = %v, want ErrBusy", err)
	}

	close(release)
	waitTerminal(t, c, rec.ID)
}

func TestController_ListFilters(t *testing.T) {
	c := newTestController(t)

	ok := func(ctx context.Context, pub Publisher) (any, error) { return nil, nil }
	bad := func(ctx context.Context, pub Publisher) (any, error) { return nil, errors.New("nope") }

	r1, _, _ := c.Submit(Request{Kind: KindTTS, Key: ChapterKey("b1", 0, "en", ClassSource), Run: ok})
	r2, _, _ := c.Submit(Request{Kind: KindAlign, Key: ChapterKey("b1", 0, "en", ClassAlign), Run: ok})
	r3, _, _ := c.Submit(Request{Kind: KindTTS, Key: ChapterKey("b2", 0, "en", ClassSource), Run: bad})
	for _, id := range []string{r1.ID, r2.ID, r3.ID} {
		waitTerminal(t, c, id)
	}

	if got := len(c.List(Filter{})); got != 3 {
		t.Errorf("List(all) = %d jobs, want 3", got)
	}
	if got := len(c.List(Filter{BookID: "b1"})); got != 2 {
		t.Errorf("List(b1) = %d jobs, want 2", got)
	}
	if got := len(c.List(Filter{Kind: KindTTS})); got != 2 {
		t.Errorf("List(tts) = %d jobs, want 2", got)
	}
	if got := len(c.List(Filter{State: StateFailed})); got != 1 {
		t.Errorf("List(failed) = %d jobs, want 1", got)
	}
	if got := len(c.List(Filter{BookID: "b2", State: StateSucceeded})); got != 0 {
		t.Errorf("List(b2+succeeded) = %d jobs, want 0", got)
	}
}

func TestController_CloseCancelsRunningJobs(t *testing.T) {
	c := New(Config{RetryDelay: time.Millisecond})

	started := make(chan struct{})
	rec, _, err := c.Submit(Request{
		Kind: KindTTS,
		Key:  ChapterKey("b1", 0, "en", ClassSource),
		Run: func(ctx context.Context, pub Publisher) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}

	got, ok := c.Get(rec.ID)
	if !ok {
		t.Fatal("job missing after Close")
	}
	if got.State != StateCanceled {
		t.Errorf("state after Close = %s, want canceled", got.State)
	}

	if _, _, err := c.Submit(Request{
		Kind: KindTTS,
		Key:  ChapterKey("b1", 1, "en", ClassSource),
		Run:  func(ctx context.Context, pub Publisher) (any, error) { return nil, nil },
	}); err == nil {
		t.Error("Submit() after Close should fail")
	}
}

func TestController_SubmitValidation(t *testing.T) {
	c := newTestController(t)

	if _, _, err := c.Submit(Request{Kind: KindTTS, Key: ChapterKey("b1", 0, "en", ClassSource)}); err == nil {
		t.Error("Submit() without Run should fail")
	}
	if _, _, err := c.Submit(Request{
		Kind: KindTTS,
		Run:  func(ctx context.Context, pub Publisher) (any, error) { return nil, nil },
	}); err == nil {
		t.Error("Submit() without book should fail")
	}
}
