package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"postpulse/internal/driver"
	"postpulse/internal/eventbus"
	"postpulse/internal/storage"
	logx "postpulse/pkg/logx"
)

// fakeDriver replays a scripted result per attempt and records jobs.
type fakeDriver struct {
	mu      sync.Mutex
	results []driver.Result
	jobs    []driver.Job
}

func (f *fakeDriver) Publish(_ context.Context, job driver.Job) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if len(f.results) == 0 {
		return driver.OK()
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeDriver) WaitForComposer(context.Context, string) bool { return true }

func (f *fakeDriver) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newTestService(t *testing.T, drv driver.Driver) (*Service, storage.Store, eventbus.Bus) {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "queue.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New()
	svc, err := New(Config{
		DueTolerance:   time.Minute,
		AttemptTimeout: time.Second,
		ResyncInterval: time.Hour,
		Timezone:       "UTC",
	}, store, drv, bus, logx.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc, store, bus
}

func mustCreate(t *testing.T, svc *Service, at time.Time) storage.ScheduledPost {
	t.Helper()
	out, err := svc.Create(context.Background(), storage.ScheduledPost{
		DestinationID:   "c1",
		DestinationSlug: "g/demo",
		Title:           "t",
		Body:            "b",
		ScheduledAt:     at,
		Status:          storage.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out
}

func TestCreateRejectsSpacingViolation(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeDriver{})
	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	mustCreate(t, svc, base)

	_, err := svc.Create(context.Background(), storage.ScheduledPost{
		DestinationID: "c1",
		Title:         "t2",
		Body:          "b2",
		ScheduledAt:   base.Add(30 * time.Minute),
		Status:        storage.StatusScheduled,
	})
	ce, ok := AsConstraintError(err)
	if !ok {
		t.Fatalf("expected constraint error, got %v", err)
	}
	if len(ce.Violations) != 1 || !strings.Contains(ce.Violations[0], "2 hours") {
		t.Fatalf("unexpected violations: %v", ce.Violations)
	}

	posts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("rejected post was persisted: %d records", len(posts))
	}
}

func TestTimerDeliversDuePost(t *testing.T) {
	drv := &fakeDriver{}
	svc, store, bus := newTestService(t, drv)

	events, unsub := bus.Subscribe(8)
	defer unsub()

	post := mustCreate(t, svc, time.Now().Add(50*time.Millisecond))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.EventPostPublished {
				continue
			}
			out := ev.Data.(OutcomeEvent)
			if out.PostID != post.ID {
				t.Fatalf("published wrong post: %s", out.PostID)
			}
			got, err := store.Get(context.Background(), post.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != storage.StatusPublished {
				t.Fatalf("status = %s, want PUBLISHED", got.Status)
			}
			if got.LastError != nil {
				t.Fatalf("lastError not cleared: %+v", got.LastError)
			}
			return
		case <-deadline:
			t.Fatalf("post was never published (driver calls: %d)", drv.jobCount())
		}
	}
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	drv := &fakeDriver{results: []driver.Result{
		driver.Transient(driver.CodeSendError, "network down"),
		driver.Transient(driver.CodeSendError, "network down"),
	}}
	svc, store, _ := newTestService(t, drv)

	post := mustCreate(t, svc, time.Now().Add(24*time.Hour))
	wantAt := post.ScheduledAt

	res, err := svc.RunScheduled(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success() {
		t.Fatalf("expected failure result")
	}
	got, _ := store.Get(context.Background(), post.ID)
	if got.Status != storage.StatusScheduled || got.RetryCount != 1 {
		t.Fatalf("after first failure: status=%s rc=%d", got.Status, got.RetryCount)
	}
	if got.LastError == nil || got.LastError.Code != driver.CodeSendError {
		t.Fatalf("lastError = %+v", got.LastError)
	}
	if !got.ScheduledAt.Equal(wantAt) {
		t.Fatalf("scheduledAt moved: %v -> %v", wantAt, got.ScheduledAt)
	}

	if _, err := svc.RunScheduled(context.Background(), post.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ = store.Get(context.Background(), post.ID)
	if got.Status != storage.StatusFailed || got.RetryCount != 2 {
		t.Fatalf("after retry cap: status=%s rc=%d", got.Status, got.RetryCount)
	}
	if !got.ScheduledAt.Equal(wantAt) {
		t.Fatalf("scheduledAt moved on final failure")
	}
}

func TestTerminalFailureFailsImmediately(t *testing.T) {
	drv := &fakeDriver{results: []driver.Result{
		driver.Terminal(driver.CodeAuthRequired, "session expired"),
	}}
	svc, store, bus := newTestService(t, drv)

	events, unsub := bus.Subscribe(8)
	defer unsub()

	post := mustCreate(t, svc, time.Now().Add(24*time.Hour))
	if _, err := svc.RunScheduled(context.Background(), post.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.Get(context.Background(), post.ID)
	if got.Status != storage.StatusFailed {
		t.Fatalf("status = %s, want FAILED after terminal error", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", got.RetryCount)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.EventPostFailed {
				continue
			}
			out := ev.Data.(OutcomeEvent)
			if !out.Final || out.Code != driver.CodeAuthRequired {
				t.Fatalf("unexpected failure event: %+v", out)
			}
			return
		case <-deadline:
			t.Fatalf("no post.failed event")
		}
	}
}

func TestPostNowDoesNotPersist(t *testing.T) {
	drv := &fakeDriver{}
	svc, store, _ := newTestService(t, drv)

	res, err := svc.PostNow(context.Background(), "g/demo", "t", "b", "")
	if err != nil {
		t.Fatalf("post now: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}

	drv.mu.Lock()
	job := drv.jobs[0]
	drv.mu.Unlock()
	if job.PostID != PostNowID {
		t.Fatalf("job id = %q, want %q", job.PostID, PostNowID)
	}

	posts, _ := store.List(context.Background())
	if len(posts) != 0 {
		t.Fatalf("immediate publish wrote %d records", len(posts))
	}
}

func TestPauseClearsTimerResumeRearms(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDriver{})
	post := mustCreate(t, svc, time.Now().Add(24*time.Hour))

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.NextWakeAt.IsZero() {
		t.Fatalf("timer not armed after create")
	}

	if err := svc.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, _ = svc.Status(context.Background())
	if !st.Paused || !st.NextWakeAt.IsZero() {
		t.Fatalf("paused status = %+v", st)
	}

	if err := svc.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	st, _ = svc.Status(context.Background())
	if st.Paused || !st.NextWakeAt.Equal(post.ScheduledAt) {
		t.Fatalf("resumed status = %+v, want wake at %v", st, post.ScheduledAt)
	}
}

func TestUpdateRevalidatesSchedule(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDriver{})
	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	mustCreate(t, svc, base)
	second := mustCreate(t, svc, base.Add(3*time.Hour))

	_, err := svc.Update(context.Background(), second.ID, storage.Patch{
		ScheduledAt: storage.TimePtr(base.Add(time.Hour)),
	})
	if _, ok := AsConstraintError(err); !ok {
		t.Fatalf("expected constraint error, got %v", err)
	}

	// Marking the post FAILED exempts it from constraint checks.
	if _, err := svc.Update(context.Background(), second.ID, storage.Patch{
		ScheduledAt: storage.TimePtr(base.Add(time.Hour)),
		Status:      storage.StatusPtr(storage.StatusFailed),
	}); err != nil {
		t.Fatalf("update of terminal post rejected: %v", err)
	}
}

func TestRunScheduledUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDriver{})
	_, err := svc.RunScheduled(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoppedServiceRejectsCommands(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDriver{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Pause(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
