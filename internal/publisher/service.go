// Package publisher owns the post queue end to end: constraint-checked
// writes, the single wake timer, due selection, delivery attempts and the
// retry state machine.
//
// One goroutine (the actor) performs every store mutation and every timer
// operation. Control calls are commands executed inside that loop, so a
// manual retry can never interleave with a timer-driven attempt.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postpulse/internal/driver"
	"postpulse/internal/eventbus"
	"postpulse/internal/schedule"
	"postpulse/internal/storage"
	logx "postpulse/pkg/logx"
)

// PostNowID is the synthetic id used for immediate, non-persisted jobs.
const PostNowID = "post-now"

type Service struct {
	cfg   Config
	store storage.Store
	drv   driver.Driver
	bus   eventbus.Bus
	log   logx.Logger
	loc   *time.Location

	now func() time.Time

	cmds chan command

	runMu    sync.Mutex
	running  bool
	loopDone chan struct{}
	cancel   context.CancelFunc

	cron *cron.Cron

	// Owned by the actor loop. Never touched from outside it.
	timer      *time.Timer
	timerSet   bool
	nextWakeAt time.Time
}

type command struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

func New(cfg Config, store storage.Store, drv driver.Driver, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("publisher timezone: %w", err)
		}
		loc = l
	}
	return &Service{
		cfg:   cfg,
		store: store,
		drv:   drv,
		bus:   bus,
		log:   log,
		loc:   loc,
		now:   time.Now,
		cmds:  make(chan command),
	}, nil
}

// Start launches the actor loop and the periodic timer resync.
// It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true

	go s.run(lctx)

	// A missed or late timer (host sleep, clock jumps) self-heals on the
	// next resync tick.
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.ResyncInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		_ = s.SyncTimer(context.Background())
	}); err != nil {
		s.log.Warn("timer resync disabled", logx.Err(err))
	} else {
		s.cron.Start()
	}

	s.log.Info("publisher started",
		logx.Duration("due_tolerance", s.cfg.DueTolerance),
		logx.Duration("resync", s.cfg.ResyncInterval),
	)
	return nil
}

// Stop halts the actor loop. In-flight commands finish first.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.loopDone
	cr := s.cron
	s.runMu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.loopDone)

	s.timer = time.NewTimer(time.Hour)
	s.stopTimer()
	s.rearm(ctx)

	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case cmd := <-s.cmds:
			cmd.fn(ctx)
			close(cmd.done)
		case <-s.timer.C:
			s.timerSet = false
			s.nextWakeAt = time.Time{}
			s.onWake(ctx)
		}
	}
}

// do runs fn inside the actor loop and waits for it to finish.
func (s *Service) do(ctx context.Context, fn func(ctx context.Context)) error {
	s.runMu.Lock()
	running := s.running
	done := s.loopDone
	s.runMu.Unlock()
	if !running {
		return ErrStopped
	}

	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-done:
		return ErrStopped
	}
}

// ---- Queue operations (all store writes go through the actor) ----

// Create validates the candidate against the scheduling constraints and
// persists it. The stored record (with generated id and timestamps) is
// returned.
func (s *Service) Create(ctx context.Context, post storage.ScheduledPost) (storage.ScheduledPost, error) {
	var (
		out  storage.ScheduledPost
		oerr error
	)
	err := s.do(ctx, func(ctx context.Context) {
		existing, err := s.store.List(ctx)
		if err != nil {
			oerr = err
			return
		}
		if v := schedule.Validate(post, existing, s.loc); len(v) > 0 {
			oerr = &ConstraintError{Violations: v}
			return
		}
		out, oerr = s.store.Create(ctx, post)
		if oerr == nil {
			s.rearm(ctx)
		}
	})
	if err != nil {
		return storage.ScheduledPost{}, err
	}
	return out, oerr
}

// Update applies a partial patch. The patched record is re-validated
// against the constraints before anything is written.
func (s *Service) Update(ctx context.Context, id string, patch storage.Patch) (storage.ScheduledPost, error) {
	var (
		out  storage.ScheduledPost
		oerr error
	)
	err := s.do(ctx, func(ctx context.Context) {
		existing, err := s.store.List(ctx)
		if err != nil {
			oerr = err
			return
		}
		var current *storage.ScheduledPost
		for i := range existing {
			if existing[i].ID == id {
				current = &existing[i]
				break
			}
		}
		if current == nil {
			oerr = storage.ErrNotFound
			return
		}
		candidate := *current
		patchPreview(&candidate, patch)
		if candidate.Status.Active() {
			if v := schedule.Validate(candidate, existing, s.loc); len(v) > 0 {
				oerr = &ConstraintError{Violations: v}
				return
			}
		}
		out, oerr = s.store.Update(ctx, id, patch)
		if oerr == nil {
			s.rearm(ctx)
		}
	})
	if err != nil {
		return storage.ScheduledPost{}, err
	}
	return out, oerr
}

func (s *Service) Delete(ctx context.Context, id string) error {
	var oerr error
	err := s.do(ctx, func(ctx context.Context) {
		oerr = s.store.Delete(ctx, id)
		if oerr == nil {
			s.rearm(ctx)
		}
	})
	if err != nil {
		return err
	}
	return oerr
}

// Get and List are reads; the store serializes them internally.

func (s *Service) Get(ctx context.Context, id string) (storage.ScheduledPost, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]storage.ScheduledPost, error) {
	return s.store.List(ctx)
}

// NextSlot suggests the first calendar-free instant at or after preferred.
// The suggestion ignores the per-destination cap; Create re-validates.
func (s *Service) NextSlot(ctx context.Context, preferred time.Time) (time.Time, error) {
	existing, err := s.store.List(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.NextAvailableSlot(preferred, existing, s.loc), nil
}

// ---- Pause / resume / timer ----

func (s *Service) Pause(ctx context.Context) error {
	var oerr error
	err := s.do(ctx, func(ctx context.Context) {
		oerr = s.store.SetPaused(ctx, true)
		if oerr == nil {
			s.rearm(ctx)
		}
	})
	if err != nil {
		return err
	}
	return oerr
}

func (s *Service) Resume(ctx context.Context) error {
	var oerr error
	err := s.do(ctx, func(ctx context.Context) {
		oerr = s.store.SetPaused(ctx, false)
		if oerr == nil {
			s.rearm(ctx)
		}
	})
	if err != nil {
		return err
	}
	return oerr
}

// SyncTimer re-derives the wake timer from the store.
func (s *Service) SyncTimer(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) { s.rearm(ctx) })
}

// Status returns a snapshot for the control surface.
func (s *Service) Status(ctx context.Context) (EngineStatus, error) {
	var (
		st   EngineStatus
		oerr error
	)
	err := s.do(ctx, func(ctx context.Context) {
		paused, err := s.store.Paused(ctx)
		if err != nil {
			oerr = err
			return
		}
		posts, err := s.store.List(ctx)
		if err != nil {
			oerr = err
			return
		}
		counts := map[string]int{}
		for _, p := range posts {
			counts[string(p.Status)]++
		}
		st = EngineStatus{Paused: paused, NextWakeAt: s.nextWakeAt, Counts: counts}
	})
	if err != nil {
		return EngineStatus{}, err
	}
	return st, oerr
}

// ---- Manual delivery ----

// PostNow publishes immediately with a synthetic job. Nothing is written
// to the store; the result goes straight back to the caller.
func (s *Service) PostNow(ctx context.Context, slug, title, body, mediaURL string) (driver.Result, error) {
	var res driver.Result
	err := s.do(ctx, func(ctx context.Context) {
		res = s.attempt(ctx, driver.Job{
			PostID:          PostNowID,
			DestinationSlug: slug,
			Title:           title,
			Body:            body,
			MediaURL:        mediaURL,
		})
	})
	if err != nil {
		return driver.Result{}, err
	}
	return res, nil
}

// RunScheduled forces a delivery attempt for a stored post, regardless of
// its ScheduledAt. The outcome is persisted exactly like a timer attempt.
func (s *Service) RunScheduled(ctx context.Context, id string) (driver.Result, error) {
	var (
		res  driver.Result
		oerr error
	)
	err := s.do(ctx, func(ctx context.Context) {
		post, err := s.store.Get(ctx, id)
		if err != nil {
			oerr = err
			return
		}
		res = s.deliver(ctx, post)
	})
	if err != nil {
		return driver.Result{}, err
	}
	return res, oerr
}

// patchPreview mirrors the store's merge semantics for constraint
// validation without writing anything.
func patchPreview(post *storage.ScheduledPost, p storage.Patch) {
	if p.DestinationID != nil {
		post.DestinationID = *p.DestinationID
	}
	if p.DestinationSlug != nil {
		post.DestinationSlug = *p.DestinationSlug
	}
	if p.ScheduledAt != nil {
		post.ScheduledAt = *p.ScheduledAt
	}
	if p.Status != nil {
		post.Status = *p.Status
	}
}
