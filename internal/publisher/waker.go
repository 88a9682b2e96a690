package publisher

import (
	"context"
	"time"

	"postpulse/internal/driver"
	"postpulse/internal/eventbus"
	"postpulse/internal/schedule"
	"postpulse/internal/storage"
	logx "postpulse/pkg/logx"
)

// The whole queue shares one wake timer. rearm always clears before it
// arms, so there is never more than one pending wake.

func (s *Service) stopTimer() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timerSet = false
	s.nextWakeAt = time.Time{}
}

// rearm derives the next wake from the store: the earliest strictly
// future ScheduledAt among deliverable posts. Paused engine arms nothing.
func (s *Service) rearm(ctx context.Context) {
	s.stopTimer()

	paused, err := s.store.Paused(ctx)
	if err != nil {
		s.log.Warn("pause flag read failed; leaving timer cleared", logx.Err(err))
		return
	}
	if paused {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTimerCleared})
		s.log.Debug("scheduler paused; wake timer cleared")
		return
	}

	posts, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("queue read failed; leaving timer cleared", logx.Err(err))
		return
	}

	now := s.now()
	var next time.Time
	for _, p := range posts {
		if !deliverable(p.Status) {
			continue
		}
		if !p.ScheduledAt.After(now) {
			continue
		}
		if next.IsZero() || p.ScheduledAt.Before(next) {
			next = p.ScheduledAt
		}
	}
	if next.IsZero() {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTimerCleared})
		return
	}

	s.timer.Reset(next.Sub(now))
	s.timerSet = true
	s.nextWakeAt = next
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTimerArmed, Data: next})
	s.log.Debug("wake timer armed", logx.Time("at", next))
}

// deliverable statuses are eligible for timer delivery. PAUSED records
// occupy constraint capacity but are skipped here.
func deliverable(st storage.Status) bool {
	return st == storage.StatusQueued || st == storage.StatusScheduled
}

// onWake handles a timer fire: pick at most one due post, deliver it,
// persist the outcome, re-derive the timer. Remaining due posts are
// picked up by subsequent wakes.
func (s *Service) onWake(ctx context.Context) {
	posts, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("queue read failed on wake", logx.Err(err))
		s.rearm(ctx)
		return
	}

	due := selectDue(posts, s.now().Add(s.cfg.DueTolerance))
	if due == nil {
		s.rearm(ctx)
		return
	}
	s.log.Info("post due",
		logx.String("post_id", due.ID),
		logx.Time("scheduled_at", due.ScheduledAt),
	)
	s.deliver(ctx, *due)
}

// selectDue returns the earliest deliverable post with ScheduledAt at or
// before the cutoff, or nil.
func selectDue(posts []storage.ScheduledPost, cutoff time.Time) *storage.ScheduledPost {
	var due *storage.ScheduledPost
	for i := range posts {
		p := &posts[i]
		if !deliverable(p.Status) {
			continue
		}
		if p.ScheduledAt.After(cutoff) {
			continue
		}
		if due == nil || p.ScheduledAt.Before(due.ScheduledAt) {
			due = p
		}
	}
	return due
}

// deliver runs one attempt for a stored post, applies the outcome and
// re-arms the timer. Exactly one store update happens per attempt.
func (s *Service) deliver(ctx context.Context, post storage.ScheduledPost) driver.Result {
	res := s.attempt(ctx, jobFor(post))
	s.applyOutcome(ctx, post, res)
	s.rearm(ctx)
	return res
}

func jobFor(post storage.ScheduledPost) driver.Job {
	slug := post.DestinationSlug
	if slug == "" {
		slug = post.DestinationID
	}
	return driver.Job{
		PostID:          post.ID,
		DestinationSlug: slug,
		Title:           post.Title,
		Body:            post.Body,
		MediaURL:        post.MediaURL,
	}
}

// attempt runs the driver under the attempt timeout. No store access.
func (s *Service) attempt(ctx context.Context, job driver.Job) driver.Result {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventPostAttempt, Data: OutcomeEvent{
		PostID:      job.PostID,
		Destination: job.DestinationSlug,
		Title:       job.Title,
	}})

	actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	started := time.Now()
	res := s.drv.Publish(actx, job)
	took := time.Since(started)

	if res.Success() {
		s.log.Info("delivery succeeded",
			logx.String("post_id", job.PostID),
			logx.Duration("took", took),
		)
	} else {
		s.log.Warn("delivery failed",
			logx.String("post_id", job.PostID),
			logx.String("code", res.Code),
			logx.String("msg", res.Message),
			logx.Duration("took", took),
		)
	}
	return res
}

// applyOutcome is the retry state machine:
//
//	success            -> PUBLISHED, lastError cleared
//	transient failure  -> retryCount+1 (capped); FAILED at the cap,
//	                      SCHEDULED otherwise; ScheduledAt untouched
//	terminal failure   -> FAILED immediately
func (s *Service) applyOutcome(ctx context.Context, post storage.ScheduledPost, res driver.Result) {
	if res.Success() {
		_, err := s.store.Update(ctx, post.ID, storage.Patch{
			Status:         storage.StatusPtr(storage.StatusPublished),
			ClearLastError: true,
		})
		if err != nil {
			s.log.Error("outcome write failed", logx.String("post_id", post.ID), logx.Err(err))
			return
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.EventPostPublished, Data: OutcomeEvent{
			PostID:      post.ID,
			Destination: post.DestinationSlug,
			Title:       post.Title,
			Final:       true,
		}})
		return
	}

	rc := post.RetryCount + 1
	if rc > schedule.MaxRetries {
		rc = schedule.MaxRetries
	}
	status := storage.StatusScheduled
	final := false
	if res.Kind == driver.KindTerminal || rc >= schedule.MaxRetries {
		status = storage.StatusFailed
		final = true
	}

	_, err := s.store.Update(ctx, post.ID, storage.Patch{
		Status:     storage.StatusPtr(status),
		RetryCount: storage.IntPtr(rc),
		LastError:  &storage.PostError{Code: res.Code, Message: res.Message},
	})
	if err != nil {
		s.log.Error("outcome write failed", logx.String("post_id", post.ID), logx.Err(err))
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.EventPostFailed, Data: OutcomeEvent{
		PostID:      post.ID,
		Destination: post.DestinationSlug,
		Title:       post.Title,
		Code:        res.Code,
		Message:     res.Message,
		RetryCount:  rc,
		Final:       final,
	}})
}
