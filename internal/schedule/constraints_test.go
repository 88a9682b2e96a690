package schedule

import (
	"strings"
	"testing"
	"time"

	"postpulse/internal/storage"
)

func post(id, dest, slug string, at time.Time, status storage.Status) storage.ScheduledPost {
	return storage.ScheduledPost{
		ID:              id,
		DestinationID:   dest,
		DestinationSlug: slug,
		ScheduledAt:     at,
		Status:          status,
	}
}

func TestValidateEmptyQueue(t *testing.T) {
	at := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	errs := Validate(post("", "c1", "", at, storage.StatusQueued), nil, time.UTC)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateDestinationCap(t *testing.T) {
	day := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(8*time.Hour), storage.StatusQueued),
		post("b", "c1", "", day.Add(12*time.Hour), storage.StatusScheduled),
		post("c", "c1", "", day.Add(16*time.Hour), storage.StatusPaused),
	}
	// Next day, far from everything: only the destination cap should trip.
	cand := post("", "c1", "", day.Add(34*time.Hour), storage.StatusQueued)
	errs := Validate(cand, existing, time.UTC)
	if len(errs) != 1 || !strings.Contains(errs[0], "Community limit reached") {
		t.Fatalf("expected community limit error, got %v", errs)
	}

	// A different destination at the same instant is fine.
	cand2 := post("", "c2", "", day.Add(34*time.Hour), storage.StatusQueued)
	if errs := Validate(cand2, existing, time.UTC); len(errs) != 0 {
		t.Fatalf("expected no errors for other destination, got %v", errs)
	}
}

func TestValidateTerminalPostsDoNotCount(t *testing.T) {
	day := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(8*time.Hour), storage.StatusPublished),
		post("b", "c1", "", day.Add(12*time.Hour), storage.StatusFailed),
		post("c", "c1", "", day.Add(16*time.Hour), storage.StatusPublished),
	}
	cand := post("", "c1", "", day.Add(34*time.Hour), storage.StatusQueued)
	if errs := Validate(cand, existing, time.UTC); len(errs) != 0 {
		t.Fatalf("terminal posts should not occupy capacity, got %v", errs)
	}
}

func TestValidateSlugPreferredOverID(t *testing.T) {
	day := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	// Same destination id but different slugs: not the same community.
	existing := []storage.ScheduledPost{
		post("a", "c1", "alpha", day.Add(8*time.Hour), storage.StatusQueued),
		post("b", "c1", "alpha", day.Add(12*time.Hour), storage.StatusQueued),
		post("c", "c1", "alpha", day.Add(16*time.Hour), storage.StatusQueued),
	}
	cand := post("", "c1", "beta", day.Add(34*time.Hour), storage.StatusQueued)
	if errs := Validate(cand, existing, time.UTC); len(errs) != 0 {
		t.Fatalf("different slug should not hit community cap, got %v", errs)
	}

	// Candidate without a slug falls back to id matching.
	cand2 := post("", "c1", "", day.Add(34*time.Hour), storage.StatusQueued)
	errs := Validate(cand2, existing, time.UTC)
	if len(errs) != 1 || !strings.Contains(errs[0], "Community limit reached") {
		t.Fatalf("expected id fallback to hit cap, got %v", errs)
	}
}

func TestValidateDailyCapScenario(t *testing.T) {
	// Three active posts on 2026-02-18 at 09:00, 13:00, 17:00 (different
	// destinations). A fourth at 21:00 must fail only the daily cap.
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(9*time.Hour), storage.StatusScheduled),
		post("b", "c2", "", day.Add(13*time.Hour), storage.StatusScheduled),
		post("c", "c3", "", day.Add(17*time.Hour), storage.StatusScheduled),
	}
	cand := post("", "c4", "", day.Add(21*time.Hour), storage.StatusQueued)
	errs := Validate(cand, existing, time.UTC)
	if len(errs) != 1 || !strings.Contains(errs[0], "Daily limit reached") {
		t.Fatalf("expected only daily limit error, got %v", errs)
	}
}

func TestValidateSpacingSingleError(t *testing.T) {
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(10*time.Hour), storage.StatusScheduled),
		post("b", "c2", "", day.Add(11*time.Hour), storage.StatusScheduled),
	}
	// 10:30 is within 2h of both, but the spacing rule reports once.
	cand := post("", "c3", "", day.Add(10*time.Hour+30*time.Minute), storage.StatusQueued)
	errs := Validate(cand, existing, time.UTC)
	count := 0
	for _, e := range errs {
		if strings.Contains(e, "Too close to another post") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one spacing error, got %v", errs)
	}

	// Exactly 2h away is allowed (strict inequality).
	cand2 := post("", "c3", "", day.Add(13*time.Hour), storage.StatusQueued)
	for _, e := range Validate(cand2, existing, time.UTC) {
		if strings.Contains(e, "Too close") {
			t.Fatalf("2h boundary should pass, got %v", e)
		}
	}
}

func TestValidateExcludesOwnRecord(t *testing.T) {
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("self", "c1", "", day.Add(10*time.Hour), storage.StatusScheduled),
	}
	// Rescheduling "self" an hour later must not collide with itself.
	cand := post("self", "c1", "", day.Add(11*time.Hour), storage.StatusScheduled)
	if errs := Validate(cand, existing, time.UTC); len(errs) != 0 {
		t.Fatalf("candidate collided with its own record: %v", errs)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(9*time.Hour), storage.StatusQueued),
		post("b", "c1", "", day.Add(13*time.Hour), storage.StatusQueued),
		post("c", "c1", "", day.Add(17*time.Hour), storage.StatusQueued),
	}
	// Same community, same day, 30min from an existing post: all three rules.
	cand := post("", "c1", "", day.Add(9*time.Hour+30*time.Minute), storage.StatusQueued)
	errs := Validate(cand, existing, time.UTC)
	if len(errs) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(errs), errs)
	}
}

func TestNextAvailableSlotEmptyQueue(t *testing.T) {
	preferred := time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
	got := NextAvailableSlot(preferred, nil, time.UTC)
	if !got.Equal(preferred) {
		t.Fatalf("expected preferred instant back, got %v", got)
	}
}

func TestNextAvailableSlotSpacingConflict(t *testing.T) {
	// Existing post at 14:00; preferred 15:00 conflicts, suggestion is
	// min(15:00, 14:00) + 2h = 16:00.
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(14*time.Hour), storage.StatusScheduled),
	}
	got := NextAvailableSlot(day.Add(15*time.Hour), existing, time.UTC)
	want := day.Add(16 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestNextAvailableSlotDayRollover(t *testing.T) {
	// Day full: suggestion starts at the next day's midnight.
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(9*time.Hour), storage.StatusQueued),
		post("b", "c2", "", day.Add(13*time.Hour), storage.StatusQueued),
		post("c", "c3", "", day.Add(17*time.Hour), storage.StatusQueued),
	}
	got := NextAvailableSlot(day.Add(15*time.Hour), existing, time.UTC)
	want := time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestNextAvailableSlotChainedConflicts(t *testing.T) {
	// Two posts 2h apart: a preferred time inside the first window must be
	// pushed past both.
	day := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", day.Add(10*time.Hour), storage.StatusQueued),
		post("b", "c2", "", day.Add(12*time.Hour), storage.StatusQueued),
	}
	got := NextAvailableSlot(day.Add(10*time.Hour+30*time.Minute), existing, time.UTC)
	want := day.Add(14 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestNextAvailableSlotIgnoresDestinationCap(t *testing.T) {
	// Three active posts for one community on a previous day: the slot
	// search still returns the preferred time. Validation is what rejects
	// a fourth post for this community.
	prev := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	existing := []storage.ScheduledPost{
		post("a", "c1", "", prev.Add(8*time.Hour), storage.StatusQueued),
		post("b", "c1", "", prev.Add(12*time.Hour), storage.StatusQueued),
		post("c", "c1", "", prev.Add(16*time.Hour), storage.StatusQueued),
	}
	preferred := time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
	got := NextAvailableSlot(preferred, existing, time.UTC)
	if !got.Equal(preferred) {
		t.Fatalf("slot search must ignore the destination cap; got %v", got)
	}
	if errs := Validate(post("", "c1", "", got, storage.StatusQueued), existing, time.UTC); len(errs) == 0 {
		t.Fatalf("validation should still reject the suggested slot")
	}
}
