// Package schedule holds the pure scheduling rules: insertion constraints
// and the next-free-slot search. No storage, no clocks, no goroutines.
package schedule

import (
	"fmt"
	"time"

	"postpulse/internal/storage"
)

const (
	// MaxActivePerDestination caps active posts aimed at one community.
	MaxActivePerDestination = 3
	// MaxPerDay caps active posts on one calendar day, across communities.
	MaxPerDay = 3
	// MinGap is the minimum spacing between any two active posts.
	MinGap = 2 * time.Hour
	// MaxRetries is the delivery attempt cap before a post is parked as FAILED.
	MaxRetries = 2
)

// Validate checks a candidate post against every insertion constraint and
// returns all violated rules, not just the first. An empty slice means the
// candidate is admissible.
//
// The candidate's own record (matched by ID) is excluded from the existing
// set, so rescheduling a post never collides with itself. Only active
// posts (QUEUED, SCHEDULED, PAUSED) count against capacity.
func Validate(candidate storage.ScheduledPost, existing []storage.ScheduledPost, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}

	others := activeOthers(candidate.ID, existing)
	var errs []string

	sameDest := 0
	for _, p := range others {
		if sameDestination(candidate, p) {
			sameDest++
		}
	}
	if sameDest >= MaxActivePerDestination {
		errs = append(errs, fmt.Sprintf("Community limit reached: max %d queued posts for this community.", MaxActivePerDestination))
	}

	day := dayKey(candidate.ScheduledAt, loc)
	sameDay := 0
	for _, p := range others {
		if dayKey(p.ScheduledAt, loc) == day {
			sameDay++
		}
	}
	if sameDay >= MaxPerDay {
		errs = append(errs, fmt.Sprintf("Daily limit reached: max %d scheduled posts per day.", MaxPerDay))
	}

	// One spacing error regardless of how many posts are too close.
	for _, p := range others {
		if absDuration(candidate.ScheduledAt.Sub(p.ScheduledAt)) < MinGap {
			errs = append(errs, "Too close to another post: keep at least 2 hours between scheduled posts.")
			break
		}
	}

	return errs
}

// NextAvailableSlot greedily searches forward from preferred for the first
// instant satisfying the day cap and the spacing rule.
//
// The per-destination cap is intentionally not consulted: the suggestion
// answers "when is the calendar free", not "may this community take another
// post". Callers must still run Validate on the suggested slot.
func NextAvailableSlot(preferred time.Time, existing []storage.ScheduledPost, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}

	active := activeOthers("", existing)
	candidate := preferred

	for {
		day := dayKey(candidate, loc)
		sameDay := 0
		for _, p := range active {
			if dayKey(p.ScheduledAt, loc) == day {
				sameDay++
			}
		}
		if sameDay >= MaxPerDay {
			// Day is full: jump to the next day's midnight.
			c := candidate.In(loc)
			candidate = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, loc)
			continue
		}

		tooClose := false
		for _, p := range active {
			if absDuration(candidate.Sub(p.ScheduledAt)) < MinGap {
				tooClose = true
				earlier := candidate
				if p.ScheduledAt.Before(earlier) {
					earlier = p.ScheduledAt
				}
				candidate = earlier.Add(MinGap)
				break
			}
		}
		if !tooClose {
			return candidate
		}
	}
}

// sameDestination matches by slug when both posts carry one, otherwise by
// destination id. Mixed pairs (one slug set, one not) fall back to the id.
func sameDestination(a, b storage.ScheduledPost) bool {
	if a.DestinationSlug != "" && b.DestinationSlug != "" {
		return a.DestinationSlug == b.DestinationSlug
	}
	return a.DestinationID == b.DestinationID
}

func activeOthers(excludeID string, existing []storage.ScheduledPost) []storage.ScheduledPost {
	out := make([]storage.ScheduledPost, 0, len(existing))
	for _, p := range existing {
		if !p.Status.Active() {
			continue
		}
		if excludeID != "" && p.ID == excludeID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
