// Package usage tracks per-user usage counters keyed by calendar period.
//
// Counters are keyed by (user, kind, period key). A new day or hour produces
// a new key, so rollover is implicit and no reset job is needed; old keys
// are left to the storage retention policy. Counters only ever increment.
package usage

import (
	"context"
	"time"
)

// Kind distinguishes what a counter is counting.
type Kind string

const (
	// KindAnalysis counts deepfake analyses, keyed by day.
	KindAnalysis Kind = "analysis"
	// KindAPI counts API requests, keyed by hour and by day.
	KindAPI Kind = "api"
)

// Period key layouts. Keys are derived from an explicit time and location so
// day-boundary behavior is deterministic and testable.
const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// DayKey returns the day period key for t in the given location.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// HourKey returns the hour period key for t in the given location.
func HourKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(hourLayout)
}

// NextDayStart returns the start of the next calendar day after t in loc.
func NextDayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// NextHourStart returns the start of the next clock hour after t in loc.
func NextHourStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc).Add(time.Hour)
}

// Store persists usage counters.
//
// Increment must be atomic per (user, kind, period) so concurrent calls for
// the same user never lose updates. Get treats an absent counter as zero,
// never as an error.
type Store interface {
	Increment(ctx context.Context, userID string, kind Kind, period string) (int64, error)
	Get(ctx context.Context, userID string, kind Kind, period string) (int64, error)
	// TotalForPeriod sums a kind's counters across all users for one period.
	TotalForPeriod(ctx context.Context, kind Kind, period string) (int64, error)
}
