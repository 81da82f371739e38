package core

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts classic five-field cron expressions: minute hour
// day-of-month month day-of-week. No seconds field, no macros.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextAfter computes the next UTC firing of expr strictly after reference.
// An unparseable expression returns InvalidCronError; the caller (the
// scheduler) logs and skips that schedule entry rather than aborting the
// tick.
func NextAfter(expr string, reference time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, &InvalidCronError{Expr: expr, Err: err}
	}
	return sched.Next(reference.UTC()).UTC(), nil
}

// EarliestNextRun returns the earliest of NextAfter(entry.Cron, reference)
// across every schedule entry, skipping (and the caller may log) any entry
// whose cron expression is invalid. Returns ok=false if no entry produced a
// valid firing.
func EarliestNextRun(entries []ManifestScheduleEntry, reference time.Time) (next time.Time, ok bool, invalid []error) {
	for _, e := range entries {
		t, err := NextAfter(e.Cron, reference)
		if err != nil {
			invalid = append(invalid, err)
			continue
		}
		if !ok || t.Before(next) {
			next = t
			ok = true
		}
	}
	return next, ok, invalid
}
