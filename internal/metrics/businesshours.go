// Package metrics derives dashboard views from cached pull request
// snapshots. All functions are pure and safe to recompute on every call.
package metrics

import "time"

// BusinessHours returns the elapsed hours between start and end counting
// only Monday-Friday time. Weekend spans contribute zero; multi-day spans
// accumulate whole weekday days plus the partial first and last days.
//
// Simplification: no holiday calendar and no working-hour window, weekdays
// count around the clock.
func BusinessHours(start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() {
		return 0
	}

	if sameDate(start, end) {
		if isWeekend(start) {
			return 0
		}
		return end.Sub(start).Hours()
	}

	total := 0.0
	current := start
	for midnight(current).Before(midnight(end)) {
		next := midnight(current).AddDate(0, 0, 1)
		if !isWeekend(current) {
			total += next.Sub(current).Hours()
		}
		current = next
	}
	if !isWeekend(end) {
		total += end.Sub(midnight(end)).Hours()
	}
	return total
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
