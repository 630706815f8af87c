package calculator

import (
	"time"

	"lapse-cohort/pkg/models"
)

// dateOnly truncates t to midnight UTC.
func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// elapsedDays is the number of whole calendar days between last and ref, never negative.
func elapsedDays(ref, last time.Time) int {
	r, l := dateOnly(ref), dateOnly(last)
	if l.After(r) {
		return 0
	}
	return int(r.Sub(l).Hours() / 24)
}

// LedgerWindow returns the [from, to] event date range of a run: from the start of the
// lookback horizon up to the reference instant itself, both inclusive. The horizon is
// widened when a short calendar span would cut into the lapse window.
func LedgerWindow(p models.Params) (from, to time.Time) {
	ref := dateOnly(p.ReferenceInstant)
	from = ref.AddDate(0, -p.LookbackMonths, 0)
	if floor := ref.AddDate(0, 0, -p.UpperDays); floor.Before(from) {
		from = floor
	}
	return from, p.ReferenceInstant.UTC()
}
