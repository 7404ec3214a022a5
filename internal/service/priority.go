package service

import (
	"time"

	"production-scheduler/internal/models"
)

// PriorityInputs are the order attributes that feed the score.
type PriorityInputs struct {
	ManualExpedite int
	PaidExpedite   int
	PromisedDate   time.Time
	CreatedAt      time.Time
}

// PriorityScore is a lexicographic tuple: each field dominates everything
// below it, so an operator expedite of any size always outranks a paid
// expedite, which outranks overdue pressure, and so on. Age is the final
// tiebreak, oldest first.
type PriorityScore struct {
	ManualExpedite int
	PaidExpedite   int
	DaysOverdue    int
	AlmostDue      int
	AgeSeconds     int64
}

// Comparator orders two scores. Positive means a outranks b. The overdue and
// almost-due tiers are deliberately pluggable; only the tier ordering is
// contractual.
type Comparator func(a, b PriorityScore) int

// Score computes an order's priority at a point in time. Pure.
func Score(in PriorityInputs, now time.Time, almostDueWindowDays int) PriorityScore {
	s := PriorityScore{
		ManualExpedite: in.ManualExpedite,
		PaidExpedite:   in.PaidExpedite,
		AgeSeconds:     int64(now.Sub(in.CreatedAt).Seconds()),
	}

	if now.After(in.PromisedDate) {
		s.DaysOverdue = int(now.Sub(in.PromisedDate).Hours() / 24)
		if s.DaysOverdue == 0 {
			s.DaysOverdue = 1
		}
	} else if almostDueWindowDays > 0 {
		window := time.Duration(almostDueWindowDays) * 24 * time.Hour
		if in.PromisedDate.Sub(now) <= window {
			s.AlmostDue = 1
		}
	}

	return s
}

// ScoreOrder derives PriorityInputs from an order row.
func ScoreOrder(o *models.Order, now time.Time, almostDueWindowDays int) PriorityScore {
	return Score(PriorityInputs{
		ManualExpedite: o.ManualExpedite,
		PaidExpedite:   o.PaidExpedite,
		PromisedDate:   o.PromisedDate,
		CreatedAt:      o.CreatedAt,
	}, now, almostDueWindowDays)
}

// Compare is the default comparator: strict lexicographic field order.
func Compare(a, b PriorityScore) int {
	if c := cmpInt(a.ManualExpedite, b.ManualExpedite); c != 0 {
		return c
	}
	if c := cmpInt(a.PaidExpedite, b.PaidExpedite); c != 0 {
		return c
	}
	if c := cmpInt(a.DaysOverdue, b.DaysOverdue); c != 0 {
		return c
	}
	if c := cmpInt(a.AlmostDue, b.AlmostDue); c != 0 {
		return c
	}
	return cmpInt64(a.AgeSeconds, b.AgeSeconds)
}

// Expedited reports whether the score sits above the capacity ceiling: the
// soft batch size limit never excludes these orders.
func (s PriorityScore) Expedited() bool {
	return s.ManualExpedite > 0 || s.PaidExpedite > 0 || s.DaysOverdue > 0
}

// TimeCritical reports promised-date risk; array optimization never trims
// units from a time-critical order.
func (s PriorityScore) TimeCritical() bool {
	return s.DaysOverdue > 0 || s.AlmostDue > 0
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
