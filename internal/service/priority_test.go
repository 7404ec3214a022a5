package service

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var scoreNow = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

func plainOrder(createdDaysAgo, promisedInDays int) PriorityInputs {
	return PriorityInputs{
		CreatedAt:    scoreNow.Add(-time.Duration(createdDaysAgo) * 24 * time.Hour),
		PromisedDate: scoreNow.Add(time.Duration(promisedInDays) * 24 * time.Hour),
	}
}

func TestScoreOverdue(t *testing.T) {
	s := Score(plainOrder(10, -4), scoreNow, 3)
	assert.Equal(t, 4, s.DaysOverdue)
	assert.Equal(t, 0, s.AlmostDue)
	assert.True(t, s.Expedited())
	assert.True(t, s.TimeCritical())

	// Past due by less than a whole day still counts as overdue.
	justPast := plainOrder(10, 0)
	justPast.PromisedDate = scoreNow.Add(-time.Hour)
	s = Score(justPast, scoreNow, 3)
	assert.Equal(t, 1, s.DaysOverdue)
}

func TestScoreAlmostDueWindow(t *testing.T) {
	inside := Score(plainOrder(10, 2), scoreNow, 3)
	assert.Equal(t, 1, inside.AlmostDue)
	assert.Equal(t, 0, inside.DaysOverdue)
	assert.True(t, inside.TimeCritical())
	assert.False(t, inside.Expedited())

	outside := Score(plainOrder(10, 5), scoreNow, 3)
	assert.Equal(t, 0, outside.AlmostDue)
	assert.False(t, outside.TimeCritical())
}

func TestCompareTierDominance(t *testing.T) {
	manual := Score(PriorityInputs{
		ManualExpedite: 1,
		CreatedAt:      scoreNow.Add(-time.Hour),
		PromisedDate:   scoreNow.Add(30 * 24 * time.Hour),
	}, scoreNow, 3)
	paid := Score(PriorityInputs{
		PaidExpedite: 3,
		CreatedAt:    scoreNow.Add(-90 * 24 * time.Hour),
		PromisedDate: scoreNow.Add(30 * 24 * time.Hour),
	}, scoreNow, 3)
	overdue := Score(plainOrder(90, -30), scoreNow, 3)
	almostDue := Score(plainOrder(90, 1), scoreNow, 3)
	old := Score(plainOrder(365, 60), scoreNow, 3)

	// A fresh manual expedite outranks everything, including an order a
	// month overdue or a year old.
	assert.Positive(t, Compare(manual, paid))
	assert.Positive(t, Compare(manual, overdue))
	assert.Positive(t, Compare(paid, overdue))
	assert.Positive(t, Compare(overdue, almostDue))
	assert.Positive(t, Compare(almostDue, old))
	assert.Negative(t, Compare(old, manual))
}

func TestCompareAgeTiebreak(t *testing.T) {
	older := Score(plainOrder(20, 30), scoreNow, 3)
	newer := Score(plainOrder(5, 30), scoreNow, 3)

	assert.Positive(t, Compare(older, newer))
	assert.Equal(t, 0, Compare(older, older))
}

func TestCompareSortIsDeterministic(t *testing.T) {
	scores := []PriorityScore{
		Score(plainOrder(5, 30), scoreNow, 3),
		Score(plainOrder(90, -30), scoreNow, 3),
		Score(plainOrder(90, 1), scoreNow, 3),
		Score(PriorityInputs{ManualExpedite: 2, CreatedAt: scoreNow, PromisedDate: scoreNow.Add(time.Hour)}, scoreNow, 3),
		Score(plainOrder(365, 60), scoreNow, 3),
	}

	sortDesc := func(in []PriorityScore) []PriorityScore {
		out := append([]PriorityScore(nil), in...)
		sort.SliceStable(out, func(i, j int) bool {
			return Compare(out[i], out[j]) > 0
		})
		return out
	}

	first := sortDesc(scores)
	assert.Equal(t, first, sortDesc(scores))

	for i := 0; i < len(first)-1; i++ {
		assert.GreaterOrEqual(t, Compare(first[i], first[i+1]), 0)
	}
	assert.Equal(t, 2, first[0].ManualExpedite)
}
