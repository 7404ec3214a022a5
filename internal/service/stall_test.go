package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-16 is a Monday.
var monday = time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)

func TestBusinessDaysBetween(t *testing.T) {
	assert.Equal(t, 0, BusinessDaysBetween(monday, monday))
	assert.Equal(t, 0, BusinessDaysBetween(monday, monday.Add(-48*time.Hour)))

	// Monday to Friday of the same week.
	assert.Equal(t, 4, BusinessDaysBetween(monday, monday.Add(4*24*time.Hour)))

	// Friday to the following Monday crosses only the weekend.
	friday := monday.Add(4 * 24 * time.Hour)
	assert.Equal(t, 1, BusinessDaysBetween(friday, friday.Add(3*24*time.Hour)))

	// Two full calendar weeks hold ten business days.
	assert.Equal(t, 10, BusinessDaysBetween(monday, monday.Add(14*24*time.Hour)))
}

func newTestMonitor() *StallMonitor {
	return NewStallMonitor(nil, nil, StallConfig{
		ThresholdBusinessDays: 5,
		ScanInterval:          24 * time.Hour,
		RealertBase:           24 * time.Hour,
	})
}

func TestStallAlertsAfterThreshold(t *testing.T) {
	m := newTestMonitor()
	lastActivity := monday

	// Four business days idle is below the five-day threshold.
	now := monday.Add(4 * 24 * time.Hour)
	_, fire := m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, now), now)
	assert.False(t, fire)
	assert.Empty(t, m.CurrentStalls())

	// Six business days idle crosses it.
	now = monday.Add(8 * 24 * time.Hour)
	occurrence, fire := m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, now), now)
	assert.True(t, fire)
	assert.Equal(t, 1, occurrence)

	stalls := m.CurrentStalls()
	require.Len(t, stalls, 1)
	assert.Equal(t, int64(1), stalls[0].BatchID)
}

func TestStallRealertBacksOff(t *testing.T) {
	m := newTestMonitor()
	lastActivity := monday
	now := monday.Add(8 * 24 * time.Hour)

	_, fire := m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, now), now)
	require.True(t, fire)

	// Still stalled an hour later, but inside the re-alert window.
	later := now.Add(time.Hour)
	_, fire = m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, later), later)
	assert.False(t, fire)

	// Second alert after the base interval, third only after double that.
	later = now.Add(25 * time.Hour)
	occurrence, fire := m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, later), later)
	require.True(t, fire)
	assert.Equal(t, 2, occurrence)

	tooSoon := later.Add(25 * time.Hour)
	_, fire = m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, tooSoon), tooSoon)
	assert.False(t, fire)

	third := later.Add(49 * time.Hour)
	occurrence, fire = m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, third), third)
	require.True(t, fire)
	assert.Equal(t, 3, occurrence)
}

func TestStallActivityResetsEpisode(t *testing.T) {
	m := newTestMonitor()
	lastActivity := monday
	now := monday.Add(8 * 24 * time.Hour)

	_, fire := m.advance(1, lastActivity, BusinessDaysBetween(lastActivity, now), now)
	require.True(t, fire)

	// A lifecycle touch moves last_activity; the episode clears as soon as
	// idle time drops under the threshold.
	touched := now
	soonAfter := touched.Add(24 * time.Hour)
	_, fire = m.advance(1, touched, BusinessDaysBetween(touched, soonAfter), soonAfter)
	assert.False(t, fire)
	assert.Empty(t, m.CurrentStalls())

	// When the batch stalls again the occurrence count starts over.
	muchLater := touched.Add(10 * 24 * time.Hour)
	occurrence, fire := m.advance(1, touched, BusinessDaysBetween(touched, muchLater), muchLater)
	require.True(t, fire)
	assert.Equal(t, 1, occurrence)
}
