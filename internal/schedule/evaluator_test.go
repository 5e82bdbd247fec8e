package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{Frequency: FrequencyDaily, Hour: 9}.Validate())
	assert.NoError(t, Settings{Frequency: FrequencyWeekly, DayOfWeek: 7, Hour: 0}.Validate())
	assert.Error(t, Settings{Frequency: "hourly", Hour: 9}.Validate())
	assert.Error(t, Settings{Frequency: FrequencyDaily, Hour: 24}.Validate())
	assert.Error(t, Settings{Frequency: FrequencyWeekly, DayOfWeek: 8, Hour: 9}.Validate())
}

func TestShouldSendDailyRepeatedTicks(t *testing.T) {
	cfg := Settings{Frequency: FrequencyDaily, Hour: 9}
	lastSent := mustTime(t, "2026-01-02T09:15:00Z")

	// Ticks later the same day must not fire again.
	assert.False(t, ShouldSend(mustTime(t, "2026-01-02T09:20:00Z"), lastSent, cfg))
	assert.False(t, ShouldSend(mustTime(t, "2026-01-02T23:59:00Z"), lastSent, cfg))

	// Before the next day's slot: no. At or after: yes.
	assert.False(t, ShouldSend(mustTime(t, "2026-01-03T08:59:00Z"), lastSent, cfg))
	assert.True(t, ShouldSend(mustTime(t, "2026-01-03T09:00:00Z"), lastSent, cfg))
	assert.True(t, ShouldSend(mustTime(t, "2026-01-03T09:30:00Z"), lastSent, cfg))
}

func TestShouldSendNeverSent(t *testing.T) {
	cfg := Settings{Frequency: FrequencyDaily, Hour: 9}

	// With no marker the first tick at or after the pinned hour fires, even
	// hours late.
	assert.False(t, ShouldSend(mustTime(t, "2026-01-02T08:59:00Z"), time.Time{}, cfg))
	assert.True(t, ShouldSend(mustTime(t, "2026-01-02T09:00:00Z"), time.Time{}, cfg))
	assert.True(t, ShouldSend(mustTime(t, "2026-01-02T15:00:00Z"), time.Time{}, cfg))
}

func TestShouldSendWeekly(t *testing.T) {
	// 2026-01-05 is a Monday.
	cfg := Settings{Frequency: FrequencyWeekly, DayOfWeek: 1, Hour: 9}
	lastSent := mustTime(t, "2026-01-05T09:05:00Z")

	assert.False(t, ShouldSend(mustTime(t, "2026-01-05T10:00:00Z"), lastSent, cfg))
	assert.False(t, ShouldSend(mustTime(t, "2026-01-08T09:00:00Z"), lastSent, cfg))
	assert.False(t, ShouldSend(mustTime(t, "2026-01-12T08:30:00Z"), lastSent, cfg))
	assert.True(t, ShouldSend(mustTime(t, "2026-01-12T09:00:00Z"), lastSent, cfg))
}

func TestNextSendTimeWeeklyRollsToConfiguredDay(t *testing.T) {
	cfg := Settings{Frequency: FrequencyWeekly, DayOfWeek: 5, Hour: 18}

	// Last sent on a Monday; next slot is the Friday of the same week.
	lastSent := mustTime(t, "2026-01-05T18:00:00Z")
	next := NextSendTime(mustTime(t, "2026-01-06T00:00:00Z"), lastSent, cfg)
	assert.Equal(t, mustTime(t, "2026-01-09T18:00:00Z"), next)

	// Last sent on that Friday; next slot is a week later.
	lastSent = mustTime(t, "2026-01-09T18:10:00Z")
	next = NextSendTime(mustTime(t, "2026-01-10T00:00:00Z"), lastSent, cfg)
	assert.Equal(t, mustTime(t, "2026-01-16T18:00:00Z"), next)
}

func TestNextSendTimeDailyPinsHour(t *testing.T) {
	cfg := Settings{Frequency: FrequencyDaily, Hour: 7}

	// A late send (delayed by downtime) still pins the next slot to the
	// configured hour, not 24h after the actual send.
	lastSent := mustTime(t, "2026-01-02T11:45:00Z")
	next := NextSendTime(mustTime(t, "2026-01-02T12:00:00Z"), lastSent, cfg)
	assert.Equal(t, mustTime(t, "2026-01-03T07:00:00Z"), next)
}
