package schedule

import (
	"fmt"
	"time"
)

// Frequency enumerates supported digest cadences.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Settings is the singleton digest schedule configuration.
type Settings struct {
	Frequency Frequency `json:"frequency"`
	// DayOfWeek uses ISO numbering, 1=Monday..7=Sunday. Only meaningful for
	// weekly frequency; zero falls back to Monday.
	DayOfWeek int `json:"day_of_week,omitempty"`
	// Hour is the send hour of day, 0..23.
	Hour int `json:"hour"`
}

// Validate checks the settings for admin writes.
func (s Settings) Validate() error {
	switch s.Frequency {
	case FrequencyDaily, FrequencyWeekly:
	default:
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour must be within 0..23, got %d", s.Hour)
	}
	if s.Frequency == FrequencyWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 7) {
		return fmt.Errorf("day_of_week must be within 1..7, got %d", s.DayOfWeek)
	}
	return nil
}

// NextSendTime computes the next valid send slot. The slot is pinned to the
// configured hour on the calendar day of lastSentAt (or of now when never
// sent) and rolled forward one day/week when lastSentAt already passed it.
// A zero lastSentAt never rolls, so the slot may lie in the past and the
// first evaluation at/after it fires.
func NextSendTime(now time.Time, lastSentAt time.Time, cfg Settings) time.Time {
	base := lastSentAt
	if base.IsZero() {
		base = now
	}

	slot := time.Date(base.Year(), base.Month(), base.Day(), cfg.Hour, 0, 0, 0, base.Location())

	switch cfg.Frequency {
	case FrequencyWeekly:
		day := cfg.DayOfWeek
		if day < 1 || day > 7 {
			day = 1
		}
		slot = slot.AddDate(0, 0, daysUntilISOWeekday(slot, day))
		if !lastSentAt.IsZero() && !lastSentAt.Before(slot) {
			slot = slot.AddDate(0, 0, 7)
		}
	default: // daily
		if !lastSentAt.IsZero() && !lastSentAt.Before(slot) {
			slot = slot.AddDate(0, 0, 1)
		}
	}

	return slot
}

// ShouldSend reports whether now is a valid send moment given the persisted
// last-send marker. The function is stateless; the caller must update the
// marker atomically with send success to stay idempotent across repeated
// coarse ticks.
func ShouldSend(now time.Time, lastSentAt time.Time, cfg Settings) bool {
	next := NextSendTime(now, lastSentAt, cfg)
	if !lastSentAt.IsZero() && !lastSentAt.Before(next) {
		return false
	}
	return !now.Before(next)
}

// daysUntilISOWeekday returns how many days forward from t until the ISO
// weekday target (1=Monday..7=Sunday). Zero when t already falls on it.
func daysUntilISOWeekday(t time.Time, target int) int {
	current := int(t.Weekday())
	if current == 0 {
		current = 7 // Sunday
	}
	return (target - current + 7) % 7
}
