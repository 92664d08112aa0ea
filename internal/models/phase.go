package models

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the lifecycle stage of an auction
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
)

// PhaseAt is the auction state machine. It is pure: the phase is always
// recomputed from the timestamps and never persisted.
func PhaseAt(start, end, now time.Time) Phase {
	switch {
	case now.Before(start):
		return PhaseWaiting
	case now.Before(end):
		return PhaseActive
	default:
		return PhaseEnded
	}
}

// Countdown is the time left until the next phase boundary
type Countdown struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// IsZero reports whether no time is left
func (c Countdown) IsZero() bool {
	return c == Countdown{}
}

// TotalSeconds collapses the countdown back to seconds
func (c Countdown) TotalSeconds() int64 {
	return ((c.Days*24+c.Hours)*60+c.Minutes)*60 + c.Seconds
}

func (c Countdown) String() string {
	return fmt.Sprintf("%dd %02d:%02d:%02d", c.Days, c.Hours, c.Minutes, c.Seconds)
}

// CountdownUntil splits the millisecond difference between target and now.
// A target in the past yields a zero countdown.
func CountdownUntil(target, now time.Time) Countdown {
	ms := target.Sub(now).Milliseconds()
	if ms <= 0 {
		return Countdown{}
	}
	return Countdown{
		Days:    ms / (1000 * 60 * 60 * 24),
		Hours:   (ms / (1000 * 60 * 60)) % 24,
		Minutes: (ms / (1000 * 60)) % 60,
		Seconds: (ms / 1000) % 60,
	}
}

// Boundary returns the next phase boundary: start while waiting, end while
// active. ok is false once the auction has ended.
func Boundary(start, end, now time.Time) (time.Time, bool) {
	switch PhaseAt(start, end, now) {
	case PhaseWaiting:
		return start, true
	case PhaseActive:
		return end, true
	default:
		return time.Time{}, false
	}
}

// RemainingAt returns the countdown to the next boundary of the auction
func (a Auction) RemainingAt(now time.Time) Countdown {
	target, ok := Boundary(a.StartTime, a.EndTime, now)
	if !ok {
		return Countdown{}
	}
	return CountdownUntil(target, now)
}

// TimestampLayout is the naive UTC layout the seller flow stores
const TimestampLayout = "2006-01-02 15:04:05"

// naive layouts are read as UTC
var naiveLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseTimestamp accepts RFC3339 or a naive ISO timestamp, which is taken
// as UTC. Seconds are optional in the naive forms.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if nt, nerr := time.ParseInLocation(layout, s, time.UTC); nerr == nil {
			return nt, nil
		}
	}
	return time.Time{}, err
}
