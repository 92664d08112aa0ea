package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPhaseAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	tests := []struct {
		name string
		now  time.Time
		want Phase
	}{
		{name: "long_before_start", now: start.Add(-24 * time.Hour), want: PhaseWaiting},
		{name: "just_before_start", now: start.Add(-time.Nanosecond), want: PhaseWaiting},
		{name: "at_start", now: start, want: PhaseActive},
		{name: "mid_auction", now: start.Add(30 * time.Second), want: PhaseActive},
		{name: "just_before_end", now: end.Add(-time.Nanosecond), want: PhaseActive},
		{name: "at_end", now: end, want: PhaseEnded},
		{name: "after_end", now: end.Add(time.Hour), want: PhaseEnded},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, PhaseAt(start, end, tc.now))
		})
	}
}

func TestPhaseAt_ExactlyOnePhaseForEveryInstant(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, length := range []time.Duration{time.Millisecond, time.Second, time.Minute, 36 * time.Hour} {
		end := start.Add(length)
		step := length / 50
		if step == 0 {
			step = time.Microsecond
		}
		for now := start.Add(-length); now.Before(end.Add(length)); now = now.Add(step) {
			got := PhaseAt(start, end, now)
			switch {
			case now.Before(start):
				require.Equal(t, PhaseWaiting, got)
			case now.Before(end):
				require.Equal(t, PhaseActive, got)
			default:
				require.Equal(t, PhaseEnded, got)
			}
		}
	}
}

func TestCountdownUntil(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		target time.Time
		want   Countdown
	}{
		{name: "past_target", target: now.Add(-time.Second), want: Countdown{}},
		{name: "same_instant", target: now, want: Countdown{}},
		{name: "sub_second_truncates", target: now.Add(999 * time.Millisecond), want: Countdown{}},
		{name: "seconds_only", target: now.Add(59 * time.Second), want: Countdown{Seconds: 59}},
		{name: "mixed", target: now.Add(26*time.Hour + 3*time.Minute + 4*time.Second + 500*time.Millisecond),
			want: Countdown{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := CountdownUntil(tc.target, now)
			require.Equal(t, tc.want, got)
		})
	}

	require.Equal(t, int64(93784), CountdownUntil(now.Add(26*time.Hour+3*time.Minute+4*time.Second), now).TotalSeconds())
	require.Equal(t, "1d 02:03:04", Countdown{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}.String())
}

func TestAuction_RemainingAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)
	a := Auction{ID: "a1", StartTime: start, EndTime: start.Add(time.Minute)}

	require.Equal(t, Countdown{Seconds: 10}, a.RemainingAt(start.Add(-10*time.Second)))
	require.Equal(t, Countdown{Seconds: 45}, a.RemainingAt(start.Add(15*time.Second)))
	require.True(t, a.RemainingAt(start.Add(time.Minute)).IsZero())
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 10, 20, 20, 31, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339_offset", in: "2025-10-21T03:31:00+07:00", want: want},
		{name: "rfc3339_utc_fraction", in: "2025-10-20T20:31:00.250Z", want: want.Add(250 * time.Millisecond)},
		{name: "naive_space", in: "2025-10-20 20:31:00", want: want},
		{name: "naive_iso", in: "2025-10-20T20:31:00", want: want},
		{name: "naive_iso_fraction", in: "2025-10-20T20:31:00.5", want: want.Add(500 * time.Millisecond)},
		{name: "naive_iso_no_seconds", in: "2025-10-20T20:31", want: want},
		{name: "naive_space_no_seconds", in: " 2025-10-20 20:31 ", want: want},
		{name: "empty", in: "", wantErr: true},
		{name: "words", in: "tomorrow", wantErr: true},
		{name: "date_only", in: "2025-10-20", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimestamp(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestHighestOf(t *testing.T) {
	t.Parallel()

	a := Auction{ID: "a1", StartPrice: decimal.NewFromInt(1000)}

	h := HighestOf(a, nil)
	require.False(t, h.HasBids())
	require.True(t, h.Amount.Equal(decimal.NewFromInt(1000)))
	require.Empty(t, h.BidderID)

	bids := []Bid{
		{BidID: "b1", BidderID: "u1", Amount: decimal.NewFromInt(1500), Seq: 1},
		{BidID: "b2", BidderID: "u2", Amount: decimal.NewFromInt(2000), Seq: 2},
		{BidID: "b3", BidderID: "u3", Amount: decimal.NewFromInt(2000), Seq: 3},
	}
	h = HighestOf(a, bids)
	require.Equal(t, 3, h.TotalBids)
	require.Equal(t, "u2", h.BidderID, "ties go to the earliest insertion")
	require.True(t, h.Amount.Equal(decimal.NewFromInt(2000)))
}

func TestDecimalAmountsMarshalAsNumbers(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Bid{BidID: "b1", Amount: decimal.NewFromInt(1400)})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, 1400.0, decoded["bid_amount"])
}
