package timespec

import (
	"testing"
	"time"
)

func TestAdd(t *testing.T) {
	tests := []struct {
		name string
		ts   Timespec
		d    time.Duration
		want Timespec
	}{
		{name: "within second", ts: Timespec{10, 100}, d: 200, want: Timespec{10, 300}},
		{name: "carry", ts: Timespec{10, 999_999_999}, d: 1, want: Timespec{11, 0}},
		{name: "multi second", ts: Timespec{1, 500_000_000}, d: 2700 * time.Millisecond, want: Timespec{4, 200_000_000}},
		{name: "exact seconds", ts: Timespec{1, 0}, d: 3 * time.Second, want: Timespec{4, 0}},
		{name: "negative borrows", ts: Timespec{5, 100}, d: -200, want: Timespec{4, 999_999_900}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ts.Add(tt.d); got != tt.want {
				t.Errorf("%+v.Add(%v) = %+v, want %+v", tt.ts, tt.d, got, tt.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	tests := []struct {
		name string
		ts   Timespec
		d    time.Duration
		want Timespec
	}{
		{name: "within second", ts: Timespec{10, 300}, d: 200, want: Timespec{10, 100}},
		{name: "borrow", ts: Timespec{10, 0}, d: 1, want: Timespec{9, 999_999_999}},
		{name: "multi second", ts: Timespec{4, 200_000_000}, d: 2700 * time.Millisecond, want: Timespec{1, 500_000_000}},
		{name: "negative adds", ts: Timespec{4, 999_999_900}, d: -200, want: Timespec{5, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ts.Sub(tt.d); got != tt.want {
				t.Errorf("%+v.Sub(%v) = %+v, want %+v", tt.ts, tt.d, got, tt.want)
			}
		})
	}
}

func TestAddManyIntervalsDoesNotDrift(t *testing.T) {
	start := Timespec{Sec: 1000, Nsec: 123}
	ts := start
	const interval = 333_333_333 * time.Nanosecond
	for i := 0; i < 3000; i++ {
		ts = ts.Add(interval)
	}
	if got, want := ts.Since(start), 3000*interval; got != want {
		t.Errorf("elapsed = %v, want %v", got, want)
	}
	if ts.Nsec < 0 || ts.Nsec >= int64(time.Second) {
		t.Errorf("Nsec %d not normalized", ts.Nsec)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 987654321)
	ts := FromTime(now)
	if !ts.Time().Equal(now) {
		t.Errorf("Time() = %v, want %v", ts.Time(), now)
	}
	if !ts.Before(ts.Add(1)) || ts.Add(1).Before(ts) {
		t.Error("Before() ordering wrong")
	}
}
