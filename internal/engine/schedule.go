package engine

import (
	"context"
	"sync"
	"time"

	"dmxd/internal/timespec"
)

// DefaultInterval is the step interval while no tempo is set.
const DefaultInterval = time.Second

// Schedule is the program clock: an absolute next-fire deadline, the step
// interval, the step index and the master divider.
//
// Tempo and phase changes wake a pending Wait so it re-evaluates the
// deadline instead of sleeping through a stale one.
type Schedule struct {
	mu       sync.Mutex
	wake     chan struct{}
	now      func() time.Time
	idle     time.Duration
	next     timespec.Timespec
	interval time.Duration
	step     int
	divider  int
}

// ScheduleOption configures a Schedule.
type ScheduleOption func(*Schedule)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ScheduleOption {
	return func(s *Schedule) { s.now = now }
}

// NewSchedule returns a schedule stepping every idle until a tempo is set.
func NewSchedule(idle time.Duration, opts ...ScheduleOption) *Schedule {
	if idle <= 0 {
		idle = DefaultInterval
	}
	s := &Schedule{
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		idle:     idle,
		interval: idle,
		divider:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.next = timespec.FromTime(s.now())
	return s
}

// TempoInterval converts a 0-255 fader or command value in beats per minute
// to a step interval. Zero means no tempo: the idle interval.
func TempoInterval(bpm byte, idle time.Duration) time.Duration {
	if bpm == 0 {
		return idle
	}
	return time.Minute / time.Duration(bpm)
}

// SetTempo sets the interval from beats per minute.
func (s *Schedule) SetTempo(bpm byte) {
	s.SetInterval(TempoInterval(bpm, s.idle))
}

// SetInterval changes the step interval. A shorter interval pulls the
// pending deadline earlier by the difference; a longer one only affects
// the steps after it.
func (s *Schedule) SetInterval(d time.Duration) {
	if d <= 0 {
		d = s.idle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < s.interval {
		s.next = s.next.Sub(s.interval - d)
	}
	s.interval = d
	s.signal()
}

// SetMaster sets the divider from a master fader value: 255 is full output.
func (s *Schedule) SetMaster(value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divider = 256 - int(value)
	s.signal()
}

// ResetPhase moves the next step to now.
func (s *Schedule) ResetPhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = timespec.FromTime(s.now())
	s.signal()
}

// restart schedules the first step change one interval from now and
// drops any pending wake.
func (s *Schedule) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = timespec.FromTime(s.now()).Add(s.interval)
	select {
	case <-s.wake:
	default:
	}
}

// NextFire returns the pending deadline.
func (s *Schedule) NextFire() timespec.Timespec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Interval returns the current step interval.
func (s *Schedule) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Current returns the step index and master divider to render.
func (s *Schedule) Current() (step, divider int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step, s.divider
}

// Wait blocks until the deadline passes, a change wakes it, or ctx ends.
// It reports true only when the deadline was reached; the deadline then
// advances by exactly one interval and the step index by one.
func (s *Schedule) Wait(ctx context.Context) (bool, error) {
	return s.wait(ctx, 0)
}

// wait is Wait with the sleep capped at limit when limit is positive. A
// capped sleep that ends before the deadline reports false like a wake.
func (s *Schedule) wait(ctx context.Context, limit time.Duration) (bool, error) {
	s.mu.Lock()
	remaining := s.next.Time().Sub(s.now())
	s.mu.Unlock()

	if limit > 0 && remaining > limit {
		remaining = limit
	}
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.wake:
			return false, nil
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Before(s.next.Time()) {
		// deadline moved while the timer ran
		return false, nil
	}
	s.next = s.next.Add(s.interval)
	s.step++
	select {
	case <-s.wake:
	default:
	}
	return true, nil
}

// signal wakes a pending Wait. Callers hold s.mu.
func (s *Schedule) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
