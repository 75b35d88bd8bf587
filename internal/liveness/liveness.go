// Package liveness tracks heartbeats of the long-running loops and reports
// the ones that stopped beating.
package liveness

import (
	"context"
	"sort"
	"sync"
	"time"

	"dmxd/internal/logger"
)

// Component names.
const (
	Device  = "dmx"
	Control = "control"
	Program = "program"
)

// Monitor records the last heartbeat of each registered component.
type Monitor struct {
	mu    sync.Mutex
	now   func() time.Time
	beats map[string]time.Time
}

// NewMonitor registers components as just started.
func NewMonitor(components ...string) *Monitor {
	m := &Monitor{now: time.Now, beats: map[string]time.Time{}}
	for _, c := range components {
		m.beats[c] = m.now()
	}
	return m
}

// Beat marks component as alive.
func (m *Monitor) Beat(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[component] = m.now()
}

// Beater returns a heartbeat callback for component.
func (m *Monitor) Beater(component string) func() {
	return func() { m.Beat(component) }
}

// Snapshot returns the last heartbeat per component.
func (m *Monitor) Snapshot() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.beats))
	for c, t := range m.beats {
		out[c] = t
	}
	return out
}

// Stale returns the sorted names of components silent for longer than maxAge.
func (m *Monitor) Stale(maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var stale []string
	for c, t := range m.beats {
		if now.Sub(t) > maxAge {
			stale = append(stale, c)
		}
	}
	sort.Strings(stale)
	return stale
}

// Watch checks the monitor every interval and logs stale components until
// ctx is cancelled.
func Watch(ctx context.Context, m *Monitor, interval, maxAge time.Duration, log logger.Logger) {
	l := log.With(logger.Fields{"module": "watchdog"})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stale := m.Stale(maxAge)
		for _, c := range stale {
			l.With(logger.Fields{"component": c}).Error("component not responding")
		}
		if len(stale) == 0 && !healthy {
			l.Info("all components responding")
		}
		healthy = len(stale) == 0
	}
}
