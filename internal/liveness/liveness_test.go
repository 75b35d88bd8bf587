package liveness

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"dmxd/internal/logger"
	"github.com/sirupsen/logrus"
)

func TestMonitor_Stale(t *testing.T) {
	now := time.Unix(100, 0)
	m := NewMonitor(Device, Control, Program)
	m.now = func() time.Time { return now }
	for _, c := range []string{Device, Control, Program} {
		m.Beat(c)
	}

	now = now.Add(3 * time.Second)
	m.Beat(Control)
	now = now.Add(3 * time.Second)

	if got, want := m.Stale(5*time.Second), []string{Device, Program}; !reflect.DeepEqual(got, want) {
		t.Errorf("Stale() = %v, want %v", got, want)
	}

	m.Beater(Device)()
	m.Beater(Program)()
	if got := m.Stale(5 * time.Second); len(got) != 0 {
		t.Errorf("Stale() = %v, want none", got)
	}
}

func TestMonitor_Snapshot(t *testing.T) {
	m := NewMonitor(Device)
	snap := m.Snapshot()
	if _, ok := snap[Device]; !ok || len(snap) != 1 {
		t.Errorf("Snapshot() = %v", snap)
	}
	snap["other"] = time.Now()
	if _, ok := m.Snapshot()["other"]; ok {
		t.Error("Snapshot() shares the internal map")
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	m := NewMonitor(Device)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, m, time.Millisecond, time.Hour, logger.Discard())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_LogsStaleComponents(t *testing.T) {
	out := &syncBuffer{}
	base := logrus.New()
	base.SetOutput(out)
	log := &logger.Log{Entry: logrus.NewEntry(base)}

	m := NewMonitor(Program)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, m, time.Millisecond, -time.Second, log)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "component not responding") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	got := out.String()
	if !strings.Contains(got, "component not responding") || !strings.Contains(got, "component=program") {
		t.Errorf("log output = %q, want stale program reported", got)
	}
	if !strings.Contains(got, "module=watchdog") {
		t.Errorf("log output = %q, want module=watchdog", got)
	}
}
