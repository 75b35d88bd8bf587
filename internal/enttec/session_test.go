package enttec

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"dmxd/internal/logger"
)

// fakePort is an in-memory widget. Reads time out after a millisecond when
// nothing is queued, like a serial port with a read timeout.
type fakePort struct {
	mu           sync.Mutex
	in           bytes.Buffer
	out          bytes.Buffer
	readErr      error
	writeErr     error
	inputResets  int
	outputResets int
	closed       bool
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if p.in.Len() == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputResets++
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputResets++
	return nil
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func (p *fakePort) resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputResets
}

var testConfig = Config{
	APIKey: []byte{0xAD, 0x88, 0xD0, 0xC8},
	Labels: Labels{
		ReceivedDMX:       5,
		SendDMX:           6,
		ReceiveOnChange:   8,
		SetAPIKey:         13,
		SetPortAssignment: 203,
	},
}

type change struct {
	channel  int
	old, new byte
}

type recorder struct {
	mu      sync.Mutex
	changes []change
	commits int
	errs    []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Update: func(ch int, old, new byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, change{ch, old, new})
		},
		Commit: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.commits++
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) snapshot() ([]change, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change(nil), r.changes...), r.commits, append([]error(nil), r.errs...)
}

func dmxFrame(status byte, values map[int]byte) []byte {
	payload := make([]byte, 2+Channels)
	payload[0] = status
	for ch, v := range values {
		payload[2+ch] = v
	}
	return frame(5, payload)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startSession(t *testing.T, port *fakePort, state *[Channels]byte, rec *recorder) *Session {
	t.Helper()
	s, err := Start(port, testConfig, state, rec.callbacks(), logger.Discard())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Teardown() })
	return s
}

func TestStart_ConfiguresWidget(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	startSession(t, port, &state, &recorder{})

	want := append(frame(13, testConfig.APIKey), frame(203, []byte{1, 1})...)
	want = append(want, frame(8, []byte{0})...)
	if got := port.written(); !bytes.Equal(got, want) {
		t.Errorf("configuration bytes = % X\nwant % X", got, want)
	}
	port.mu.Lock()
	defer port.mu.Unlock()
	if port.outputResets != 1 {
		t.Errorf("output purges = %d, want 1", port.outputResets)
	}
}

func TestStart_ToleratesConfigurationFailure(t *testing.T) {
	port := &fakePort{writeErr: errors.New("stall")}
	var state [Channels]byte
	s, err := Start(port, testConfig, &state, Callbacks{}, logger.Discard())
	if err != nil {
		t.Fatalf("Start() error = %v, want degraded start", err)
	}
	s.Teardown()
}

func TestSession_ReportsChangedChannels(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	state[3] = 50
	rec := &recorder{}
	startSession(t, port, &state, rec)

	port.feed(dmxFrame(0, map[int]byte{0: 10, 3: 50, 511: 255}))
	waitFor(t, "commit", func() bool { _, commits, _ := rec.snapshot(); return commits == 1 })

	changes, _, _ := rec.snapshot()
	want := []change{{0, 0, 10}, {511, 0, 255}}
	if len(changes) != len(want) {
		t.Fatalf("changes = %+v, want %+v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}

	// same frame again: nothing changed, still one commit per frame
	port.feed(dmxFrame(0, map[int]byte{0: 10, 3: 50, 511: 255}))
	waitFor(t, "second commit", func() bool { _, commits, _ := rec.snapshot(); return commits == 2 })
	if changes, _, _ := rec.snapshot(); len(changes) != 2 {
		t.Errorf("unchanged frame produced updates: %+v", changes)
	}
}

func TestSession_DiscardsInvalidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "receive overrun", raw: dmxFrame(statusOverrun, map[int]byte{1: 1})},
		{name: "queue overflow", raw: dmxFrame(statusQueueOverflow, map[int]byte{1: 1})},
		{name: "foreign label", raw: frame(9, make([]byte, 2+Channels))},
		{name: "too short", raw: frame(5, []byte{0})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			var state [Channels]byte
			rec := &recorder{}
			startSession(t, port, &state, rec)

			port.feed(tt.raw)
			// a valid frame behind it proves the loop kept going
			port.feed(dmxFrame(0, map[int]byte{2: 7}))
			waitFor(t, "commit", func() bool { _, commits, _ := rec.snapshot(); return commits == 1 })

			changes, _, _ := rec.snapshot()
			if len(changes) != 1 || changes[0] != (change{2, 0, 7}) {
				t.Errorf("changes = %+v, want only channel 2", changes)
			}
		})
	}
}

func TestSession_RecoversFromCorruptFrame(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	rec := &recorder{}
	startSession(t, port, &state, rec)
	before := port.resets()

	bad := dmxFrame(0, map[int]byte{4: 4})
	bad[len(bad)-1] = 0x55
	port.feed(bad)
	waitFor(t, "purge", func() bool { return port.resets() > before })

	port.feed(dmxFrame(0, map[int]byte{4: 9}))
	waitFor(t, "commit", func() bool { _, commits, _ := rec.snapshot(); return commits == 1 })

	changes, _, errs := rec.snapshot()
	if len(changes) != 1 || changes[0] != (change{4, 0, 9}) {
		t.Errorf("changes = %+v", changes)
	}
	if len(errs) != 0 {
		t.Errorf("corrupt frame reported as fatal: %v", errs)
	}
}

func TestSession_TransportErrorIsFatal(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	rec := &recorder{}
	startSession(t, port, &state, rec)

	port.mu.Lock()
	port.readErr = errors.New("device unplugged")
	port.mu.Unlock()

	waitFor(t, "error callback", func() bool { _, _, errs := rec.snapshot(); return len(errs) == 1 })
	_, _, errs := rec.snapshot()
	if !errors.Is(errs[0], ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", errs[0])
	}
}

func TestSession_Send(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	s := startSession(t, port, &state, &recorder{})
	configured := len(port.written())

	var out [Channels]byte
	out[0], out[511] = 1, 2
	if err := s.Send(&out); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := port.written()[configured:]
	if len(got) != 4+Channels+1+1 {
		t.Fatalf("sent %d bytes", len(got))
	}
	if got[1] != 6 {
		t.Errorf("label = %d, want 6", got[1])
	}
	if got[4] != 0 {
		t.Errorf("start code = %d, want 0", got[4])
	}
	if got[5] != 1 || got[4+Channels] != 2 {
		t.Errorf("channel data misplaced")
	}
}

func TestSession_SendFailure(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	s := startSession(t, port, &state, &recorder{})

	port.mu.Lock()
	port.writeErr = errors.New("stall")
	port.mu.Unlock()

	var out [Channels]byte
	if err := s.Send(&out); !errors.Is(err, ErrTransport) {
		t.Errorf("Send() error = %v, want ErrTransport", err)
	}
}

func TestSession_TeardownJoinsReadLoop(t *testing.T) {
	port := &fakePort{}
	var state [Channels]byte
	rec := &recorder{}
	s, err := Start(port, testConfig, &state, rec.callbacks(), logger.Discard())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Teardown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Teardown() did not return")
	}

	if !port.closed {
		t.Error("port not closed")
	}
	// the loop is gone: new frames are never decoded
	port.feed(dmxFrame(0, map[int]byte{1: 1}))
	time.Sleep(20 * time.Millisecond)
	if _, commits, errs := rec.snapshot(); commits != 0 || len(errs) != 0 {
		t.Errorf("read loop survived teardown: commits=%d errs=%v", commits, errs)
	}
	if err := s.Teardown(); err != nil {
		t.Errorf("second Teardown() error = %v", err)
	}
}
