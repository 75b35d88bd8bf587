// Package link keeps a device session alive: it dials the widget, watches
// for transport failures, tears the broken session down and dials again.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dmxd/internal/engine"
	"dmxd/internal/enttec"
	"dmxd/internal/logger"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrGaveUp       = errors.New("device reconnect attempts exhausted")
)

// State of the device link.
type State int

const (
	Connecting State = iota
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is a running device session.
type Conn interface {
	Send(universe *[enttec.Channels]byte) error
	Teardown() error
}

// Dialer starts a session writing received values into state.
type Dialer func(state *[enttec.Channels]byte, cb enttec.Callbacks) (Conn, error)

// EnttecDialer dials the widget described by cfg.
func EnttecDialer(cfg enttec.Config, log logger.Logger) Dialer {
	return func(state *[enttec.Channels]byte, cb enttec.Callbacks) (Conn, error) {
		return enttec.Connect(cfg, state, cb, log)
	}
}

// Consumer receives input changes and restores the output after a reconnect.
type Consumer interface {
	Apply(ch int, old, new byte)
	Commit()
	Flush() error
}

// Config controls the reconnect policy.
type Config struct {
	ReconnectInterval time.Duration
	MaxAttempts       int // MaxAttempts - consecutive failed dials before giving up, 0 - unlimited.
}

// Link implements engine.Sender on top of whichever session is current.
type Link struct {
	dial      Dialer
	cfg       Config
	log       logger.Logger
	heartbeat func()

	// input is written only by the current session's read loop and
	// survives reconnects.
	input [enttec.Channels]byte

	mu    sync.Mutex
	conn  Conn
	gen   int
	state State
	lost  chan error
}

// New конструктор.
func New(dial Dialer, cfg Config, log logger.Logger) *Link {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	return &Link{
		dial: dial,
		cfg:  cfg,
		log:  log,
		lost: make(chan error, 1),
	}
}

// SetHeartbeat registers the read loop liveness callback.
func (l *Link) SetHeartbeat(beat func()) {
	l.heartbeat = beat
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Send implements engine.Sender. A failed send marks the session lost.
func (l *Link) Send(u *engine.Universe) error {
	l.mu.Lock()
	conn, gen := l.conn, l.gen
	l.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send((*[enttec.Channels]byte)(u)); err != nil {
		l.markLost(gen, err)
		return err
	}
	return nil
}

// Run dials the device and keeps it connected until ctx is cancelled or
// the reconnect attempts run out. Every new session starts with a Flush
// so the device gets the current output.
func (l *Link) Run(ctx context.Context, consumer Consumer) error {
	log := l.log.With(logger.Fields{"module": "link"})

	next := Connecting
	for {
		if err := l.connect(ctx, consumer, next); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		log.Info("device connected")
		if err := consumer.Flush(); err != nil {
			log.Warnf("output not restored: %v", err)
		}

		select {
		case <-ctx.Done():
			l.teardown(Connecting)
			log.Info("device link stopped")
			return nil
		case err := <-l.lost:
			log.Errorf("device connection lost: %v", err)
			l.teardown(Reconnecting)
			next = Reconnecting
		}
	}
}

func (l *Link) connect(ctx context.Context, consumer Consumer, state State) error {
	log := l.log.With(logger.Fields{"module": "link"})

	for attempt := 1; ; attempt++ {
		l.mu.Lock()
		l.state = state
		l.gen++
		gen := l.gen
		l.mu.Unlock()
		select {
		case <-l.lost:
		default:
		}

		conn, err := l.dial(&l.input, l.callbacks(gen, consumer))
		if err == nil {
			l.mu.Lock()
			l.conn = conn
			l.state = Connected
			l.mu.Unlock()
			return nil
		}

		log.With(logger.Fields{"attempt": attempt}).Errorf("device connect failed: %v", err)
		if l.cfg.MaxAttempts > 0 && attempt >= l.cfg.MaxAttempts {
			l.mu.Lock()
			l.state = Failed
			l.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrGaveUp, err)
		}

		timer := time.NewTimer(l.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Link) callbacks(gen int, consumer Consumer) enttec.Callbacks {
	return enttec.Callbacks{
		Update: consumer.Apply,
		Commit: consumer.Commit,
		Error:  func(err error) { l.markLost(gen, err) },
		Heartbeat: func() {
			if l.heartbeat != nil {
				l.heartbeat()
			}
		},
	}
}

// markLost reports a failure of session gen. Failures of sessions already
// replaced are ignored.
func (l *Link) markLost(gen int, err error) {
	l.mu.Lock()
	current := gen == l.gen
	l.mu.Unlock()
	if !current {
		return
	}
	select {
	case l.lost <- err:
	default:
	}
}

// teardown detaches the current session and waits for its read loop.
func (l *Link) teardown(state State) {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.state = state
	l.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Teardown(); err != nil {
		l.log.With(logger.Fields{"module": "link"}).Warnf("teardown: %v", err)
	}
}
