// Package engine holds the shared lighting state: the input and output
// universes, the override mask, the fader routing table and the program
// clock, together with the scheduler that renders the program.
//
// One mutex guards the output universe, the override mask, the dirty flag,
// the handler table and the engine's copy of the input universe. Every
// output mutation is followed by a transmit inside the same critical
// section so the device never sees a partially written buffer. The
// Schedule has its own lock; the engine never holds both.
package engine

import (
	"sync"

	"dmxd/internal/colors"
	"dmxd/internal/logger"
)

// Engine is the fader routing table plus the universes it drives.
type Engine struct {
	mu         sync.Mutex
	output     Universe
	input      Universe
	overrides  Universe
	overridden [Channels]bool
	dirty      bool
	handlers   [Channels]Handler

	sender   Sender
	schedule *Schedule
	mix      func(color, intensity byte) colors.RGB

	obsMu     sync.RWMutex
	observers []Observer

	log logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMixer replaces colors.Mix for two-fader fixtures.
func WithMixer(mix func(color, intensity byte) colors.RGB) Option {
	return func(e *Engine) { e.mix = mix }
}

// New returns an engine with every handler set to None.
func New(sender Sender, schedule *Schedule, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		sender:   sender,
		schedule: schedule,
		mix:      colors.Mix,
		log:      log,
	}
	for ch := range e.handlers {
		e.handlers[ch] = None{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule returns the program clock the Master and Bpm handlers drive.
func (e *Engine) Schedule() *Schedule {
	return e.schedule
}

// AddObserver registers o for universe snapshots.
func (e *Engine) AddObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) publish(kind Kind, u Universe) {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, o := range e.observers {
		o.Publish(kind, u)
	}
}

// Flush retransmits the output universe, e.g. after the device reconnected.
func (e *Engine) Flush() error {
	e.mu.Lock()
	err := e.transmitLocked()
	snapshot := e.output
	e.mu.Unlock()

	e.publish(Output, snapshot)
	return err
}

// Commit publishes the input universe once a received frame was applied.
func (e *Engine) Commit() {
	e.mu.Lock()
	snapshot := e.input
	e.mu.Unlock()

	e.publish(Input, snapshot)
}

// RenderStep writes one program step starting at base, scaled by divider,
// and transmits. Overridden channels keep their live value.
func (e *Engine) RenderStep(base int, values []byte, divider int) error {
	e.mu.Lock()
	for i, v := range values {
		ch := base + i
		if ch < 0 || ch >= Channels {
			break
		}
		switch {
		case e.overridden[ch]:
			e.output[ch] = e.overrides[ch]
		case divider > 0:
			e.output[ch] = byte(int(v) / divider)
		default:
			e.output[ch] = 0
		}
	}
	err := e.transmitLocked()
	snapshot := e.output
	e.mu.Unlock()

	e.publish(Output, snapshot)
	return err
}

// Output returns a copy of the output universe.
func (e *Engine) Output() Universe {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

// Input returns a copy of the engine's view of the input universe.
func (e *Engine) Input() Universe {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input
}

// Override reports whether ch is held by a live handler and at which value.
// Channels outside the universe are never overridden.
func (e *Engine) Override(ch int) (bool, byte) {
	if ch < 0 || ch >= Channels {
		return false, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overridden[ch], e.overrides[ch]
}

// Dirty reports whether the last transmit failed.
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// transmitLocked marks the buffer dirty and sends it. Callers hold e.mu.
func (e *Engine) transmitLocked() error {
	e.dirty = true
	if err := e.sender.Send(&e.output); err != nil {
		e.log.With(logger.Fields{"module": "engine"}).Errorf("failed to send DMX: %v", err)
		return err
	}
	e.dirty = false
	return nil
}
