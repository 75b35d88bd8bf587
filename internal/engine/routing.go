package engine

import (
	"fmt"

	"dmxd/internal/logger"
)

// Apply reacts to input channel ch changing from old to new. Handlers that
// drive outputs update the buffer and transmit immediately; Master and Bpm
// only touch the schedule.
func (e *Engine) Apply(ch int, old, new byte) {
	if ch < 0 || ch >= Channels {
		e.log.With(logger.Fields{"module": "engine", "channel": ch}).Error("input channel out of range")
		return
	}

	e.mu.Lock()
	e.input[ch] = new
	h := e.handlers[ch]

	switch h := h.(type) {
	case None:
		e.mu.Unlock()
		return
	case Master:
		e.mu.Unlock()
		e.schedule.SetMaster(new)
		return
	case Bpm:
		e.mu.Unlock()
		e.schedule.SetTempo(new)
		return
	case SingleChannel:
		e.output[h.Output] = new
		e.overridden[h.Output] = new > 0
		e.overrides[h.Output] = new
	case LedStatic:
		for out := h.Base; out < h.Base+h.Count; out++ {
			e.output[out] = 0
			e.overridden[out] = new > 0
			e.overrides[out] = 0
		}
		lit := h.Base + h.Offset
		e.output[lit] = new
		e.overrides[lit] = new
	case Led2ChIntensity:
		e.applyRGB(h.Base, e.input[h.Paired], new)
	case Led2ChColor:
		e.applyRGB(h.Base, new, e.input[h.Paired])
	default:
		e.mu.Unlock()
		panic(fmt.Sprintf("engine: unhandled fader handler %T", h))
	}

	e.log.With(logger.Fields{"module": "engine", "channel": ch, "old": old, "new": new}).Debugf("fader %T applied", h)
	_ = e.transmitLocked()
	snapshot := e.output
	e.mu.Unlock()

	e.publish(Output, snapshot)
}

func (e *Engine) applyRGB(base int, color, intensity byte) {
	rgb := e.mix(color, intensity)
	for i, v := range rgb {
		e.output[base+i] = v
		e.overrides[base+i] = v
		e.overridden[base+i] = intensity > 0
	}
}

// Install binds h to input ch. A channel that is part of a two-fader pair
// releases its partner first; installing a two-fader handler also installs
// the mirror on the paired channel. Outputs held by the replaced handlers
// are handed back to the program.
func (e *Engine) Install(ch int, h Handler) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: input channel %d", ErrInvalidHandler, ch)
	}
	if h == nil {
		h = None{}
	}
	if err := h.validate(ch); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked(ch)
	if paired, m, ok := mirror(ch, h); ok {
		e.releaseLocked(paired)
		e.handlers[paired] = m
	}
	e.handlers[ch] = h
	return nil
}

// ResetChannel sets ch back to None and replays its current input value so
// the output reflects the cleared handler at once.
func (e *Engine) ResetChannel(ch int) error {
	if err := e.Install(ch, None{}); err != nil {
		return err
	}
	e.mu.Lock()
	v := e.input[ch]
	e.mu.Unlock()

	e.Apply(ch, v, v)
	return e.Flush()
}

// ResetAll sets every handler to None and releases all overrides. The
// output buffer keeps its contents.
func (e *Engine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.handlers {
		e.handlers[ch] = None{}
		e.overridden[ch] = false
	}
}

// Handler returns the handler bound to ch, None outside the universe.
func (e *Engine) Handler(ch int) Handler {
	if ch < 0 || ch >= Channels {
		return None{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers[ch]
}

// Handlers returns a copy of the routing table.
func (e *Engine) Handlers() [Channels]Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers
}

// releaseLocked unbinds ch and, for a pair, its partner. Callers hold e.mu.
func (e *Engine) releaseLocked(ch int) {
	h := e.handlers[ch]
	if paired, _, ok := mirror(ch, h); ok {
		e.handlers[paired] = None{}
	}
	base, count := h.outputs()
	for out := base; out < base+count; out++ {
		e.overridden[out] = false
	}
	e.handlers[ch] = None{}
}
