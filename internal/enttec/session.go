package enttec

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dmxd/internal/logger"
)

// Channels is the size of one DMX universe.
const Channels = 512

// Status bits in the first byte of a received DMX payload.
const (
	statusQueueOverflow = 0x01
	statusOverrun       = 0x02
)

// Callbacks are invoked from the session's read loop.
type Callbacks struct {
	Update    func(channel int, old, new byte) // Update - one call per changed input channel.
	Commit    func()                           // Commit - once after every accepted frame.
	Error     func(err error)                  // Error - fatal transport failure; the loop has exited.
	Heartbeat func()                           // Heartbeat - read loop is alive.
}

// Session owns one connection to the widget and its read loop.
//
// The input state passed to Start is written only by the read loop and
// outlives the session, so a replacement session keeps diffing against the
// last observed values.
type Session struct {
	cfg    Config
	port   Port
	framer *Framer
	cb     Callbacks
	state  *[Channels]byte
	log    logger.Logger

	running  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Connect opens the widget and starts a session on it.
func Connect(cfg Config, state *[Channels]byte, cb Callbacks, log logger.Logger) (*Session, error) {
	port, err := OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	s, err := Start(port, cfg, state, cb, log)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// Start purges the port, configures the widget and spawns the read loop.
// Configuration failures are logged and tolerated.
func Start(port Port, cfg Config, state *[Channels]byte, cb Callbacks, log logger.Logger) (*Session, error) {
	s := &Session{
		cfg:   cfg,
		port:  port,
		cb:    cb,
		state: state,
		log:   log,
	}
	s.framer = NewFramer(&stopReader{s: s}, port)

	if err := s.purge(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResetFailed, err)
	}

	for _, err := range s.configure() {
		s.log.With(logger.Fields{"module": "dmx"}).Warnf("continuing with degraded configuration: %v", err)
	}

	s.running.Store(true)
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// configure sets the API key, enables the second universe and selects the receive mode.
func (s *Session) configure() []error {
	var errs []error
	steps := []struct {
		name    string
		label   Label
		payload []byte
	}{
		{"set api key", s.cfg.Labels.SetAPIKey, s.cfg.APIKey},
		{"set port assignment", s.cfg.Labels.SetPortAssignment, []byte{1, 1}},
		{"set receive mode", s.cfg.Labels.ReceiveOnChange, []byte{boolByte(s.cfg.ReceiveOnChange)}},
	}
	for _, step := range steps {
		if err := s.framer.Encode(step.label, step.payload); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrConfigureFailed, step.name, err))
		}
	}
	return errs
}

// Send transmits the output universe, prefixed by the zero start code.
func (s *Session) Send(universe *[Channels]byte) error {
	var msg [Channels + 1]byte
	copy(msg[1:], universe[:])
	if err := s.framer.Encode(s.cfg.Labels.SendDMX, msg[:]); err != nil {
		return fmt.Errorf("send dmx: %w", err)
	}
	return nil
}

// Teardown stops the read loop, waits for it to exit, purges and closes the port.
// It must not be called from a callback.
func (s *Session) Teardown() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.wg.Wait()
		if perr := s.purge(); perr != nil {
			s.log.With(logger.Fields{"module": "dmx"}).Warnf("purge on teardown: %v", perr)
		}
		err = s.port.Close()
	})
	return err
}

func (s *Session) purge() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("read buffer purge: %w", err)
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("write buffer purge: %w", err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	log := s.log.With(logger.Fields{"module": "dmx"})

	for s.running.Load() {
		s.beat()
		msg, err := s.framer.Decode()
		switch {
		case err == nil:
		case errors.Is(err, ErrStopped):
			return
		case errors.Is(err, ErrFrameCorrupt):
			log.Warnf("error during receive, purging receive buffer and retrying: %v", err)
			if perr := s.port.ResetInputBuffer(); perr != nil {
				log.Errorf("read buffer purge failed: %v", perr)
			}
			s.framer.Reset()
			continue
		default:
			if !s.running.Load() {
				return
			}
			log.Errorf("receive failed, giving up on session: %v", err)
			if s.cb.Error != nil {
				s.cb.Error(err)
			}
			return
		}

		if msg.Skipped > 0 {
			log.With(logger.Fields{"skipped": msg.Skipped}).Warn("header invalid, resynchronized")
		}
		if msg.Label != s.cfg.Labels.ReceivedDMX {
			log.With(logger.Fields{"label": msg.Label, "length": len(msg.Data)}).Warn("unable to handle message")
			continue
		}
		s.handleDMX(msg.Data)
	}
}

func (s *Session) handleDMX(data []byte) {
	log := s.log.With(logger.Fields{"module": "dmx"})

	if len(data) < 2 {
		log.With(logger.Fields{"length": len(data)}).Warn("DMX message too short, discarded")
		return
	}
	switch {
	case data[0]&statusOverrun != 0:
		log.Warn("widget receive overrun occurred, DMX data invalid")
		return
	case data[0]&statusQueueOverflow != 0:
		log.Warn("widget receive queue overflowed, DMX data invalid")
		return
	}
	if data[1] != 0 {
		log.Warnf("received DMX start code not equal to 0x00: 0x%02X", data[1])
	}

	values := data[2:]
	if len(values) > Channels {
		values = values[:Channels]
	}
	for ch, v := range values {
		old := s.state[ch]
		if v == old {
			continue
		}
		log.With(logger.Fields{"channel": ch, "old": old, "new": v}).Debug("channel changed")
		if s.cb.Update != nil {
			s.cb.Update(ch, old, v)
		}
		s.state[ch] = v
	}
	if s.cb.Commit != nil {
		s.cb.Commit()
	}
}

func (s *Session) beat() {
	if s.cb.Heartbeat != nil {
		s.cb.Heartbeat()
	}
}

// stopReader turns the port's timed-out reads into a blocking read that
// unwinds with ErrStopped once the session stops running.
type stopReader struct {
	s *Session
}

func (r *stopReader) Read(p []byte) (int, error) {
	for {
		if !r.s.running.Load() {
			return 0, ErrStopped
		}
		n, err := r.s.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		r.s.beat()
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
