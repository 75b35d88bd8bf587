// Package control implements the byte-oriented remote configuration
// protocol: fader handler installation, tempo and phase commands, and the
// settings dump.
package control

import (
	"errors"
	"fmt"
	"io"

	"dmxd/internal/engine"
	"dmxd/internal/logger"
)

// ErrMalformed reports bytes that do not form a valid command. The stream
// is out of sync after it.
var ErrMalformed = errors.New("malformed control command")

// Command tags.
const (
	cmdFader    = 'F'
	cmdResetAll = 'R'
	cmdTempo    = 'B'
	cmdSync     = 'S'
	cmdGet      = 'G'
)

// Fader operations following 'F' <channel>.
const (
	opReset     = 'R'
	opSingle    = 'C'
	opLedStatic = 'L'
	opLed2Ch    = '2'
	opBpm       = 'B'
	opMaster    = 'M'
)

// Parser applies control commands to an engine.
type Parser struct {
	engine *engine.Engine
	log    logger.Logger
}

// NewParser конструктор.
func NewParser(eng *engine.Engine, log logger.Logger) *Parser {
	return &Parser{engine: eng, log: log}
}

// Handle decodes and applies the command at the start of buf. It returns
// the number of bytes consumed, or 0 with a nil error when buf holds only
// part of a command. Malformed input returns ErrMalformed and changes
// nothing. The reply to 'G' goes to w; a nil w discards it.
func (p *Parser) Handle(buf []byte, w io.Writer) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	log := p.log.With(logger.Fields{"module": "control"})

	switch buf[0] {
	case cmdFader:
		return p.handleFader(buf)
	case cmdResetAll:
		log.Info("reset all faders")
		p.engine.ResetAll()
		return 1, nil
	case cmdTempo:
		if len(buf) < 2 {
			return 0, nil
		}
		log.With(logger.Fields{"bpm": buf[1]}).Info("set tempo")
		p.engine.Schedule().SetTempo(buf[1])
		return 2, nil
	case cmdSync:
		log.Debug("phase reset")
		p.engine.Schedule().ResetPhase()
		return 1, nil
	case cmdGet:
		settings := Dump(p.engine.Handlers())
		log.Debugf("sending %d bytes of settings", len(settings))
		if w != nil {
			if _, err := w.Write(settings); err != nil {
				return 1, fmt.Errorf("control. Send settings: %w", err)
			}
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown command 0x%02x", ErrMalformed, buf[0])
	}
}

func (p *Parser) handleFader(buf []byte) (int, error) {
	if len(buf) < 3 {
		return 0, nil
	}
	ch := int(buf[1])
	log := p.log.With(logger.Fields{"module": "control", "fader": ch})

	var (
		h    engine.Handler
		size int
	)
	switch buf[2] {
	case opReset:
		log.Info("set fader to default")
		if err := p.engine.ResetChannel(ch); err != nil {
			log.Warnf("reset not transmitted: %v", err)
		}
		return 3, nil
	case opSingle:
		size = 4
		if len(buf) >= size {
			h = engine.SingleChannel{Output: int(buf[3])}
		}
	case opLedStatic:
		size = 6
		if len(buf) >= size {
			h = engine.LedStatic{Base: int(buf[3]), Count: int(buf[4]), Offset: int(buf[5])}
		}
	case opLed2Ch:
		size = 5
		if len(buf) >= size {
			h = engine.Led2ChIntensity{Paired: int(buf[3]), Base: int(buf[4])}
		}
	case opBpm:
		size, h = 3, engine.Bpm{}
	case opMaster:
		size, h = 3, engine.Master{}
	default:
		return 0, fmt.Errorf("%w: fader %d unknown operation 0x%02x", ErrMalformed, ch, buf[2])
	}
	if len(buf) < size {
		return 0, nil
	}

	if err := p.engine.Install(ch, h); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	log.Infof("set fader to %#v", h)
	return size, nil
}

// Dump encodes the routing table as the commands that rebuild it, in
// ascending channel order. Pairs are written once, from the intensity side.
func Dump(handlers [engine.Channels]engine.Handler) []byte {
	var out []byte
	for ch, h := range handlers {
		switch h := h.(type) {
		case engine.SingleChannel:
			out = append(out, cmdFader, byte(ch), opSingle, byte(h.Output))
		case engine.LedStatic:
			out = append(out, cmdFader, byte(ch), opLedStatic, byte(h.Base), byte(h.Count), byte(h.Offset))
		case engine.Led2ChIntensity:
			out = append(out, cmdFader, byte(ch), opLed2Ch, byte(h.Paired), byte(h.Base))
		case engine.Master:
			out = append(out, cmdFader, byte(ch), opMaster)
		case engine.Bpm:
			out = append(out, cmdFader, byte(ch), opBpm)
		}
	}
	return out
}
