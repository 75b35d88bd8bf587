package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidHandler is returned by Install for handlers that would address
// channels outside the universe.
var ErrInvalidHandler = errors.New("engine: invalid handler")

// Handler is the behaviour bound to one input channel. The set of
// implementations is closed; every switch over it handles all of them.
type Handler interface {
	// outputs returns the output channel range the handler overrides.
	outputs() (base, count int)
	validate(input int) error
}

// None ignores the input.
type None struct{}

// SingleChannel copies the input to one output channel.
type SingleChannel struct {
	Output int
}

// LedStatic lights channel Base+Offset of a Count-channel bank at the input
// level and blacks out the rest of the bank.
type LedStatic struct {
	Base   int
	Count  int
	Offset int
}

// Led2ChIntensity is the intensity side of a two-fader RGB fixture at Base.
// Paired is the input channel carrying the colour.
type Led2ChIntensity struct {
	Paired int
	Base   int
}

// Led2ChColor is the colour side of a two-fader RGB fixture at Base.
// Paired is the input channel carrying the intensity.
type Led2ChColor struct {
	Paired int
	Base   int
}

// Master scales the program output.
type Master struct{}

// Bpm sets the program tempo.
type Bpm struct{}

// rgbWidth is the number of output channels a two-fader fixture drives.
const rgbWidth = 3

func (None) outputs() (int, int)              { return 0, 0 }
func (h SingleChannel) outputs() (int, int)   { return h.Output, 1 }
func (h LedStatic) outputs() (int, int)       { return h.Base, h.Count }
func (h Led2ChIntensity) outputs() (int, int) { return h.Base, rgbWidth }
func (h Led2ChColor) outputs() (int, int)     { return h.Base, rgbWidth }
func (Master) outputs() (int, int)            { return 0, 0 }
func (Bpm) outputs() (int, int)               { return 0, 0 }

func (None) validate(int) error   { return nil }
func (Master) validate(int) error { return nil }
func (Bpm) validate(int) error    { return nil }

func (h SingleChannel) validate(int) error {
	return checkRange(h.Output, 1)
}

func (h LedStatic) validate(int) error {
	if h.Count <= 0 {
		return fmt.Errorf("%w: led static bank of %d channels", ErrInvalidHandler, h.Count)
	}
	if h.Offset < 0 || h.Offset >= h.Count {
		return fmt.Errorf("%w: led static offset %d outside bank of %d", ErrInvalidHandler, h.Offset, h.Count)
	}
	return checkRange(h.Base, h.Count)
}

func (h Led2ChIntensity) validate(input int) error {
	return checkPair(input, h.Paired, h.Base)
}

func (h Led2ChColor) validate(input int) error {
	return checkPair(input, h.Paired, h.Base)
}

func checkPair(input, paired, base int) error {
	if paired == input {
		return fmt.Errorf("%w: channel %d paired with itself", ErrInvalidHandler, input)
	}
	if paired < 0 || paired >= Channels {
		return fmt.Errorf("%w: paired input %d", ErrInvalidHandler, paired)
	}
	return checkRange(base, rgbWidth)
}

func checkRange(base, count int) error {
	if base < 0 || base+count > Channels {
		return fmt.Errorf("%w: outputs %d-%d outside universe", ErrInvalidHandler, base, base+count-1)
	}
	return nil
}

// mirror returns the handler the paired input must carry, if any.
func mirror(input int, h Handler) (int, Handler, bool) {
	switch h := h.(type) {
	case Led2ChIntensity:
		return h.Paired, Led2ChColor{Paired: input, Base: h.Base}, true
	case Led2ChColor:
		return h.Paired, Led2ChIntensity{Paired: input, Base: h.Base}, true
	default:
		return 0, nil, false
	}
}
