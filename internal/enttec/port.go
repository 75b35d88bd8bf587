package enttec

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of serial.Port the session needs.
// Read must return (0, nil) when the read timeout expires.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Config describes the widget and how to talk to it.
type Config struct {
	Port            string // Port - explicit device path, discovery is skipped when set.
	VendorID        string
	ProductID       string
	Description     string
	BaudRate        int
	ReadTimeout     time.Duration
	APIKey          []byte
	ReceiveOnChange bool
	Labels          Labels
}

// Labels holds the message labels used by the session.
type Labels struct {
	ReceivedDMX       Label
	SendDMX           Label
	ReceiveOnChange   Label
	SetAPIKey         Label
	SetPortAssignment Label
}

// ParseAPIKey decodes a 4 byte hex API key.
func ParseAPIKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAPIKey, err)
	}
	if len(key) != 4 {
		return nil, fmt.Errorf("%w: %d bytes, want 4", ErrInvalidAPIKey, len(key))
	}
	return key, nil
}

// portLister is swapped in tests.
var portLister = enumerator.GetDetailedPortsList

// FindPort returns the serial device matching the configured USB ids and product string.
func FindPort(cfg Config) (string, error) {
	ports, err := portLister()
	if err != nil {
		return "", fmt.Errorf("%w: listing ports: %w", ErrDeviceNotFound, err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, cfg.VendorID) || !strings.EqualFold(p.PID, cfg.ProductID) {
			continue
		}
		if cfg.Description != "" && !strings.Contains(p.Product, cfg.Description) {
			continue
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("%w: vendor %s product %s description %q", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID, cfg.Description)
}

// OpenPort finds and opens the widget's serial port with a read timeout so
// blocked reads return periodically.
func OpenPort(cfg Config) (Port, error) {
	name := cfg.Port
	if name == "" {
		var err error
		if name, err = FindPort(cfg); err != nil {
			return nil, err
		}
	}

	p, err := serial.Open(name, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, name, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrClaimFailed, name, err)
	}
	return p, nil
}
