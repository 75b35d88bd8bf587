package enttec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Widget message framing:
//
//	0x7E | label | length lo | length hi | payload ... | 0xE7
const (
	StartByte  = 0x7E
	EndByte    = 0xE7
	MaxPayload = 600

	headerLen = 4
)

// Label identifies the widget message type.
type Label byte

// Message is one decoded frame.
type Message struct {
	Label Label
	Data  []byte

	// Skipped counts bytes dropped while hunting for the header.
	Skipped int
}

// Framer encodes and decodes widget messages over a byte stream.
// Encode is safe for concurrent use; Decode must be called from one goroutine.
type Framer struct {
	w   io.Writer
	r   *bufio.Reader
	wmu sync.Mutex
}

// NewFramer reads from r and writes to w.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		w: w,
		r: bufio.NewReaderSize(r, 2*(MaxPayload+headerLen+1)),
	}
}

// Encode writes header, payload and end byte as three writes.
// Any error or short count is fatal for the underlying session.
func (f *Framer) Encode(label Label, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	var header [headerLen]byte
	header[0] = StartByte
	header[1] = byte(label)
	binary.LittleEndian.PutUint16(header[2:], uint16(len(payload)))

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if err := f.write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := f.write([]byte{EndByte}); err != nil {
		return fmt.Errorf("write end code: %w", err)
	}
	return nil
}

func (f *Framer) write(p []byte) error {
	n, err := f.w.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return nil
}

// Decode reads one message. An invalid header is not thrown away: the window
// slides by one byte until a start byte with a sane length lines up. A wrong
// end byte yields ErrFrameCorrupt; the caller should purge and call Reset.
func (f *Framer) Decode() (Message, error) {
	var window [headerLen]byte
	if err := f.readFull(window[:]); err != nil {
		return Message{}, fmt.Errorf("read header: %w", err)
	}

	skipped := 0
	for !validHeader(window) {
		b, err := f.r.ReadByte()
		if err != nil {
			return Message{}, fmt.Errorf("resync: %w", classify(err))
		}
		copy(window[:], window[1:])
		window[headerLen-1] = b
		skipped++
	}

	length := int(binary.LittleEndian.Uint16(window[2:]))
	data := make([]byte, length)
	if err := f.readFull(data); err != nil {
		return Message{}, fmt.Errorf("read payload: %w", err)
	}

	end, err := f.r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("read end code: %w", classify(err))
	}
	if end != EndByte {
		return Message{}, fmt.Errorf("%w: end code 0x%02X, label %d, length %d", ErrFrameCorrupt, end, window[1], length)
	}

	return Message{Label: Label(window[1]), Data: data, Skipped: skipped}, nil
}

// Reset drops any buffered, not yet decoded input.
func (f *Framer) Reset() {
	f.r.Discard(f.r.Buffered()) //nolint:errcheck // discarding buffered bytes cannot fail
}

func (f *Framer) readFull(p []byte) error {
	if _, err := io.ReadFull(f.r, p); err != nil {
		return classify(err)
	}
	return nil
}

func validHeader(h [headerLen]byte) bool {
	return h[0] == StartByte && int(binary.LittleEndian.Uint16(h[2:])) <= MaxPayload
}

// classify keeps ErrStopped recognizable and marks everything else as transport failure.
func classify(err error) error {
	if errors.Is(err, ErrStopped) || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
