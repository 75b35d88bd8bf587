package engine

// Channels is the size of a DMX universe.
const Channels = 512

// Universe wraps the 512 byte array for convenience.
type Universe [Channels]byte

// Kind tells observers which universe they are looking at.
type Kind int

const (
	Input  Kind = iota // Input - values received from the desk.
	Output             // Output - values transmitted to the fixtures.
)

func (k Kind) String() string {
	if k == Input {
		return "input"
	}
	return "output"
}

// ChannelValue defines a DMX channel and its value.
type ChannelValue struct {
	Channel uint16 // Channel: номер байта (канал).
	Value   uint8  // Value: значение для канала.
}

// Diff lists the channels whose value differs between prev and next.
func Diff(prev, next *Universe) []ChannelValue {
	var out []ChannelValue
	for ch := range next {
		if prev[ch] != next[ch] {
			out = append(out, ChannelValue{Channel: uint16(ch), Value: next[ch]})
		}
	}
	return out
}

// Sender transmits the output universe to the hardware.
type Sender interface {
	Send(u *Universe) error
}

// Observer receives full universe snapshots. Publish must not block.
type Observer interface {
	Publish(kind Kind, u Universe)
}
