package control

import (
	"fmt"
	"os"

	"dmxd/internal/logger"
)

// LoadFile feeds the handler file at path through the parser. Any
// malformed command aborts with its offset.
func (p *Parser) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("control. Read handler file: %w", err)
	}
	return p.Load(data)
}

// Load applies every command in data. An incomplete trailing command is
// ignored.
func (p *Parser) Load(data []byte) error {
	offset := 0
	for offset < len(data) {
		n, err := p.Handle(data[offset:], nil)
		if err != nil {
			return fmt.Errorf("control. Parsing handlers failed on position %d: %w", offset, err)
		}
		if n == 0 {
			p.log.With(logger.Fields{"module": "control", "offset": offset}).
				Warnf("ignoring %d trailing bytes", len(data)-offset)
			break
		}
		offset += n
	}
	return nil
}
