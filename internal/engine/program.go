package engine

import "dmxd/internal/colors"

// Program yields the channel values for a step index.
type Program interface {
	Step(n int) (base int, values []byte)
}

// Table is a fixed list of steps written from Base, repeated forever.
type Table struct {
	Base  int
	Steps [][]byte
}

// Step implements Program.
func (t Table) Step(n int) (int, []byte) {
	if len(t.Steps) == 0 {
		return t.Base, nil
	}
	return t.Base, t.Steps[n%len(t.Steps)]
}

// ColorChase walks one RGB fixture at Base around the colour wheel.
type ColorChase struct {
	Base int
}

// Step implements Program.
func (c ColorChase) Step(n int) (int, []byte) {
	rgb := colors.Step(n)
	return c.Base, rgb[:]
}

// NewTable converts configured integer steps.
func NewTable(base int, steps [][]int) Table {
	t := Table{Base: base, Steps: make([][]byte, len(steps))}
	for i, step := range steps {
		t.Steps[i] = make([]byte, len(step))
		for ch, v := range step {
			t.Steps[i][ch] = byte(v)
		}
	}
	return t
}
