package engine

import (
	"context"
	"errors"
	"time"

	"dmxd/internal/logger"
)

// HeartbeatInterval bounds the time between heartbeats at slow tempos.
const HeartbeatInterval = time.Second

// Scheduler renders the program into the engine on the schedule's beat.
type Scheduler struct {
	engine    *Engine
	schedule  *Schedule
	program   Program
	heartbeat func()
	beatEvery time.Duration
	log       logger.Logger
}

// NewScheduler returns a scheduler driving eng's schedule.
func NewScheduler(eng *Engine, program Program, log logger.Logger) *Scheduler {
	return &Scheduler{
		engine:    eng,
		schedule:  eng.Schedule(),
		program:   program,
		beatEvery: HeartbeatInterval,
		log:       log,
	}
}

// SetHeartbeat registers a liveness callback invoked once per step and at
// least every HeartbeatInterval in between.
func (s *Scheduler) SetHeartbeat(beat func()) {
	s.heartbeat = beat
}

// Run renders and transmits the current step, then waits for the next
// deadline. A wake without timeout only re-enters the wait with the new
// tempo or phase; master changes show from the next step on. Run returns
// when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.log.With(logger.Fields{"module": "program"})
	s.schedule.restart()

	render := true
	for {
		if render {
			step, divider := s.schedule.Current()
			base, values := s.program.Step(step)
			if err := s.engine.RenderStep(base, values, divider); err != nil {
				log.With(logger.Fields{"step": step}).Debugf("program step not transmitted: %v", err)
			}
		}
		if s.heartbeat != nil {
			s.heartbeat()
		}

		fired, err := s.schedule.wait(ctx, s.beatEvery)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Debug("program stopped")
				return nil
			}
			return err
		}
		render = fired
	}
}
