package stage

import (
	"sync"
	"time"
)

// defaultAccumulatorMultiple is the default effective accumulator cap
// expressed as a multiple of fixedTimestep, per §4.9's "spiral of
// death" guard.
const defaultAccumulatorMultiple = 5

// spinThreshold is how close to the next tick the loop switches from
// Sleep to a tight spin, trading a little CPU for tick precision.
const spinThreshold = 2 * time.Millisecond

// GameLoopCallback receives one fixed-timestep tick. It runs on the
// owning stage's mailbox worker (via a posted GameLoopTickMessage),
// not on the loop's own background goroutine.
type GameLoopCallback func(deltaTime, totalElapsed float64)

// GameLoopTimer drives a single fixed-timestep accumulator on its own
// goroutine and posts one GameLoopTickMessage per accumulated
// interval into the owning stage's mailbox, so tick callbacks observe
// the same mutual exclusion as any other stage message.
type GameLoopTimer struct {
	stage         *BaseStage
	fixedTimestep time.Duration
	accumulatorCap time.Duration
	callback      GameLoopCallback

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// StartGameLoop starts the stage's (at most one) game loop.
// fixedTimestep must be in [1ms, 1000ms]. accumulatorCap, if zero,
// defaults to 5*fixedTimestep. Returns nil if a loop is already
// running on this stage.
func (s *BaseStage) StartGameLoop(fixedTimestep, accumulatorCap time.Duration, cb GameLoopCallback) *GameLoopTimer {
	if s.loop != nil {
		return nil
	}
	if fixedTimestep < time.Millisecond {
		fixedTimestep = time.Millisecond
	}
	if fixedTimestep > time.Second {
		fixedTimestep = time.Second
	}
	if accumulatorCap == 0 {
		accumulatorCap = defaultAccumulatorMultiple * fixedTimestep
	} else if accumulatorCap < fixedTimestep {
		accumulatorCap = fixedTimestep
	}

	loop := &GameLoopTimer{
		stage:          s,
		fixedTimestep:  fixedTimestep,
		accumulatorCap: accumulatorCap,
		callback:       cb,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	s.loop = loop
	go loop.run()
	return loop
}

// StopGameLoop stops the stage's active game loop, if any.
func (s *BaseStage) StopGameLoop() {
	if s.loop == nil {
		return
	}
	s.loop.Stop()
	s.loop = nil
}

func (l *GameLoopTimer) run() {
	defer close(l.doneCh)

	start := time.Now()
	last := start
	var accumulator time.Duration
	var total time.Duration

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		now := time.Now()
		frameTime := now.Sub(last)
		last = now
		accumulator += frameTime
		if accumulator > l.accumulatorCap {
			accumulator = l.accumulatorCap
		}

		for accumulator >= l.fixedTimestep {
			total += l.fixedTimestep
			accumulator -= l.fixedTimestep
			dt := l.fixedTimestep.Seconds()
			elapsed := total.Seconds()
			if !l.stage.Post(GameLoopTickMessage{DeltaTime: dt, TotalElapsed: elapsed}) {
				return
			}
		}

		l.wait(accumulator)
	}
}

// wait sleeps for the remainder of the current fixed interval using a
// hybrid strategy: coarse Sleep for the bulk, then a tight spin loop
// for the last couple milliseconds, to keep tick timing precise
// without burning a full core the whole time.
func (l *GameLoopTimer) wait(accumulated time.Duration) {
	remaining := l.fixedTimestep - accumulated
	if remaining <= 0 {
		return
	}

	if remaining > spinThreshold {
		select {
		case <-time.After(remaining - spinThreshold):
		case <-l.stopCh:
			return
		}
		remaining = spinThreshold
	}

	deadline := time.Now().Add(remaining)
	for time.Now().Before(deadline) {
		select {
		case <-l.stopCh:
			return
		default:
		}
	}
}

// Stop signals the loop goroutine to exit and waits up to 2s for it to
// finish its current iteration. Tick callbacks run on the stage's
// mailbox worker rather than the loop goroutine itself, so calling
// Stop from within a callback (e.g. in response to a CloseStage
// command) never deadlocks against this wait.
func (l *GameLoopTimer) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	select {
	case <-l.doneCh:
	case <-time.After(2 * time.Second):
	}
}
