package stage

import (
	"sync"
	"time"
)

// TimerCallback runs on the owning stage's mailbox worker when a
// timer fires, guaranteeing the same mutual exclusion as any other
// stage message.
type TimerCallback func()

// stageTimer drives one background time.Timer/time.Ticker and posts a
// TimerFireMessage into its owning stage's mailbox on every fire. The
// actual callback invocation happens on the stage worker, not here;
// this just bridges wall-clock time into mailbox messages.
type stageTimer struct {
	id       int64
	stage    *BaseStage
	callback TimerCallback

	mu       sync.Mutex
	timer    *time.Timer
	period   time.Duration
	remaining int // -1 means repeat forever
	stopped  bool
}

// StartTimer registers a repeating timer: it fires once after
// initialDelay, then every period, until CancelTimer is called. Timer
// ids are unique within the stage.
func (s *BaseStage) StartTimer(initialDelay, period time.Duration, cb TimerCallback) int64 {
	return s.startTimer(initialDelay, period, -1, cb)
}

// StartCountTimer registers a timer that fires count times: once
// after initialDelay, then every period, self-canceling after the
// count'th fire.
func (s *BaseStage) StartCountTimer(initialDelay, period time.Duration, count int, cb TimerCallback) int64 {
	if count <= 0 {
		count = 1
	}
	return s.startTimer(initialDelay, period, count, cb)
}

func (s *BaseStage) startTimer(initialDelay, period time.Duration, count int, cb TimerCallback) int64 {
	s.nextTimerID++
	id := s.nextTimerID

	t := &stageTimer{id: id, stage: s, callback: cb, period: period, remaining: count}
	s.timers[id] = t

	t.mu.Lock()
	t.timer = time.AfterFunc(initialDelay, t.onTick)
	t.mu.Unlock()

	return id
}

// CancelTimer stops a timer before it fires again. Safe to call from
// within the timer's own callback.
func (s *BaseStage) CancelTimer(id int64) {
	t, ok := s.timers[id]
	if !ok {
		return
	}
	t.cancel()
	delete(s.timers, id)
}

func (t *stageTimer) onTick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.stage.Post(TimerFireMessage{TimerID: t.id})
}

// fire invokes the callback (called from the stage worker, inside
// dispatch) and, for repeat/count timers still live, arms the next
// tick.
func (t *stageTimer) fire() {
	t.callback()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining == 0 {
		t.stopped = true
		return
	}
	t.timer = time.AfterFunc(t.period, t.onTick)
}

// exhausted reports whether this timer has fired its last count and
// should be removed from the stage's timer map.
func (t *stageTimer) exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *stageTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
