package stage

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/actor"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/sender"
)

type gameLoopTestHooks struct {
	ticks       int32
	lastElapsed float64
}

func (h *gameLoopTestHooks) OnCreate(s *BaseStage, payload pool.Payload) (bool, pool.Payload) {
	payload.Dispose()
	s.StartGameLoop(5*time.Millisecond, 0, func(dt, elapsed float64) {
		atomic.AddInt32(&h.ticks, 1)
		h.lastElapsed = elapsed
	})
	return true, pool.Empty()
}

func (h *gameLoopTestHooks) NewActor(s *BaseStage, sessionNid string, sid int64) *actor.Actor {
	return actor.New(sessionNid, sid, noopActorHooks{})
}

func (h *gameLoopTestHooks) OnJoin(*BaseStage, *actor.Actor, pool.Payload) (bool, pool.Payload) {
	return true, pool.Empty()
}
func (h *gameLoopTestHooks) OnConnectionChanged(*BaseStage, *actor.Actor, bool) {}
func (h *gameLoopTestHooks) OnLeave(*BaseStage, *actor.Actor)                  {}
func (h *gameLoopTestHooks) OnDestroy(*BaseStage)                              {}
func (h *gameLoopTestHooks) Dispatch(*BaseStage, *actor.Actor, string, pool.Payload, sender.ReplyContext) {
}

func TestGameLoopTicksAtFixedTimestep(t *testing.T) {
	hooks := &gameLoopTestHooks{}
	s := New(1, "arena", hooks, nil, discardLogger(), nil)
	s.Post(CreateStageCmd{Payload: pool.Empty()})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hooks.ticks) >= 10 }, time.Second, time.Millisecond)

	s.StopGameLoop()
	countAfterStop := atomic.LoadInt32(&hooks.ticks)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, countAfterStop, atomic.LoadInt32(&hooks.ticks))
}

func TestGameLoopTimerHoldsConfiguredCapAndTimestep(t *testing.T) {
	loop := &GameLoopTimer{
		fixedTimestep:  10 * time.Millisecond,
		accumulatorCap: 20 * time.Millisecond,
	}
	assert.Equal(t, 20*time.Millisecond, loop.accumulatorCap)
	assert.Equal(t, 10*time.Millisecond, loop.fixedTimestep)
}

func TestStartGameLoopClampsSubTimestepCapToTimestepNotDefaultMultiple(t *testing.T) {
	hooks := &gameLoopTestHooks{}
	s := New(1, "arena", hooks, nil, discardLogger(), nil)
	s.Post(CreateStageCmd{Payload: pool.Empty()})
	time.Sleep(10 * time.Millisecond)
	s.StopGameLoop()

	loop := s.StartGameLoop(10*time.Millisecond, 3*time.Millisecond, func(float64, float64) {})
	require.NotNil(t, loop)
	assert.Equal(t, 10*time.Millisecond, loop.accumulatorCap)
	loop.Stop()
}

func TestStartGameLoopRejectsSecondLoopOnSameStage(t *testing.T) {
	hooks := &gameLoopTestHooks{}
	s := New(1, "arena", hooks, nil, discardLogger(), nil)
	s.Post(CreateStageCmd{Payload: pool.Empty()})
	time.Sleep(10 * time.Millisecond)

	second := s.StartGameLoop(5*time.Millisecond, 0, func(float64, float64) {})
	assert.Nil(t, second)
	s.StopGameLoop()
}
