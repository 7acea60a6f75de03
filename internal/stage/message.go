package stage

import (
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/sender"
)

// Message is the FIFO unit a stage's mailbox carries: client route
// messages, server-to-server route messages, timer ticks, game-loop
// ticks, and the lifecycle commands listed in §4.9. A concrete
// implementation of Message identifies itself via a type switch in
// BaseStage's dispatch loop.
type Message interface {
	isStageMessage()
}

// RouteMessage wraps one inbound packet (from a client session or a
// mesh peer) addressed to this stage, along with the reply context
// needed to answer it.
type RouteMessage struct {
	MsgID     string
	Payload   pool.Payload
	AccountID string // actor this message targets; empty for stage-broadcast messages
	Reply     sender.ReplyContext
}

func (RouteMessage) isStageMessage() {}

// TimerFireMessage is posted by the timer subsystem when a timer's
// deadline elapses.
type TimerFireMessage struct {
	TimerID int64
}

func (TimerFireMessage) isStageMessage() {}

// GameLoopTickMessage is posted once per accumulated fixed-timestep
// interval by the stage's GameLoopTimer.
type GameLoopTickMessage struct {
	DeltaTime    float64 // seconds, == fixedTimestep
	TotalElapsed float64 // seconds since the loop started
}

func (GameLoopTickMessage) isStageMessage() {}

// CreateStageCmd instantiates this (not-yet-created) stage via its
// factory and runs its OnCreate hook.
type CreateStageCmd struct {
	Payload pool.Payload
	Reply   sender.ReplyContext
}

func (CreateStageCmd) isStageMessage() {}

// JoinStageCmd authenticates a brand-new actor for sessionNid/sid and,
// on success, joins it to the stage. AccountID is not yet known at
// post time: OnAuthenticate assigns it as part of handling this
// command, per §4.8's actor lifecycle running under the stage's own
// mutual exclusion.
type JoinStageCmd struct {
	SessionNid string
	Sid        int64
	Payload    pool.Payload // authentication credentials
	Reply      sender.ReplyContext
}

func (JoinStageCmd) isStageMessage() {}

// CreateJoinStageCmd creates the stage (if absent) and immediately
// authenticates and joins the requesting session, per §4.9/§4.10.
type CreateJoinStageCmd struct {
	SessionNid    string
	Sid           int64
	CreatePayload pool.Payload
	JoinPayload   pool.Payload
	Reply         sender.ReplyContext
}

func (CreateJoinStageCmd) isStageMessage() {}

// ReconnectCmd re-attaches a new session to a previously disconnected
// actor already owned by this stage.
type ReconnectCmd struct {
	AccountID  string
	SessionNid string
	Sid        int64
	Reply      sender.ReplyContext
}

func (ReconnectCmd) isStageMessage() {}

// DisconnectNoticeCmd marks an actor disconnected without destroying
// it, opening a reconnect grace window.
type DisconnectNoticeCmd struct {
	AccountID string
}

func (DisconnectNoticeCmd) isStageMessage() {}

// LeaveCmd removes an actor from the stage and runs its OnDestroy hook.
type LeaveCmd struct {
	AccountID string
	Reply     sender.ReplyContext
}

func (LeaveCmd) isStageMessage() {}

// DestroyCmd tears the whole stage down: stops the game loop, cancels
// every timer, destroys every actor, then signals C10 to unregister it.
type DestroyCmd struct {
	Reply sender.ReplyContext
}

func (DestroyCmd) isStageMessage() {}
