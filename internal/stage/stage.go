// Package stage implements the stage mailbox engine (C9/C11): a FIFO,
// single-worker execution domain per stage, its lifecycle command
// table, its timer subsystem, and its fixed-timestep game loop.
package stage

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ulala-x/playhouse-go/internal/actor"
	"github.com/ulala-x/playhouse-go/internal/perrors"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/sender"
)

// State is the stage lifecycle.
type State int32

const (
	StateUncreated State = iota
	StateRunning
	StateClosed
)

// Hooks is the business-logic contract a stage type implements. All
// methods run on the stage's single mailbox worker, so they need no
// synchronization of their own.
type Hooks interface {
	// OnCreate runs once, right after factory instantiation, before
	// any other message is dispatched to this stage.
	OnCreate(stage *BaseStage, payload pool.Payload) (ok bool, reply pool.Payload)
	// NewActor builds the business Hooks for a brand-new actor bound to
	// sessionNid/sid and returns the actor wrapping them, before
	// OnCreate/OnAuthenticate have run on it.
	NewActor(stage *BaseStage, sessionNid string, sid int64) *actor.Actor
	// OnJoin runs when an authenticated actor attaches to the stage.
	OnJoin(stage *BaseStage, a *actor.Actor, payload pool.Payload) (ok bool, reply pool.Payload)
	// OnConnectionChanged fires on reconnect (connected=true) and on
	// disconnect-notice (connected=false), always with the same actor
	// instance so in-stage state survives a reconnect.
	OnConnectionChanged(stage *BaseStage, a *actor.Actor, connected bool)
	// OnLeave runs before an actor is removed from the stage.
	OnLeave(stage *BaseStage, a *actor.Actor)
	// OnDestroy runs once, after every actor has left and the game
	// loop and timers have been stopped.
	OnDestroy(stage *BaseStage)
	// Dispatch routes one content message (not a lifecycle command) to
	// user code; reply is the in-scope context for Sender.Reply.
	Dispatch(stage *BaseStage, a *actor.Actor, msgID string, payload pool.Payload, reply sender.ReplyContext)
}

// BaseStage is the framework-owned half of a stage: identity, mailbox,
// actor set, timers, and the optional game loop. Hooks supplies the
// business logic; BaseStage supplies mutual exclusion and scheduling.
type BaseStage struct {
	ID        int64
	StageType string

	state atomic.Int32

	hooks  Hooks
	sender *sender.Sender
	log    *slog.Logger
	mbox   *mailbox

	actors map[string]*actor.Actor // keyed by AccountID

	timers      map[int64]*stageTimer
	nextTimerID int64

	loop *GameLoopTimer

	onClosed func(stageID int64) // notifies C10 to unregister after destroy completes
}

// New builds a stage bound to id/stageType but not yet created; the
// caller must post a CreateStageCmd (directly or via PlayDispatcher)
// before any other message.
func New(id int64, stageType string, hooks Hooks, snd *sender.Sender, log *slog.Logger, onClosed func(int64)) *BaseStage {
	s := &BaseStage{
		ID:        id,
		StageType: stageType,
		hooks:     hooks,
		sender:    snd,
		log:       log,
		actors:    make(map[string]*actor.Actor),
		timers:    make(map[int64]*stageTimer),
		onClosed:  onClosed,
	}
	s.mbox = newMailbox(defaultDrainCap, s.dispatch)
	return s
}

// State returns the current lifecycle state.
func (s *BaseStage) State() State {
	return State(s.state.Load())
}

// Sender exposes the stage-scoped send/request facade to hook code.
func (s *BaseStage) Sender() *sender.Sender {
	return s.sender
}

// Actor looks up a joined actor by account id.
func (s *BaseStage) Actor(accountID string) (*actor.Actor, bool) {
	a, ok := s.actors[accountID]
	return a, ok
}

// Post enqueues msg for single-threaded processing. Returns false if
// the stage's mailbox is already closed, in which case the caller owns
// any pooled payload the message carries.
func (s *BaseStage) Post(msg Message) bool {
	return s.mbox.post(msg)
}

// dispatch is the mailbox's drain callback: it runs on the stage's
// single worker goroutine for every message, one at a time.
func (s *BaseStage) dispatch(msg Message) {
	switch m := msg.(type) {
	case CreateStageCmd:
		s.handleCreate(m)
	case JoinStageCmd:
		s.handleJoin(m)
	case CreateJoinStageCmd:
		s.handleCreateJoin(m)
	case ReconnectCmd:
		s.handleReconnect(m)
	case DisconnectNoticeCmd:
		s.handleDisconnectNotice(m)
	case LeaveCmd:
		s.handleLeave(m)
	case DestroyCmd:
		s.handleDestroy(m)
	case TimerFireMessage:
		s.handleTimerFire(m)
	case GameLoopTickMessage:
		s.handleGameLoopTick(m)
	case RouteMessage:
		s.handleRoute(m)
	default:
		s.log.Error("stage: unknown message type", "stageId", s.ID, "type", fmt.Sprintf("%T", msg))
	}
}

func (s *BaseStage) handleCreate(m CreateStageCmd) {
	ok, reply := s.hooks.OnCreate(s, m.Payload)
	code := perrors.OK
	if ok {
		s.state.Store(int32(StateRunning))
	} else {
		code = perrors.SystemError
	}
	s.replyPayload(m.Reply, code, reply)
}

// authenticateAndJoin runs the full actor lifecycle for a brand-new
// session against this (already-running) stage: construct, OnCreate,
// OnAuthenticate, then OnJoin on success. All of it happens inside one
// mailbox dispatch, so it observes the stage's mutual exclusion.
func (s *BaseStage) authenticateAndJoin(sessionNid string, sid int64, payload pool.Payload, rc sender.ReplyContext) {
	a := s.hooks.NewActor(s, sessionNid, sid)
	a.Create()

	authReply, err := a.Authenticate(payload)
	if err != nil {
		s.log.Warn("stage: authenticate invariant violated", "stageId", s.ID, "error", err)
		authReply.Dispose()
		s.replyError(rc, perrors.Unauthenticated)
		return
	}
	if a.State() != actor.StateAuthenticated {
		s.replyPayload(rc, perrors.Unauthenticated, authReply)
		return
	}

	joinOK, joinReply := s.hooks.OnJoin(s, a, authReply)
	if !joinOK {
		s.replyPayload(rc, perrors.SystemError, joinReply)
		return
	}
	_ = a.Join(s.ID)
	s.actors[a.AccountID] = a

	// The join reply is the one place the framework tells the owning
	// transport session which accountId it now speaks for, so it can
	// stamp that accountId on every route message the session sends
	// afterward.
	joinedRC := rc
	joinedRC.AccountID = a.AccountID
	s.replyPayload(joinedRC, perrors.OK, joinReply)
}

func (s *BaseStage) handleJoin(m JoinStageCmd) {
	if s.State() != StateRunning {
		s.replyError(m.Reply, perrors.StageIsNotExist)
		m.Payload.Dispose()
		return
	}
	s.authenticateAndJoin(m.SessionNid, m.Sid, m.Payload, m.Reply)
}

// handleCreateJoin creates the stage if it is still uncreated, then
// runs the same authenticate-and-join path as handleJoin.
func (s *BaseStage) handleCreateJoin(m CreateJoinStageCmd) {
	if s.State() == StateUncreated {
		ok, _ := s.hooks.OnCreate(s, m.CreatePayload)
		if !ok {
			s.replyError(m.Reply, perrors.SystemError)
			m.JoinPayload.Dispose()
			return
		}
		s.state.Store(int32(StateRunning))
	} else {
		m.CreatePayload.Dispose()
	}

	s.authenticateAndJoin(m.SessionNid, m.Sid, m.JoinPayload, m.Reply)
}

func (s *BaseStage) handleReconnect(m ReconnectCmd) {
	a, ok := s.actors[m.AccountID]
	if !ok {
		s.replyError(m.Reply, perrors.HandlerNotFound)
		return
	}
	if err := a.Reconnect(m.SessionNid, m.Sid); err != nil {
		s.replyError(m.Reply, perrors.SystemError)
		return
	}
	s.hooks.OnConnectionChanged(s, a, true)
	s.replyPayload(m.Reply, perrors.OK, pool.Empty())
}

func (s *BaseStage) handleDisconnectNotice(m DisconnectNoticeCmd) {
	a, ok := s.actors[m.AccountID]
	if !ok {
		return
	}
	a.MarkDisconnected()
	s.hooks.OnConnectionChanged(s, a, false)
}

func (s *BaseStage) handleLeave(m LeaveCmd) {
	a, ok := s.actors[m.AccountID]
	if !ok {
		s.replyError(m.Reply, perrors.HandlerNotFound)
		return
	}
	s.hooks.OnLeave(s, a)
	a.Destroy()
	delete(s.actors, m.AccountID)
	s.replyPayload(m.Reply, perrors.OK, pool.Empty())
}

func (s *BaseStage) handleDestroy(m DestroyCmd) {
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	for id, t := range s.timers {
		t.cancel()
		delete(s.timers, id)
	}
	for accountID, a := range s.actors {
		s.hooks.OnLeave(s, a)
		a.Destroy()
		delete(s.actors, accountID)
	}
	s.hooks.OnDestroy(s)
	s.state.Store(int32(StateClosed))
	s.replyPayload(m.Reply, perrors.OK, pool.Empty())
	if s.onClosed != nil {
		s.onClosed(s.ID)
	}
}

func (s *BaseStage) handleTimerFire(m TimerFireMessage) {
	t, ok := s.timers[m.TimerID]
	if !ok {
		return // canceled between post and drain
	}
	t.fire()
	if t.exhausted() {
		delete(s.timers, m.TimerID)
	}
}

func (s *BaseStage) handleGameLoopTick(m GameLoopTickMessage) {
	if s.loop == nil {
		return
	}
	s.loop.callback(m.DeltaTime, m.TotalElapsed)
}

func (s *BaseStage) handleRoute(m RouteMessage) {
	var a *actor.Actor
	if m.AccountID != "" {
		if found, ok := s.actors[m.AccountID]; ok {
			a = found
		}
	}
	s.hooks.Dispatch(s, a, m.MsgID, m.Payload, m.Reply)
}

// replyPayload answers rc with code and payload, or silently disposes
// payload if rc carries no msgSeq (the request was one-way).
func (s *BaseStage) replyPayload(rc sender.ReplyContext, code uint16, payload pool.Payload) {
	if rc.MsgSeq == 0 {
		payload.Dispose()
		return
	}
	if err := s.sender.Reply(rc, code, payload); err != nil {
		s.log.Warn("stage: reply failed", "stageId", s.ID, "error", err)
	}
}

// replyError answers rc with code and no payload.
func (s *BaseStage) replyError(rc sender.ReplyContext, code uint16) {
	s.replyPayload(rc, code, pool.Empty())
}
