// Package play implements the PlayDispatcher (C10): the live stage
// map, the stage-type factory registry, and the inbound route-packet
// routing rules of §4.10.
package play

import (
	"log/slog"
	"sync"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/perrors"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/sender"
	"github.com/ulala-x/playhouse-go/internal/stage"
)

// Message-ids recognized on the control plane (isBase=true), per §4.10.
const (
	MsgCreateStageReq      = "CreateStageReq"
	MsgCreateJoinStageReq  = "CreateJoinStageReq"
	MsgJoinStageReq        = "JoinStageReq"
	MsgGetOrCreateStageReq = "GetOrCreateStageReq"
	MsgDestroyStage        = "DestroyStage"
	MsgReconnectMsg        = "ReconnectMsg"
	MsgDisconnectNoticeMsg = "DisconnectNoticeMsg"
)

// StageFactory builds the business-logic Hooks for a newly created
// stage of the given type. Returning nil rejects the create.
type StageFactory func(stageType string) stage.Hooks

// SystemHandler processes packets with isSystem=true (handed to C13).
type SystemHandler func(rp *codec.RoutePacket)

// Dispatcher holds the live stage map and factory registry and
// implements the four-step inbound routing decision from §4.10.
type Dispatcher struct {
	selfServerID string
	snd          *sender.Sender
	reqCache     *reqcache.Cache
	log          *slog.Logger
	onSystem     SystemHandler

	mu        sync.RWMutex
	stages    map[int64]*stage.BaseStage
	factories map[string]StageFactory
}

// New builds an empty dispatcher. onSystem handles isSystem=true
// packets (step 2 of §4.10); it may be nil until C13 is wired up, in
// which case such packets are logged and dropped.
func New(selfServerID string, snd *sender.Sender, reqCache *reqcache.Cache, log *slog.Logger, onSystem SystemHandler) *Dispatcher {
	return &Dispatcher{
		selfServerID: selfServerID,
		snd:          snd,
		reqCache:     reqCache,
		log:          log,
		onSystem:     onSystem,
		stages:       make(map[int64]*stage.BaseStage),
		factories:    make(map[string]StageFactory),
	}
}

// RegisterStageType binds a stage type name to its factory. Must be
// called before any CreateStageReq/CreateJoinStageReq/
// GetOrCreateStageReq names that type.
func (d *Dispatcher) RegisterStageType(stageType string, factory StageFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[stageType] = factory
}

// Handle applies §4.10's four-step routing decision to one inbound
// route packet.
func (d *Dispatcher) Handle(rp *codec.RoutePacket) {
	switch {
	case rp.IsReply:
		d.reqCache.TryComplete(rp.Header, rp.Payload)
	case rp.IsSystem:
		if d.onSystem != nil {
			d.onSystem(rp)
		} else {
			d.log.Warn("play: dropped system packet, no system handler registered", "msgId", rp.MsgID)
			rp.Payload.Dispose()
		}
	case rp.IsBase:
		d.handleControl(rp)
	default:
		d.handleUserMessage(rp)
	}
}

func (d *Dispatcher) replyCtx(rp *codec.RoutePacket) sender.ReplyContext {
	return sender.ReplyContext{From: rp.From, MsgSeq: rp.MsgSeq, StageID: rp.StageID, Sid: rp.Sid}
}

func (d *Dispatcher) replyError(rp *codec.RoutePacket, code uint16) {
	if rp.MsgSeq == 0 {
		return
	}
	if err := d.snd.Reply(d.replyCtx(rp), code, pool.Empty()); err != nil {
		d.log.Warn("play: failed to send error reply", "code", perrors.Name(code), "error", err)
	}
}

func (d *Dispatcher) handleControl(rp *codec.RoutePacket) {
	switch rp.MsgID {
	case MsgCreateStageReq:
		d.handleCreateStageReq(rp)
	case MsgCreateJoinStageReq, MsgGetOrCreateStageReq:
		d.handleCreateJoinStageReq(rp)
	case MsgJoinStageReq:
		d.handleJoinStageReq(rp)
	case MsgDestroyStage:
		d.handleDestroyStage(rp)
	case MsgReconnectMsg:
		d.handleReconnectMsg(rp)
	case MsgDisconnectNoticeMsg:
		d.handleDisconnectNoticeMsg(rp)
	default:
		d.log.Warn("play: unrecognized control message", "msgId", rp.MsgID)
		rp.Payload.Dispose()
	}
}

// stageFor returns the already-registered stage for id, or constructs
// and registers a new one via the stageType factory if absent.
// created reports whether a new BaseStage was just registered (it is
// still in StateUncreated; the caller must post a command that runs
// its OnCreate hook).
func (d *Dispatcher) stageFor(id int64, stageType string) (s *stage.BaseStage, created bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.stages[id]; ok {
		return existing, false, nil
	}

	factory, ok := d.factories[stageType]
	if !ok {
		return nil, false, errUnknownStageType(stageType)
	}
	hooks := factory(stageType)
	s = stage.New(id, stageType, hooks, d.snd, d.log, d.unregister)
	d.stages[id] = s
	return s, true, nil
}

type errUnknownStageType string

func (e errUnknownStageType) Error() string { return "play: no factory registered for stage type " + string(e) }

func (d *Dispatcher) handleCreateStageReq(rp *codec.RoutePacket) {
	d.mu.RLock()
	_, exists := d.stages[rp.StageID]
	d.mu.RUnlock()
	if exists {
		d.replyError(rp, perrors.AlreadyExistStage)
		rp.Payload.Dispose()
		return
	}

	s, _, err := d.stageFor(rp.StageID, rp.StageType)
	if err != nil {
		d.log.Error(err.Error())
		d.replyError(rp, perrors.SystemError)
		rp.Payload.Dispose()
		return
	}
	s.Post(stage.CreateStageCmd{Payload: rp.Payload, Reply: d.replyCtx(rp)})
}

func (d *Dispatcher) handleJoinStageReq(rp *codec.RoutePacket) {
	s, ok := d.lookup(rp.StageID)
	if !ok {
		d.replyError(rp, perrors.StageIsNotExist)
		rp.Payload.Dispose()
		return
	}
	s.Post(stage.JoinStageCmd{SessionNid: rp.SessionNid, Sid: rp.Sid, Payload: rp.Payload, Reply: d.replyCtx(rp)})
}

// handleCreateJoinStageReq backs both CreateJoinStageReq and
// GetOrCreateStageReq: it always posts a single CreateJoinStageCmd and
// lets the stage's own dispatch decide, from its current state,
// whether OnCreate still needs to run. A request carries one payload
// on the wire, so it is delivered as the join payload; OnCreate always
// sees an empty payload in this merged flow.
func (d *Dispatcher) handleCreateJoinStageReq(rp *codec.RoutePacket) {
	s, _, err := d.stageFor(rp.StageID, rp.StageType)
	if err != nil {
		d.log.Error(err.Error())
		d.replyError(rp, perrors.SystemError)
		rp.Payload.Dispose()
		return
	}
	s.Post(stage.CreateJoinStageCmd{
		SessionNid:    rp.SessionNid,
		Sid:           rp.Sid,
		CreatePayload: pool.Empty(),
		JoinPayload:   rp.Payload,
		Reply:         d.replyCtx(rp),
	})
}

func (d *Dispatcher) handleDestroyStage(rp *codec.RoutePacket) {
	s, ok := d.lookup(rp.StageID)
	if !ok {
		d.replyError(rp, perrors.StageIsNotExist)
		rp.Payload.Dispose()
		return
	}
	rp.Payload.Dispose()
	s.Post(stage.DestroyCmd{Reply: d.replyCtx(rp)})
}

func (d *Dispatcher) handleReconnectMsg(rp *codec.RoutePacket) {
	s, ok := d.lookup(rp.StageID)
	if !ok {
		d.replyError(rp, perrors.StageIsNotExist)
		rp.Payload.Dispose()
		return
	}
	rp.Payload.Dispose()
	s.Post(stage.ReconnectCmd{
		AccountID:  rp.AccountID,
		SessionNid: rp.SessionNid,
		Sid:        rp.Sid,
		Reply:      d.replyCtx(rp),
	})
}

func (d *Dispatcher) handleDisconnectNoticeMsg(rp *codec.RoutePacket) {
	s, ok := d.lookup(rp.StageID)
	if !ok {
		rp.Payload.Dispose()
		return
	}
	rp.Payload.Dispose()
	s.Post(stage.DisconnectNoticeCmd{AccountID: rp.AccountID})
}

func (d *Dispatcher) handleUserMessage(rp *codec.RoutePacket) {
	s, ok := d.lookup(rp.StageID)
	if !ok {
		d.replyError(rp, perrors.StageIsNotExist)
		rp.Payload.Dispose()
		return
	}
	s.Post(stage.RouteMessage{
		MsgID:     rp.MsgID,
		Payload:   rp.Payload,
		AccountID: rp.AccountID,
		Reply:     d.replyCtx(rp),
	})
}

func (d *Dispatcher) lookup(stageID int64) (*stage.BaseStage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stages[stageID]
	return s, ok
}

// unregister removes a stage from the live map once its DestroyCmd has
// fully run; passed to stage.New as onClosed.
func (d *Dispatcher) unregister(stageID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stages, stageID)
}

// StageCount reports the number of live stages, for metrics/tests.
func (d *Dispatcher) StageCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.stages)
}
