package main

import (
	"github.com/ulala-x/playhouse-go/internal/actor"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/sender"
	"github.com/ulala-x/playhouse-go/internal/stage"
)

// MsgEcho is the only content message the default stage understands:
// it replies with whatever payload it was sent.
const MsgEcho = "Echo"

// defaultStageFactory builds the stock stage every playhouse-play
// process can host without linking a game package: join succeeds for
// any non-empty authenticate payload, and Echo round-trips its payload
// back to the sender. A
// real deployment registers its own stage types and never reaches
// this one.
func defaultStageFactory(stageType string) stage.Hooks {
	return &echoStageHooks{}
}

type echoStageHooks struct{}

func (echoStageHooks) OnCreate(s *stage.BaseStage, payload pool.Payload) (bool, pool.Payload) {
	payload.Dispose()
	return true, pool.Empty()
}

func (echoStageHooks) NewActor(s *stage.BaseStage, sessionNid string, sid int64) *actor.Actor {
	a := actor.New(sessionNid, sid, nil)
	a.Hooks = &echoActorHooks{actor: a}
	return a
}

func (echoStageHooks) OnJoin(s *stage.BaseStage, a *actor.Actor, payload pool.Payload) (bool, pool.Payload) {
	return true, payload
}

func (echoStageHooks) OnConnectionChanged(s *stage.BaseStage, a *actor.Actor, connected bool) {}

func (echoStageHooks) OnLeave(s *stage.BaseStage, a *actor.Actor) {}

func (echoStageHooks) OnDestroy(s *stage.BaseStage) {}

func (echoStageHooks) Dispatch(s *stage.BaseStage, a *actor.Actor, msgID string, payload pool.Payload, reply sender.ReplyContext) {
	switch msgID {
	case MsgEcho:
		if rc := reply; rc.MsgSeq != 0 {
			_ = s.Sender().Reply(rc, 0, payload)
			return
		}
		payload.Dispose()
	default:
		payload.Dispose()
	}
}

// echoActorHooks authenticates any non-empty payload, treating its
// bytes as the account id, so a standalone server is reachable
// without any application-specific login handshake.
type echoActorHooks struct{ actor *actor.Actor }

func (h *echoActorHooks) OnCreate() {}

func (h *echoActorHooks) OnAuthenticate(payload pool.Payload) (bool, pool.Payload) {
	accountID := string(payload.Span())
	payload.Dispose()
	if accountID == "" {
		return false, pool.Empty()
	}
	h.actor.AccountID = accountID
	return true, pool.Empty()
}

func (h *echoActorHooks) OnPostAuthenticate() {}

func (h *echoActorHooks) OnDestroy() {}
