package actor

import (
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/sender"
)

// clientPusher is the slice of sender.Sender an ActorSender needs;
// narrowed to an interface so tests can substitute a fake.
type clientPusher interface {
	SendToClient(sessionServerID string, sid int64, accountID string, msgID string, payload pool.Payload) error
}

// Sender is the actor-scoped push facade: SendToClient routes through
// the actor's own owning session server, so callers never have to
// track sessionNid/sid/accountId themselves.
type Sender struct {
	actor *Actor
	push  clientPusher
}

// NewSender binds push to actor's identity.
func NewSender(actor *Actor, push *sender.Sender) *Sender {
	return &Sender{actor: actor, push: push}
}

// SendToClient packages a push frame and routes it through the
// actor's owning session server per §4.8.
func (s *Sender) SendToClient(msgID string, payload pool.Payload) error {
	return s.push.SendToClient(s.actor.SessionNid, s.actor.Sid, s.actor.AccountID, msgID, payload)
}
