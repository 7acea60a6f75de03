// Package actor implements per-client actor state (C8): identity,
// lifecycle, and the client-push sender facade.
package actor

import (
	"fmt"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

// State is the actor lifecycle per §3/§4.8.
type State int32

const (
	StateCreated State = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Hooks is the lifecycle contract user code implements, invoked by the
// owning stage's mailbox worker (so no synchronization is needed
// inside these methods).
type Hooks interface {
	OnCreate()
	OnAuthenticate(payload pool.Payload) (ok bool, replyPayload pool.Payload)
	OnPostAuthenticate()
	OnDestroy()
}

// Actor is the per-client identity and state record, exclusively
// owned by one Stage after join per §3.
type Actor struct {
	AccountID  string // set by OnAuthenticate before it may return ok=true
	SessionNid string // owning session server
	Sid        int64  // session id on that server
	ApiNid     string // optional gateway nid

	StageID int64
	state   State

	Hooks Hooks
	Sender *Sender
}

// New creates an actor bound to a session but not yet authenticated.
func New(sessionNid string, sid int64, hooks Hooks) *Actor {
	return &Actor{
		SessionNid: sessionNid,
		Sid:        sid,
		state:      StateCreated,
		Hooks:      hooks,
	}
}

// State returns the current lifecycle state.
func (a *Actor) State() State {
	return a.state
}

// Create runs OnCreate. Must be called exactly once right after
// factory instantiation, before any mailbox message is dispatched to
// this actor.
func (a *Actor) Create() {
	a.Hooks.OnCreate()
}

// Authenticate runs OnAuthenticate and advances state on success. It
// enforces the invariant that AccountId must be set before success is
// accepted, per §4.8.
func (a *Actor) Authenticate(payload pool.Payload) (replyPayload pool.Payload, err error) {
	if a.state != StateCreated {
		return pool.Empty(), fmt.Errorf("actor: authenticate called in state %s", a.state)
	}

	ok, reply := a.Hooks.OnAuthenticate(payload)
	if !ok {
		return reply, nil
	}
	if a.AccountID == "" {
		return reply, fmt.Errorf("actor: OnAuthenticate returned ok=true without assigning AccountId")
	}

	a.state = StateAuthenticated
	a.Hooks.OnPostAuthenticate()
	return reply, nil
}

// Join marks the actor as owned by a stage.
func (a *Actor) Join(stageID int64) error {
	if a.state != StateAuthenticated {
		return fmt.Errorf("actor: join called in state %s", a.state)
	}
	a.StageID = stageID
	a.state = StateJoined
	return nil
}

// MarkDisconnected records a transport-level disconnect without
// destroying the actor, so a reconnect can still find it.
func (a *Actor) MarkDisconnected() {
	if a.state != StateDestroyed {
		a.state = StateDisconnected
	}
}

// Reconnect re-attaches a new session to a previously disconnected
// actor.
func (a *Actor) Reconnect(sessionNid string, sid int64) error {
	if a.state != StateDisconnected {
		return fmt.Errorf("actor: reconnect called in state %s", a.state)
	}
	a.SessionNid = sessionNid
	a.Sid = sid
	a.state = StateJoined
	return nil
}

// Destroy runs OnDestroy and marks the actor destroyed. Idempotent.
func (a *Actor) Destroy() {
	if a.state == StateDestroyed {
		return
	}
	a.state = StateDestroyed
	a.Hooks.OnDestroy()
}
