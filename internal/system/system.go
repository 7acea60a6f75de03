// Package system implements the control-plane dispatcher (C13): a
// small handler table for heartbeat, server register/deregister,
// pause/resume and shutdown messages, separate from the user-facing
// Play/Api dispatch tables.
package system

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/serverinfo"
)

// Reserved control-plane msg-ids recognized by this dispatcher. A
// packet reaches Handle either because its header sets isSystem, or
// because its msgId was explicitly registered via RegisterHandler —
// §4.12 leaves the exact set of control-plane names unspecified
// beyond HeartBeat, so these are chosen to match that reserved name's
// register/pause/resume/shutdown counterparts. MsgServerInfoQuery is
// reserved but has no built-in handler: Handle drops it unless one is
// registered.
const (
	MsgHeartBeat        = "HeartBeat"
	MsgPause            = "Pause"
	MsgResume           = "Resume"
	MsgShutdown         = "Shutdown"
	MsgServerInfoQuery  = "ServerInfoQuery"
	MsgServerRegister   = "ServerRegister"
	MsgServerDeregister = "ServerDeregister"
)

// Handler processes one control-plane packet. Unlike api.Handler,
// system handlers receive no reply context: §4.12 states no
// reply-context is available to system handlers in the current
// revision, so a handler that needs to answer the caller does so by
// sending its own one-way message through a Sender.
type Handler func(rp *codec.RoutePacket)

// Hooks lets the lifecycle shell (C14) react to pause/resume/shutdown
// without this package depending on play/api/bootstrap directly.
type Hooks interface {
	OnPause()
	OnResume()
	OnShutdown()
}

// Dispatcher is the control-plane handler table plus the built-in
// pause/resume/shutdown/heartbeat/server-directory handlers every
// server process wires up regardless of role.
type Dispatcher struct {
	log     *slog.Logger
	servers *serverinfo.Table
	hooks   Hooks

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a dispatcher with the built-in control-plane handlers
// already registered (heartbeat, pause, resume, shutdown, directory
// register/deregister). hooks may be nil if the host process does not
// need pause/resume/shutdown callbacks.
func New(servers *serverinfo.Table, log *slog.Logger, hooks Hooks) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		servers:  servers,
		hooks:    hooks,
		handlers: make(map[string]Handler),
	}
	d.RegisterHandler(MsgHeartBeat, d.handleHeartbeat)
	d.RegisterHandler(MsgServerRegister, d.handleServerRegister)
	d.RegisterHandler(MsgServerDeregister, d.handleServerDeregister)
	d.RegisterHandler(MsgPause, d.handlePause)
	d.RegisterHandler(MsgResume, d.handleResume)
	d.RegisterHandler(MsgShutdown, d.handleShutdown)
	return d
}

// RegisterHandler binds msgID to h, overriding any built-in handler of
// the same name.
func (d *Dispatcher) RegisterHandler(msgID string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgID] = h
}

// Handle dispatches rp by msg-id. Packets with no matching handler are
// logged and dropped — there is no reply path to report the error on.
func (d *Dispatcher) Handle(rp *codec.RoutePacket) {
	d.mu.RLock()
	h, ok := d.handlers[rp.MsgID]
	d.mu.RUnlock()

	if !ok {
		d.log.Warn("system: no control-plane handler registered", "msgId", rp.MsgID)
		rp.Payload.Dispose()
		return
	}
	h(rp)
}

func (d *Dispatcher) handleHeartbeat(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	d.servers.Heartbeat(rp.From, serverinfo.StateRunning, time.Now())
}

func (d *Dispatcher) handleServerRegister(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	d.servers.Register(serverinfo.Info{
		ServerID:      rp.From,
		State:         serverinfo.StateRunning,
		LastHeartbeat: time.Now(),
	})
}

func (d *Dispatcher) handleServerDeregister(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	d.servers.Remove(rp.From)
}

func (d *Dispatcher) handlePause(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	if d.hooks != nil {
		d.hooks.OnPause()
	}
}

func (d *Dispatcher) handleResume(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	if d.hooks != nil {
		d.hooks.OnResume()
	}
}

func (d *Dispatcher) handleShutdown(rp *codec.RoutePacket) {
	rp.Payload.Dispose()
	if d.hooks != nil {
		d.hooks.OnShutdown()
	}
}
