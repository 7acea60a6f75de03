// Package api implements the ApiDispatcher (C12): a stateless
// msg-id -> handler table for servers that host request/reply
// business logic without owning any stage state.
package api

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/perrors"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/sender"
)

// Context is the per-request scope handed to a Handler: the inbound
// packet plus a sender facade already rooted at this dispatcher's
// server id, so handlers never construct their own.
type Context struct {
	MsgID     string
	Payload   pool.Payload
	AccountID string
	Sender    *sender.Sender
	reply     sender.ReplyContext
}

// Reply answers the in-scope request with code and payload. A no-op
// (besides disposing payload) if the inbound packet was one-way.
func (c *Context) Reply(code uint16, payload pool.Payload) error {
	if c.reply.MsgSeq == 0 {
		payload.Dispose()
		return nil
	}
	return c.Sender.Reply(c.reply, code, payload)
}

// Handler processes one inbound route packet's worth of user logic.
// It owns Context.Payload and must dispose it (directly, or via
// Reply, which disposes on the one-way/no-msgSeq path).
type Handler func(ctx *Context)

// Dispatcher is the compiled msg-id -> Handler table described by
// §4.11. It holds no stage/actor state of its own: every field here
// is either immutable after RegisterHandler calls finish at startup,
// or internally synchronized.
type Dispatcher struct {
	selfServerID string
	snd          *sender.Sender
	reqCache     *reqcache.Cache
	log          *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	wg       sync.WaitGroup
	draining atomic.Bool
}

// New builds an empty dispatcher rooted at selfServerID.
func New(selfServerID string, snd *sender.Sender, reqCache *reqcache.Cache, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		selfServerID: selfServerID,
		snd:          snd,
		reqCache:     reqCache,
		log:          log,
		handlers:     make(map[string]Handler),
	}
}

// RegisterHandler binds msgID to h. Must be called before Handle runs
// concurrently against it; registering the same msgID twice replaces
// the prior handler, matching a controller re-registering at startup.
func (d *Dispatcher) RegisterHandler(msgID string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgID] = h
}

func (d *Dispatcher) lookup(msgID string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[msgID]
	return h, ok
}

// Handle routes one inbound route packet. Reply packets complete a
// pending request via C4 synchronously (no handler, no scope). Every
// other packet runs its handler on its own goroutine so a slow
// handler never blocks the mesh receive loop; in-flight invocations
// are tracked so Drain can wait for them on shutdown.
func (d *Dispatcher) Handle(rp *codec.RoutePacket) {
	if rp.IsReply {
		d.reqCache.TryComplete(rp.Header, rp.Payload)
		return
	}

	if d.draining.Load() {
		d.replyError(rp, perrors.Disconnected)
		rp.Payload.Dispose()
		return
	}

	h, ok := d.lookup(rp.MsgID)
	if !ok {
		d.log.Warn("api: no handler registered", "msgId", rp.MsgID)
		d.replyError(rp, perrors.NotRegisteredMessage)
		rp.Payload.Dispose()
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.invoke(h, rp)
	}()
}

func (d *Dispatcher) invoke(h Handler, rp *codec.RoutePacket) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("api: handler panicked", "msgId", rp.MsgID, "panic", fmt.Sprint(r))
			rp.Payload.Dispose()
			d.replyError(rp, perrors.SystemError)
		}
	}()

	ctx := &Context{
		MsgID:     rp.MsgID,
		Payload:   rp.Payload,
		AccountID: rp.AccountID,
		Sender:    d.snd,
		reply:     sender.ReplyContext{From: rp.From, MsgSeq: rp.MsgSeq, StageID: rp.StageID, Sid: rp.Sid},
	}
	h(ctx)
}

func (d *Dispatcher) replyError(rp *codec.RoutePacket, code uint16) {
	if rp.MsgSeq == 0 {
		return
	}
	ctx := sender.ReplyContext{From: rp.From, MsgSeq: rp.MsgSeq, StageID: rp.StageID, Sid: rp.Sid}
	if err := d.snd.Reply(ctx, code, pool.Empty()); err != nil {
		d.log.Warn("api: failed to send error reply", "code", perrors.Name(code), "error", err)
	}
}

// Drain stops accepting new handler invocations (subsequent Handle
// calls reply Disconnected and drop) and blocks until every in-flight
// handler has returned.
func (d *Dispatcher) Drain() {
	d.draining.Store(true)
	d.wg.Wait()
}
