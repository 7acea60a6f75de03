// Package sender implements the uniform send/request facade (C7) used
// by actor and stage code: one-way sends, correlated requests, and
// replies, built on top of the request cache (C4) and mesh socket
// (C5).
package sender

import (
	"fmt"
	"time"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/mesh"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/serverinfo"
)

// ApiServicePolicy picks a target among the live members of a service
// group for SendToApiService/RequestToApiService.
type ApiServicePolicy int

const (
	PolicyRoundRobin ApiServicePolicy = iota
	PolicyAccountAffinity
)

// ReplyContext carries the in-scope routing needed to answer the
// packet currently being handled: who sent it and what msgSeq it
// expects back. Stage code fills this from a per-mailbox-message slot
// (the stage's single worker goroutine processes one message at a
// time, so this slot never needs synchronization); actor code
// delegates to its owning stage's context.
type ReplyContext struct {
	From      string
	MsgSeq    uint16
	StageID   int64
	Sid       int64  // non-zero when the original request came from a client session, not a peer server
	AccountID string // set on a join reply so the owning session learns its accountId
}

// Sender is the uniform send/request facade. It is safe for concurrent
// use by the stage goroutines that embed it, since every mutable piece
// of state it touches (the mesh socket, the request cache) is already
// internally synchronized.
type Sender struct {
	selfServerID   string
	mesh           *mesh.Socket
	reqCache       *reqcache.Cache
	servers        *serverinfo.Table
	requestTimeout time.Duration
}

// New builds a Sender rooted at selfServerID.
func New(selfServerID string, m *mesh.Socket, rc *reqcache.Cache, servers *serverinfo.Table, requestTimeout time.Duration) *Sender {
	return &Sender{
		selfServerID:   selfServerID,
		mesh:           m,
		reqCache:       rc,
		servers:        servers,
		requestTimeout: requestTimeout,
	}
}

func (s *Sender) sendOneWay(targetServerID string, h codec.Header, payload pool.Payload) error {
	h.From = s.selfServerID
	rp := &codec.RoutePacket{Header: h, Payload: payload}
	return s.mesh.Send(targetServerID, rp)
}

// SendToApi sends a one-way packet to serverId (msgSeq left at 0).
func (s *Sender) SendToApi(serverID string, msgID string, payload pool.Payload) error {
	return s.sendOneWay(serverID, codec.Header{MsgID: msgID}, payload)
}

// SendToStage sends a one-way packet into a stage on serverId.
func (s *Sender) SendToStage(serverID string, stageID int64, msgID string, payload pool.Payload) error {
	return s.sendOneWay(serverID, codec.Header{MsgID: msgID, StageID: stageID}, payload)
}

// SendToSystem sends a one-way control-plane message to serverId.
func (s *Sender) SendToSystem(serverID string, msgID string, payload pool.Payload) error {
	return s.sendOneWay(serverID, codec.Header{MsgID: msgID, IsSystem: true}, payload)
}

// SendToClient routes a push frame through sessionServerId, the mesh
// peer that owns the client's TCP/WS session, rather than writing to a
// local transport session directly — this is what makes gateway
// topologies (an Api/Play server that doesn't itself hold the client
// connection) work uniformly, per §4.8.
func (s *Sender) SendToClient(sessionServerID string, sid int64, accountID string, msgID string, payload pool.Payload) error {
	h := codec.Header{MsgID: msgID, From: s.selfServerID, IsBackend: true}
	rp := &codec.RoutePacket{Header: h, Sid: sid, AccountID: accountID, Payload: payload}
	return s.mesh.Send(sessionServerID, rp)
}

// SendToApiService sends a one-way packet to one live member of
// serviceId, chosen per policy.
func (s *Sender) SendToApiService(serviceID uint16, accountID string, policy ApiServicePolicy, msgID string, payload pool.Payload) error {
	target, ok := s.pickServiceMember(serviceID, accountID, policy)
	if !ok {
		payload.Dispose()
		return fmt.Errorf("sender: no live member for serviceId %d", serviceID)
	}
	return s.sendOneWay(target.ServerID, codec.Header{MsgID: msgID}, payload)
}

func (s *Sender) pickServiceMember(serviceID uint16, accountID string, policy ApiServicePolicy) (serverinfo.Info, bool) {
	if policy == PolicyAccountAffinity && accountID != "" {
		return s.servers.FindByAccountID(serviceID, accountID)
	}
	return s.servers.FindRoundRobin(serviceID)
}

// Reply echoes msgSeq/stageId from ctx back to ctx.From, setting
// isReply and the given errorCode. When ctx.Sid is non-zero the
// original request came from a client session rather than a peer
// server's own request/reply traffic, so the reply is marked
// isBackend and carries Sid, letting the receiving end's transport
// layer deliver it to the right session instead of handing it to a
// dispatcher.
func (s *Sender) Reply(ctx ReplyContext, errorCode uint16, payload pool.Payload) error {
	h := codec.Header{
		MsgSeq:    ctx.MsgSeq,
		StageID:   ctx.StageID,
		ErrorCode: errorCode,
		IsReply:   true,
		IsBackend: ctx.Sid != 0,
		From:      s.selfServerID,
	}
	rp := &codec.RoutePacket{Header: h, Sid: ctx.Sid, AccountID: ctx.AccountID, Payload: payload}
	return s.mesh.Send(ctx.From, rp)
}

// RequestCallback is invoked exactly once: with the peer's reply, or
// with a non-nil Err on timeout/shutdown.
type RequestCallback func(reqcache.Reply)

func (s *Sender) request(targetServerID string, h codec.Header, payload pool.Payload, cb RequestCallback) error {
	seq := s.reqCache.NextSeq()
	h.MsgSeq = seq
	h.From = s.selfServerID

	deadline := time.Now().Add(s.requestTimeout)
	if err := s.reqCache.Register(seq, deadline, reqcache.Callback(cb)); err != nil {
		payload.Dispose()
		return err
	}

	rp := &codec.RoutePacket{Header: h, Payload: payload}
	if err := s.mesh.Send(targetServerID, rp); err != nil {
		return err
	}
	return nil
}

// RequestToApi sends a correlated request to an Api server.
func (s *Sender) RequestToApi(serverID, msgID string, payload pool.Payload, cb RequestCallback) error {
	return s.request(serverID, codec.Header{MsgID: msgID}, payload, cb)
}

// RequestToStage sends a correlated request into a remote stage.
func (s *Sender) RequestToStage(serverID string, stageID int64, msgID string, payload pool.Payload, cb RequestCallback) error {
	return s.request(serverID, codec.Header{MsgID: msgID, StageID: stageID}, payload, cb)
}

// RequestToSystem sends a correlated control-plane request. As with
// any request, if the peer never answers (e.g. a system endpoint with
// no reply path), the request cache's sweep will eventually time it
// out — no reply path is synthesized locally.
func (s *Sender) RequestToSystem(serverID, msgID string, payload pool.Payload, cb RequestCallback) error {
	return s.request(serverID, codec.Header{MsgID: msgID, IsSystem: true}, payload, cb)
}

// Deliver routes a reply route packet into the request cache. Called
// by the dispatcher layer (C10/C12) when isReply is set.
func (s *Sender) Deliver(h codec.Header, payload pool.Payload) {
	s.reqCache.TryComplete(h, payload)
}
