// Package bootstrap wires the lifecycle shell (C14): it owns every
// component's construction order, the client-transport-to-dispatcher
// glue, and the start/stop/pause/resume sequencing described in §4.13.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ulala-x/playhouse-go/internal/api"
	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/config"
	"github.com/ulala-x/playhouse-go/internal/mesh"
	"github.com/ulala-x/playhouse-go/internal/play"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/sender"
	"github.com/ulala-x/playhouse-go/internal/serverinfo"
	"github.com/ulala-x/playhouse-go/internal/stage"
	"github.com/ulala-x/playhouse-go/internal/system"
	"github.com/ulala-x/playhouse-go/internal/transport"
)

// Dispatcher is the role-specific inbound route handler: play.Dispatcher
// for RolePlay, api.Dispatcher for RoleApi. Both already share this
// exact method shape, which is what lets Server treat them uniformly.
type Dispatcher interface {
	Handle(rp *codec.RoutePacket)
}

// StageFactories registers Play stage types before Run starts
// accepting traffic. Ignored for Role == RoleApi.
type StageFactories map[string]play.StageFactory

// ApiHandlers registers Api message handlers before Run starts
// accepting traffic. Ignored for Role == RolePlay.
type ApiHandlers map[string]api.Handler

// Server is one PlayHouse process: the client transport, the mesh
// socket, the role dispatcher, and the control-plane plumbing that
// ties them together, per §4.13's component inventory.
type Server struct {
	cfg config.Config
	log *slog.Logger

	pool     *pool.Pool
	mesh     *mesh.Socket
	servers  *serverinfo.Table
	reqCache *reqcache.Cache
	snd      *sender.Sender

	roleDisp Dispatcher
	playDisp *play.Dispatcher // non-nil only for RolePlay; used by system hooks/pause-resume
	apiDisp  *api.Dispatcher  // non-nil only for RoleApi

	sysDisp *system.Dispatcher

	tcpListener *transport.TCPListener
	wsListener  *transport.WSListener

	sessMu   sync.RWMutex
	sessions map[int64]*transport.Session

	paused atomic.Bool
}

// New builds a Server for cfg without starting any goroutines. Exactly
// one of stageFactories/apiHandlers is consulted, chosen by cfg.Role.
// ctx roots the underlying ZMQ socket's lifecycle; pass the same ctx
// (or a parent of it) to Run.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, stageFactories StageFactories, apiHandlers ApiHandlers) (*Server, error) {
	bufPool := pool.New()
	bufPool.WarmUp(cfg.Pool.WarmUpCounts)

	servers := serverinfo.New()
	reqCache := reqcache.New()

	meshSocket := mesh.New(ctx, cfg.ServerID, bufPool, log)

	requestTimeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	snd := sender.New(cfg.ServerID, meshSocket, reqCache, servers, requestTimeout)

	s := &Server{
		cfg:      cfg,
		log:      log,
		pool:     bufPool,
		mesh:     meshSocket,
		servers:  servers,
		reqCache: reqCache,
		snd:      snd,
		sessions: make(map[int64]*transport.Session),
	}

	s.sysDisp = system.New(servers, log, s)

	switch cfg.Role {
	case config.RolePlay:
		pd := play.New(cfg.ServerID, snd, reqCache, log, s.sysDisp.Handle)
		for stageType, factory := range stageFactories {
			pd.RegisterStageType(stageType, factory)
		}
		s.playDisp = pd
		s.roleDisp = pd
	case config.RoleApi:
		ad := api.New(cfg.ServerID, snd, reqCache, log)
		for msgID, handler := range apiHandlers {
			ad.RegisterHandler(msgID, handler)
		}
		s.apiDisp = ad
		s.roleDisp = ad
	default:
		return nil, fmt.Errorf("bootstrap: unrecognized role %q", cfg.Role)
	}

	// A server never needs to dial itself over ZMQ: replies and pushes
	// addressed to cfg.ServerID are delivered straight to the locally
	// attached session (or dropped, once a stage targets a session this
	// process no longer holds).
	s.mesh.RegisterLocal(cfg.ServerID, s.deliverLocal)

	return s, nil
}

// OnPause/OnResume/OnShutdown implement system.Hooks.
func (s *Server) OnPause()  { s.paused.Store(true) }
func (s *Server) OnResume() { s.paused.Store(false) }
func (s *Server) OnShutdown() {
	if s.apiDisp != nil {
		s.apiDisp.Drain()
	}
}

// Run executes the start order from §4.13 (pool already warmed by New;
// bind mesh, start the pool's idle trimmer, start the client
// listener(s), register presence, discovery) and blocks until ctx is
// canceled, then executes the stop order (stop listeners, stop mesh
// receive, drain, close transports).
func (s *Server) Run(ctx context.Context) error {
	if err := s.mesh.Bind(s.cfg.BindEndpoint); err != nil {
		return fmt.Errorf("bootstrap: bind mesh: %w", err)
	}
	s.pool.StartIdleTrimmer(s.cfg.Pool.WarmUpCounts, s.cfg.Pool.IdleTrim)

	sessionCfg := transport.Config{
		MaxPacketLen: s.cfg.MaxPacketBytes,
		MaxMsgIDLen:  s.cfg.MaxMsgIDLen,
		SendQueueCap: s.cfg.SendQueueCap,
	}

	var tlsConfig *tls.Config
	if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("bootstrap: loading TLS keypair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	sids := transport.NewSidGenerator()

	s.tcpListener = transport.NewTCPListener(
		fmt.Sprintf(":%d", s.cfg.TCPPort), tlsConfig, 0, s.pool, sessionCfg, sids, s.log,
		s.onClientPacket, s.onClientDisconnect,
	)

	if s.cfg.WebSocketPath != "" {
		s.wsListener = transport.NewWSListener(
			fmt.Sprintf(":%d", s.cfg.WebSocketPort), s.cfg.WebSocketPath, s.pool, sessionCfg, sids, s.log,
			s.onClientPacket, s.onClientDisconnect,
		)
	}

	s.servers.Register(serverinfo.Info{
		ServerID:     s.cfg.ServerID,
		BindEndpoint: s.cfg.BindEndpoint,
		Role:         serverinfo.Role(s.cfg.Role),
		ServiceID:    s.cfg.ServiceID,
		State:        serverinfo.StateRunning,
	})

	seedPeers(s.servers, s.cfg.Peers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.mesh.Run(gctx, s.onMeshPacket)
		return nil
	})

	g.Go(func() error {
		s.reqCache.StartSweeper(gctx, time.Duration(s.cfg.SweepIntervalMs)*time.Millisecond)
		return nil
	})

	g.Go(func() error {
		mesh.RunDiscovery(gctx, s.mesh, s, time.Duration(s.cfg.HeartbeatMs)*time.Millisecond)
		return nil
	})

	g.Go(func() error {
		if err := s.tcpListener.Run(gctx); err != nil {
			return fmt.Errorf("tcp listener: %w", err)
		}
		return nil
	})

	if s.wsListener != nil {
		g.Go(func() error {
			go func() {
				<-gctx.Done()
				_ = s.wsListener.Close()
			}()
			if err := s.wsListener.Run(); err != nil {
				return fmt.Errorf("websocket listener: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	s.shutdown()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

func (s *Server) shutdown() {
	_ = s.tcpListener.Close()
	if s.wsListener != nil {
		_ = s.wsListener.Close()
	}
	s.mesh.Stop()
	s.mesh.WaitClosed(time.Duration(s.cfg.DrainDeadlineMs) * time.Millisecond)
	if s.apiDisp != nil {
		s.apiDisp.Drain()
	}
	s.reqCache.Stop()
	s.pool.Stop()
}

// Self implements mesh.PresenceSource.
func (s *Server) Self() serverinfo.Info {
	info, _ := s.servers.FindByID(s.cfg.ServerID)
	return info
}

// Peers implements mesh.PresenceSource.
func (s *Server) Peers() []serverinfo.Info {
	return s.servers.List()
}

func seedPeers(servers *serverinfo.Table, peers []string) {
	for _, p := range peers {
		serverID, endpoint, ok := splitPeer(p)
		if !ok {
			continue
		}
		servers.Register(serverinfo.Info{ServerID: serverID, BindEndpoint: endpoint, State: serverinfo.StateStopped})
	}
}

// splitPeer parses a "serverId@endpoint" config entry.
func splitPeer(p string) (serverID, endpoint string, ok bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '@' {
			return p[:i], p[i+1:], true
		}
	}
	return "", "", false
}

// onMeshPacket is the top-level router for every packet arriving over
// ZMQ from a peer server, and (via mesh.Socket's local short-circuit)
// for every reply/push this process addresses to itself. It applies
// the routing precedence that sits above both the Play and Api
// dispatch tables: heartbeats update the peer directory directly,
// isBackend packets are client deliveries handled by the transport
// layer rather than business logic, and everything else falls through
// to the role dispatcher (which itself branches on isReply/isSystem).
func (s *Server) onMeshPacket(rp *codec.RoutePacket) {
	switch {
	case rp.MsgID == mesh.HeartbeatMsgID:
		mesh.HandleHeartbeat(s.servers, rp)
	case rp.IsBackend:
		s.deliverLocal(rp)
	default:
		s.roleDisp.Handle(rp)
	}
}

// deliverLocal is also registered as this server's own mesh.RegisterLocal
// handler, so a reply/push this process addresses to its own cfg.ServerID
// (the common case: the client and the stage/handler that answers it are
// colocated) never goes anywhere near ZMQ.
func (s *Server) deliverLocal(rp *codec.RoutePacket) {
	defer rp.Payload.Dispose()

	sess, ok := s.session(rp.Sid)
	if !ok {
		s.log.Debug("bootstrap: dropped backend delivery for unknown session", "sid", rp.Sid, "msgId", rp.MsgID)
		return
	}

	if rp.AccountID != "" {
		sess.SetAttr("accountId", rp.AccountID)
		sess.SetAttr("stageId", rp.StageID)
	}

	buf, n, err := codec.EncodeClientFramePooled(s.pool, rp.Header, rp.Payload.Span(), s.cfg.Compression.Threshold)
	if err != nil {
		s.log.Warn("bootstrap: failed to encode client frame", "sid", rp.Sid, "error", err)
		return
	}
	if err := sess.SendPooled(buf, n); err != nil {
		s.log.Debug("bootstrap: client send failed", "sid", rp.Sid, "error", err)
	}
}

func (s *Server) onClientPacket(sess *transport.Session, h codec.Header, payload pool.Payload) {
	s.registerSession(sess)

	if s.paused.Load() {
		payload.Dispose()
		return
	}

	accountID, _ := sess.GetAttr("accountId")
	accountIDStr, _ := accountID.(string)

	rp := &codec.RoutePacket{
		Header:     h,
		SessionNid: s.cfg.ServerID,
		Sid:        sess.Sid,
		AccountID:  accountIDStr,
		Payload:    payload,
	}
	rp.From = s.cfg.ServerID

	s.roleDisp.Handle(rp)
}

func (s *Server) onClientDisconnect(sess *transport.Session) {
	s.removeSession(sess.Sid)

	accountID, _ := sess.GetAttr("accountId")
	accountIDStr, _ := accountID.(string)
	if accountIDStr == "" {
		return
	}
	stageID, _ := sess.GetAttr("stageId")
	stageIDVal, _ := stageID.(int64)

	// §4.9: a transport-level disconnect never destroys the actor; it
	// tells the owning stage to mark it disconnected so a reconnect can
	// still find it. Only a stage handler deliberately destroying the
	// actor actually tears it down.
	rp := &codec.RoutePacket{
		Header:    codec.Header{MsgID: play.MsgDisconnectNoticeMsg, IsBase: true, StageID: stageIDVal, From: s.cfg.ServerID},
		AccountID: accountIDStr,
		Payload:   pool.Empty(),
	}
	s.roleDisp.Handle(rp)
}

func (s *Server) session(sid int64) (*transport.Session, bool) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

func (s *Server) removeSession(sid int64) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	delete(s.sessions, sid)
}

// registerSession records sess so later backend deliveries (replies,
// pushes) addressed to its Sid can find it. TCPListener/WSListener
// give bootstrap no separate "session accepted" hook, so this runs,
// idempotently, on every packet rather than once at accept time.
func (s *Server) registerSession(sess *transport.Session) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.sessions[sess.Sid] = sess
}
