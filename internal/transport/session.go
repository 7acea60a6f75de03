// Package transport implements the client-facing connection sessions
// (C3): per-connection framed I/O over TCP, TLS, and WebSocket, a
// length-prefix parser, and a bounded async write queue with
// disconnect-on-overflow back-pressure.
package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/metrics"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

// State is the lifecycle of a client session.
type State int32

const (
	StateConnected State = iota
	StateDisconnected
)

// RawConn abstracts the per-protocol I/O primitive a Session drives:
// TCP/TLS read raw stream chunks, WebSocket reads whole messages — both
// get fed into the same frameParser. Writes are always one complete,
// already-encoded frame.
type RawConn interface {
	ReadChunk() ([]byte, error)
	WriteFrame(frame []byte) error
	RemoteAddr() string
	Close() error
}

// PacketHandler is invoked once per decoded client frame. body is
// rented from the session's pool; the handler takes ownership and must
// eventually Dispose it (directly, or by handing it off inside a
// pool.Payload it disposes later).
type PacketHandler func(s *Session, h codec.Header, body pool.Payload)

// DisconnectHandler is invoked exactly once when a session goes away,
// whatever the cause (read error, write error, queue overflow, or an
// explicit Close), per §4.3's idempotent-disconnect-callback contract.
type DisconnectHandler func(s *Session)

// Session is one client connection: one reader goroutine parsing
// frames and dispatching to onPacket, one writer goroutine (writePump)
// draining a bounded send queue, and idempotent teardown.
type Session struct {
	Sid int64

	conn RawConn
	pool *pool.Pool
	log  *slog.Logger

	state atomic.Int32

	sendCh  chan outboundFrame
	closeCh chan struct{}
	once    sync.Once

	maxPacketLen int
	maxMsgIDLen  int

	onPacket     PacketHandler
	onDisconnect DisconnectHandler

	mu   sync.Mutex
	data map[string]any // small per-session attribute bag (accountId, etc.)
}

// outboundFrame is one entry on a Session's write queue. pooled is
// non-nil when frame was sliced out of a buffer rented from the
// session's pool, which writePump returns once the write completes
// (whether it succeeds or fails) rather than leaving it to the GC.
type outboundFrame struct {
	frame  []byte
	pooled []byte
}

// Config bundles the bounds and queue sizing a Session enforces.
type Config struct {
	MaxPacketLen int
	MaxMsgIDLen  int
	SendQueueCap int
}

// SidGenerator hands out session ids from a single shared counter, so
// TCP and WebSocket listeners accepting concurrently into the same
// process never assign the same Sid to two different sessions.
type SidGenerator struct {
	next atomic.Int64
}

// NewSidGenerator returns a generator whose first Next() call yields 1.
func NewSidGenerator() *SidGenerator {
	return &SidGenerator{}
}

// Next returns the next session id, starting at 1.
func (g *SidGenerator) Next() int64 {
	return g.next.Add(1)
}

// NewSession wraps conn with the read/write pumps. Call Run to start
// them; it blocks until the session is closed.
func NewSession(sid int64, conn RawConn, bufPool *pool.Pool, log *slog.Logger, cfg Config, onPacket PacketHandler, onDisconnect DisconnectHandler) *Session {
	if cfg.SendQueueCap <= 0 {
		cfg.SendQueueCap = 1024
	}
	s := &Session{
		Sid:          sid,
		conn:         conn,
		pool:         bufPool,
		log:          log,
		sendCh:       make(chan outboundFrame, cfg.SendQueueCap),
		closeCh:      make(chan struct{}),
		maxPacketLen: cfg.MaxPacketLen,
		maxMsgIDLen:  cfg.MaxMsgIDLen,
		onPacket:     onPacket,
		onDisconnect: onDisconnect,
		data:         make(map[string]any),
	}
	s.state.Store(int32(StateConnected))
	return s
}

// Run starts the read loop and blocks until the session closes. Start
// it from its own goroutine; the write pump runs in a second goroutine
// spawned internally.
func (s *Session) Run() {
	go s.writePump()
	s.readLoop()
}

func (s *Session) readLoop() {
	defer s.Close()

	parser := newFrameParser(s.maxPacketLen, s.maxMsgIDLen, s.pool)
	for {
		chunk, err := s.conn.ReadChunk()
		if err != nil {
			return
		}

		frames, err := parser.feed(chunk)
		for _, f := range frames {
			s.onPacket(s, f.header, f.body)
		}
		if err != nil {
			s.log.Debug("session closed on protocol violation", "sid", s.Sid, "error", err)
			return
		}
	}
}

// writePump drains sendCh and writes each frame in turn. Grounded on
// the teacher's per-client async write goroutine: a single send
// failure tears down the whole session.
func (s *Session) writePump() {
	defer s.Close()
	for {
		select {
		case of, ok := <-s.sendCh:
			if !ok {
				return
			}
			err := s.conn.WriteFrame(of.frame)
			if of.pooled != nil {
				s.pool.Return(of.pooled)
			}
			if err != nil {
				s.log.Debug("session write failed", "sid", s.Sid, "error", err)
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// Send enqueues an already-encoded frame for delivery. Non-blocking:
// overflow disconnects the session, per the bounded-queue back-pressure
// decision in the project's design notes.
func (s *Session) Send(frame []byte) error {
	return s.enqueue(outboundFrame{frame: frame})
}

// SendPooled enqueues buf[:n], a frame encoded directly into a buffer
// rented from the session's pool (codec.EncodeClientFramePooled
// builds one). The full-capacity buf is returned to the pool once the
// write completes, successful or not.
func (s *Session) SendPooled(buf []byte, n int) error {
	return s.enqueue(outboundFrame{frame: buf[:n], pooled: buf})
}

func (s *Session) enqueue(of outboundFrame) error {
	select {
	case s.sendCh <- of:
		return nil
	default:
		metrics.SendQueueOverflows.Inc()
		if of.pooled != nil {
			s.pool.Return(of.pooled)
		}
		s.Close()
		return fmt.Errorf("transport: send queue overflow for session %d", s.Sid)
	}
}

// Close tears the session down idempotently and invokes onDisconnect
// exactly once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateDisconnected))
		close(s.closeCh)
		_ = s.conn.Close()
		if s.onDisconnect != nil {
			s.onDisconnect(s)
		}
	})
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the underlying connection's remote address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// SetAttr/GetAttr expose a small per-session key/value bag, used to
// stash the owning actor's accountId once authenticated.
func (s *Session) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *Session) GetAttr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}
