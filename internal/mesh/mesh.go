// Package mesh implements the ZMQ-based inter-server socket (C5): one
// ROUTER socket per process binds its own endpoint and dials every
// known peer, so that outbound sends route directly by destination
// server-id without a central broker.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/metrics"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

// Handler receives a fully reconstructed route packet, with From
// already populated from the ZMQ identity frame.
type Handler func(*codec.RoutePacket)

// Socket wraps a ZMQ ROUTER socket bound to selfID's endpoint, with a
// dedicated send goroutine and a dedicated receive goroutine, per
// §4.5's "send thread"/"receive thread" split.
type Socket struct {
	selfID string
	pool   *pool.Pool
	log    *slog.Logger

	sck zmq4.Socket

	sendCh chan sendJob

	mu     sync.RWMutex
	dialed map[string]bool    // peer server-ids already Dial'd
	local  map[string]Handler // non-peer targets delivered in-process, bypassing ZMQ

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type sendJob struct {
	target    string
	frames    [][]byte
	headerBuf []byte // rented from pool, returned after the send completes
	payload   pool.Payload
}

// New creates a mesh socket identified as selfID. Call Bind to start
// listening and Run to start the send/receive goroutines.
func New(ctx context.Context, selfID string, bufPool *pool.Pool, log *slog.Logger) *Socket {
	sck := zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(selfID)))
	return &Socket{
		selfID: selfID,
		pool:   bufPool,
		log:    log,
		sck:    sck,
		sendCh: make(chan sendJob, 1024),
		dialed: make(map[string]bool),
		local:  make(map[string]Handler),
		stopCh: make(chan struct{}),
	}
}

// RegisterLocal binds id to a handler that receives any packet sent to
// id in-process, without going through the ZMQ ROUTER socket. This lets
// a non-peer target — a client session colocated in this process, for
// instance — act as a virtual mesh peer so Sender's reply path works
// unmodified regardless of whether the original sender was another
// server or a local client connection. It is idempotent; registering
// the same id again replaces the handler.
func (s *Socket) RegisterLocal(id string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[id] = h
}

// UnregisterLocal removes a local target previously added with
// RegisterLocal. Sends to id after this call fall through to ZMQ and
// fail, since id was never Dial'd, as for any other unknown peer.
func (s *Socket) UnregisterLocal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, id)
}

// Bind starts listening on endpoint for inbound peer connections.
func (s *Socket) Bind(endpoint string) error {
	if err := s.sck.Listen(endpoint); err != nil {
		return fmt.Errorf("mesh: listen on %s: %w", endpoint, err)
	}
	return nil
}

// Connect opens an outbound connection to a peer at endpoint,
// identified by peerID for future Send calls. It is idempotent.
func (s *Socket) Connect(peerID, endpoint string) error {
	s.mu.Lock()
	if s.dialed[peerID] {
		s.mu.Unlock()
		return nil
	}
	s.dialed[peerID] = true
	s.mu.Unlock()

	if err := s.sck.Dial(endpoint); err != nil {
		return fmt.Errorf("mesh: dial %s (%s): %w", peerID, endpoint, err)
	}
	return nil
}

// Run launches the send and receive loops. It blocks until ctx is
// canceled or Stop is called.
func (s *Socket) Run(ctx context.Context, onPacket Handler) {
	s.wg.Add(2)
	go s.sendLoop(ctx)
	go s.recvLoop(ctx, onPacket)
	s.wg.Wait()
}

// Send writes a route packet addressed to targetServerID. Header and
// payload buffers are returned to the pool after the send completes,
// per §4.5. If targetServerID names a handler registered with
// RegisterLocal, rp is delivered directly to it instead, skipping
// header encoding and the ZMQ send queue entirely.
func (s *Socket) Send(targetServerID string, rp *codec.RoutePacket) error {
	s.mu.RLock()
	h, isLocal := s.local[targetServerID]
	s.mu.RUnlock()
	if isLocal {
		rp.From = s.selfID
		h(rp)
		return nil
	}

	headerBuf := s.pool.Rent(codec.RouteHeaderSize(rp))
	n, err := codec.EncodeRouteHeaderInto(headerBuf, rp)
	if err != nil {
		s.pool.Return(headerBuf)
		rp.Dispose()
		return err
	}
	headerBytes := headerBuf[:n]

	frames := [][]byte{[]byte(targetServerID), headerBytes, rp.Payload.Span()}

	select {
	case s.sendCh <- sendJob{target: targetServerID, frames: frames, headerBuf: headerBuf, payload: rp.Payload}:
		return nil
	default:
		metrics.MeshSendDrops.WithLabelValues(targetServerID).Inc()
		s.pool.Return(headerBuf)
		rp.Dispose()
		return fmt.Errorf("mesh: send queue full for target %s", targetServerID)
	}
}

func (s *Socket) sendLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case job := <-s.sendCh:
			msg := zmq4.NewMsgFrom(job.frames...)
			if err := s.sck.Send(msg); err != nil {
				s.log.Error("mesh send failed", "target", job.target, "error", err)
				metrics.MeshSendDrops.WithLabelValues(job.target).Inc()
			}
			if job.headerBuf != nil {
				s.pool.Return(job.headerBuf)
			}
			job.payload.Dispose()
		}
	}
}

func (s *Socket) recvLoop(ctx context.Context, onPacket Handler) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		msg, err := s.sck.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
			s.log.Error("mesh recv failed", "error", err)
			continue
		}

		if len(msg.Frames) < 3 {
			s.log.Warn("mesh: dropped malformed multipart frame", "frameCount", len(msg.Frames))
			continue
		}

		from := string(msg.Frames[0])
		rp, err := codec.DecodeRouteHeader(msg.Frames[1])
		if err != nil {
			s.log.Warn("mesh: dropped frame with invalid route header", "from", from, "error", err)
			continue
		}
		rp.From = from
		rp.Payload = pool.FromMemory(msg.Frames[2])

		onPacket(&rp)
	}
}

// Stop closes the socket and terminates the send/receive goroutines.
func (s *Socket) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.sck.Close()
	})
}

// WaitClosed blocks until timeout or the Run goroutines have exited.
func (s *Socket) WaitClosed(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
