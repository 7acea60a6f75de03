package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

// tcpConn adapts a net.Conn (plain TCP or TLS-wrapped) to RawConn.
type tcpConn struct {
	conn    net.Conn
	readBuf []byte
}

func newTCPConn(conn net.Conn, readBufSize int) *tcpConn {
	return &tcpConn{conn: conn, readBuf: make([]byte, readBufSize)}
}

func (c *tcpConn) ReadChunk() ([]byte, error) {
	n, err := c.conn.Read(c.readBuf)
	if err != nil {
		return nil, err
	}
	return c.readBuf[:n], nil
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// TCPListener accepts plain or TLS-wrapped TCP connections and spins
// up a Session per accepted connection, grounded on the teacher's
// gslistener accept-loop/per-connection-goroutine pattern.
type TCPListener struct {
	addr      string
	tlsConfig *tls.Config // nil for plain TCP

	bufPool      *pool.Pool
	sessionCfg   Config
	onPacket     PacketHandler
	onDisconnect DisconnectHandler
	readBufSize  int

	log *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	sids *SidGenerator
}

// NewTCPListener creates a listener bound to addr. tlsConfig may be
// nil for a plain TCP listener. bufPool is shared with every Session
// this listener accepts. sids must be shared with any other listener
// (e.g. WSListener) running in the same process, so Sids stay unique
// across transports.
func NewTCPListener(addr string, tlsConfig *tls.Config, readBufSize int, bufPool *pool.Pool, sessionCfg Config, sids *SidGenerator, log *slog.Logger, onPacket PacketHandler, onDisconnect DisconnectHandler) *TCPListener {
	if readBufSize <= 0 {
		readBufSize = 64 * 1024
	}
	return &TCPListener{
		addr:         addr,
		tlsConfig:    tlsConfig,
		readBufSize:  readBufSize,
		bufPool:      bufPool,
		sessionCfg:   sessionCfg,
		sids:         sids,
		onPacket:     onPacket,
		onDisconnect: onDisconnect,
		log:          log,
	}
}

// Run binds the listener and accepts connections until ctx is canceled.
func (l *TCPListener) Run(ctx context.Context) error {
	var ln net.Listener
	var err error
	if l.tlsConfig != nil {
		ln, err = tls.Listen("tcp", l.addr, l.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", l.addr)
	}
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.log.Info("tcp listener started", "address", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.log.Error("tcp accept failed", "error", err)
			continue
		}

		sid := l.sids.Next()
		rc := newTCPConn(conn, l.readBufSize)
		sess := NewSession(sid, rc, l.bufPool, l.log, l.sessionCfg, l.onPacket, l.onDisconnect)
		go sess.Run()
	}
}

// Addr returns the bound address, or "" if not yet running.
func (l *TCPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// Close stops accepting new connections.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
