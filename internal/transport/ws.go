package transport

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

// wsConn adapts a *websocket.Conn to RawConn: each WriteFrame is one
// binary WS message; each ReadChunk is one full message, which may
// itself concatenate more than one PlayHouse frame per §4.3.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadChunk() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteFrame(frame []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSListener serves the client-facing WebSocket endpoint on top of an
// *http.Server, upgrading each incoming request via gorilla/websocket.
type WSListener struct {
	path       string
	upgrader   websocket.Upgrader
	bufPool    *pool.Pool
	sessionCfg Config

	onPacket     PacketHandler
	onDisconnect DisconnectHandler
	log          *slog.Logger

	sids *SidGenerator

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewWSListener returns a WebSocket listener to be mounted at path on
// addr. Origin checking is deliberately permissive (server-to-client
// game traffic, not browser-scoped credentials) per the teacher's
// general stance of not layering CORS-style checks onto internal
// game-protocol endpoints. bufPool is shared with every Session this
// listener accepts. sids must be shared with any other listener (e.g.
// TCPListener) running in the same process.
func NewWSListener(addr, path string, bufPool *pool.Pool, sessionCfg Config, sids *SidGenerator, log *slog.Logger, onPacket PacketHandler, onDisconnect DisconnectHandler) *WSListener {
	l := &WSListener{
		path:       path,
		bufPool:    bufPool,
		sessionCfg: sessionCfg,
		sids:       sids,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		onPacket:     onPacket,
		onDisconnect: onDisconnect,
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return l
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sid := l.sids.Next()
	rc := &wsConn{conn: conn}
	sess := NewSession(sid, rc, l.bufPool, l.log, l.sessionCfg, l.onPacket, l.onDisconnect)
	go sess.Run()
}

// Run starts serving HTTP/WebSocket upgrade requests; it blocks until
// the server is closed.
func (l *WSListener) Run() error {
	l.log.Info("websocket listener started", "address", l.httpSrv.Addr, "path", l.path)
	err := l.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP server down, closing any open upgrade listener.
func (l *WSListener) Close() error {
	return l.httpSrv.Close()
}
