package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/config"
	"github.com/ulala-x/playhouse-go/internal/play"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/stage"
	"github.com/ulala-x/playhouse-go/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory transport.RawConn: writes are captured for
// assertion, reads are never exercised by these tests.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (f *fakeConn) ReadChunk() ([]byte, error) { select {} }

func (f *fakeConn) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fakeConn: closed")
	}
	f.written = append(f.written, append([]byte{}, frame...))
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake:0" }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.written...)
}

func noopStageFactory(stageType string) stage.Hooks { return nil }

func testConfig(serverID, bindEndpoint string) config.Config {
	cfg := config.Default()
	cfg.ServerID = serverID
	cfg.BindEndpoint = bindEndpoint
	cfg.TCPPort = 0
	return cfg
}

func TestDeliverLocalEncodesAndWritesToOwningSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-1", "inproc://bootstrap-test-1")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	conn := &fakeConn{}
	sess := transport.NewSession(7, conn, srv.pool, discardLogger(), transport.Config{SendQueueCap: 8}, nil, nil)
	srv.registerSession(sess)
	go sess.Run()

	rp := &codec.RoutePacket{
		Header:    codec.Header{MsgID: "Echo", IsBackend: true},
		Sid:       7,
		AccountID: "acct-1",
		Payload:   pool.FromMemory([]byte("hi")),
	}
	srv.deliverLocal(rp)

	assert.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	accountID, ok := sess.GetAttr("accountId")
	require.True(t, ok)
	assert.Equal(t, "acct-1", accountID)
}

func TestDeliverLocalDropsUnknownSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-2", "inproc://bootstrap-test-2")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	rp := &codec.RoutePacket{
		Header:  codec.Header{MsgID: "Echo", IsBackend: true},
		Sid:     999,
		Payload: pool.FromMemory([]byte("hi")),
	}
	srv.deliverLocal(rp) // must not panic; payload is still disposed
}

func TestMeshSendToSelfShortCircuitsThroughLocalRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-3", "inproc://bootstrap-test-3")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	conn := &fakeConn{}
	sess := transport.NewSession(3, conn, srv.pool, discardLogger(), transport.Config{SendQueueCap: 8}, nil, nil)
	srv.registerSession(sess)
	go sess.Run()

	// Sender.SendToClient addresses the server that owns the session,
	// which here is this same process's own ServerID, so it must be
	// delivered via New's RegisterLocal("play-3", srv.deliverLocal)
	// rather than dialing out over ZMQ.
	require.NoError(t, srv.snd.SendToClient("play-3", 3, "acct-9", "Push", pool.FromMemory([]byte("x"))))

	assert.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
}

func TestOnMeshPacketRoutesBackendPacketsToDeliverLocalNotDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-4", "inproc://bootstrap-test-4")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	conn := &fakeConn{}
	sess := transport.NewSession(5, conn, srv.pool, discardLogger(), transport.Config{SendQueueCap: 8}, nil, nil)
	srv.registerSession(sess)
	go sess.Run()

	rp := &codec.RoutePacket{
		Header:  codec.Header{MsgID: "Push", IsBackend: true},
		Sid:     5,
		Payload: pool.FromMemory([]byte("x")),
	}
	srv.onMeshPacket(rp)

	assert.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	// StageCount on the play dispatcher must stay zero: an isBackend
	// packet never reaches play.Dispatcher.Handle.
	assert.Equal(t, 0, srv.playDisp.StageCount())
}

func TestOnClientPacketStampsLearnedAccountIDAndSuppressedWhilePaused(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-5", "inproc://bootstrap-test-5")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	var captured []*codec.RoutePacket
	var mu sync.Mutex
	srv.roleDisp = fakeDispatcher(func(rp *codec.RoutePacket) {
		mu.Lock()
		captured = append(captured, rp)
		mu.Unlock()
		rp.Payload.Dispose()
	})

	conn := &fakeConn{}
	sess := transport.NewSession(11, conn, srv.pool, discardLogger(), transport.Config{SendQueueCap: 8}, nil, nil)
	sess.SetAttr("accountId", "acct-5")

	srv.paused.Store(true)
	srv.onClientPacket(sess, codec.Header{MsgID: "RoomMove"}, pool.FromMemory([]byte("x")))
	// Paused: dropped before reaching any dispatcher, but the session
	// is still registered so a later backend delivery can still find it.
	_, ok := srv.session(11)
	assert.True(t, ok)
	mu.Lock()
	assert.Empty(t, captured)
	mu.Unlock()

	srv.paused.Store(false)
	srv.onClientPacket(sess, codec.Header{MsgID: "RoomMove"}, pool.FromMemory([]byte("x")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 1)
	assert.Equal(t, "acct-5", captured[0].AccountID)
}

func TestOnClientDisconnectCarriesLearnedStageIDOnDisconnectNotice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-6", "inproc://bootstrap-test-6")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	var captured *codec.RoutePacket
	var mu sync.Mutex
	srv.roleDisp = fakeDispatcher(func(rp *codec.RoutePacket) {
		mu.Lock()
		captured = rp
		mu.Unlock()
	})

	conn := &fakeConn{}
	sess := transport.NewSession(13, conn, srv.pool, discardLogger(), transport.Config{SendQueueCap: 8}, nil, nil)
	sess.SetAttr("accountId", "acct-13")
	sess.SetAttr("stageId", int64(42))
	srv.registerSession(sess)

	srv.onClientDisconnect(sess)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, captured)
	assert.Equal(t, play.MsgDisconnectNoticeMsg, captured.MsgID)
	assert.Equal(t, int64(42), captured.StageID)
	assert.Equal(t, "acct-13", captured.AccountID)

	_, stillRegistered := srv.session(13)
	assert.False(t, stillRegistered)
}

func TestOnShutdownDrainsApiDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("api-1", "inproc://bootstrap-test-7")
	cfg.Role = config.RoleApi
	srv, err := New(ctx, cfg, discardLogger(), nil, ApiHandlers{})
	require.NoError(t, err)

	require.NotNil(t, srv.apiDisp)
	srv.OnShutdown() // must not block or panic with no in-flight handlers
}

func TestOnPauseOnResumeToggleState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig("play-7", "inproc://bootstrap-test-8")
	srv, err := New(ctx, cfg, discardLogger(), StageFactories{"default": noopStageFactory}, nil)
	require.NoError(t, err)

	assert.False(t, srv.paused.Load())
	srv.OnPause()
	assert.True(t, srv.paused.Load())
	srv.OnResume()
	assert.False(t, srv.paused.Load())
}

func TestSharedSidGeneratorNeverRepeatsAcrossTransports(t *testing.T) {
	sids := transport.NewSidGenerator()
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		sid := sids.Next()
		require.False(t, seen[sid], "sid %d reused", sid)
		seen[sid] = true
	}
}

// fakeDispatcher adapts a plain func to the Dispatcher interface, for
// tests that need to observe what onClientDisconnect/onClientPacket
// hand to the role dispatcher without spinning up a real stage.
type fakeDispatcher func(rp *codec.RoutePacket)

func (f fakeDispatcher) Handle(rp *codec.RoutePacket) { f(rp) }
