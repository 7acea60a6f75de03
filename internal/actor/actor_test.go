package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

type recordingHooks struct {
	created           bool
	authenticateOK    bool
	assignAccountID   string
	postAuthenticated bool
	destroyed         bool
	destroyCount      int
}

func (h *recordingHooks) OnCreate() { h.created = true }

func (h *recordingHooks) OnAuthenticate(payload pool.Payload) (bool, pool.Payload) {
	return h.authenticateOK, pool.FromMemory([]byte("reply"))
}

func (h *recordingHooks) OnPostAuthenticate() { h.postAuthenticated = true }

func (h *recordingHooks) OnDestroy() {
	h.destroyed = true
	h.destroyCount++
}

func TestActorLifecycleHappyPath(t *testing.T) {
	hooks := &recordingHooks{authenticateOK: true}
	a := New("session-1", 10, hooks)

	a.Create()
	assert.True(t, hooks.created)
	assert.Equal(t, StateCreated, a.State())

	a.AccountID = "acct-1" // implementer assigns before returning ok=true
	_, err := a.Authenticate(pool.Empty())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, a.State())
	assert.True(t, hooks.postAuthenticated)

	require.NoError(t, a.Join(42))
	assert.Equal(t, StateJoined, a.State())
	assert.Equal(t, int64(42), a.StageID)

	a.Destroy()
	assert.Equal(t, StateDestroyed, a.State())
	assert.True(t, hooks.destroyed)
}

func TestAuthenticateFailsIfAccountIDNotAssigned(t *testing.T) {
	hooks := &recordingHooks{authenticateOK: true}
	a := New("session-1", 10, hooks)
	a.Create()

	_, err := a.Authenticate(pool.Empty())
	require.Error(t, err)
	assert.NotEqual(t, StateAuthenticated, a.State())
}

func TestAuthenticateRejectedReturnsReplyWithoutStateChange(t *testing.T) {
	hooks := &recordingHooks{authenticateOK: false}
	a := New("session-1", 10, hooks)
	a.Create()

	reply, err := a.Authenticate(pool.Empty())
	require.NoError(t, err)
	assert.Equal(t, StateCreated, a.State())
	assert.False(t, reply.IsEmpty())
}

func TestJoinRequiresAuthenticatedState(t *testing.T) {
	hooks := &recordingHooks{}
	a := New("session-1", 10, hooks)
	err := a.Join(1)
	require.Error(t, err)
}

func TestReconnectRestoresJoinedStateWithNewSession(t *testing.T) {
	hooks := &recordingHooks{authenticateOK: true}
	a := New("session-1", 10, hooks)
	a.Create()
	a.AccountID = "acct-1"
	_, err := a.Authenticate(pool.Empty())
	require.NoError(t, err)
	require.NoError(t, a.Join(1))

	a.MarkDisconnected()
	assert.Equal(t, StateDisconnected, a.State())

	require.NoError(t, a.Reconnect("session-2", 20))
	assert.Equal(t, StateJoined, a.State())
	assert.Equal(t, "session-2", a.SessionNid)
	assert.Equal(t, int64(20), a.Sid)
}

func TestDestroyIsIdempotent(t *testing.T) {
	hooks := &recordingHooks{}
	a := New("session-1", 10, hooks)
	a.Destroy()
	a.Destroy()
	assert.Equal(t, 1, hooks.destroyCount)
}
