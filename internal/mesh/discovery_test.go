package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/serverinfo"
)

func TestEncodeSelfDecodeSelfRoundTrip(t *testing.T) {
	info := serverinfo.Info{
		ServerID:     "play-9",
		BindEndpoint: "tcp://10.0.0.1:17009",
		Role:         serverinfo.RolePlay,
		ServiceID:    3,
		Region:       "us-east",
	}

	decoded, ok := DecodeSelf(encodeSelf(info))
	require.True(t, ok)
	assert.Equal(t, info.ServerID, decoded.ServerID)
	assert.Equal(t, info.BindEndpoint, decoded.BindEndpoint)
	assert.Equal(t, info.Role, decoded.Role)
	assert.Equal(t, info.ServiceID, decoded.ServiceID)
	assert.Equal(t, info.Region, decoded.Region)
}

func TestDecodeSelfRejectsMalformedBody(t *testing.T) {
	_, ok := DecodeSelf([]byte("not-enough-fields"))
	assert.False(t, ok)
}

func TestHandleHeartbeatRegistersSenderAsRunning(t *testing.T) {
	servers := serverinfo.New()
	body := encodeSelf(serverinfo.Info{
		ServerID:     "play-10",
		BindEndpoint: "tcp://10.0.0.2:17010",
		Role:         serverinfo.RolePlay,
		ServiceID:    1,
	})

	rp := &codec.RoutePacket{
		Header:  codec.Header{MsgID: HeartbeatMsgID, IsSystem: true, IsBase: true},
		Payload: pool.FromMemory(body),
	}
	HandleHeartbeat(servers, rp)

	info, ok := servers.FindByID("play-10")
	require.True(t, ok)
	assert.Equal(t, serverinfo.StateRunning, info.State)
	assert.False(t, info.LastHeartbeat.IsZero())
}

func TestHandleHeartbeatIgnoresMalformedPayload(t *testing.T) {
	servers := serverinfo.New()
	rp := &codec.RoutePacket{
		Header:  codec.Header{MsgID: HeartbeatMsgID, IsSystem: true, IsBase: true},
		Payload: pool.FromMemory([]byte("garbage")),
	}
	HandleHeartbeat(servers, rp)

	_, ok := servers.FindByID("play-10")
	assert.False(t, ok)
}
