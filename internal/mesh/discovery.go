package mesh

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/pool"
	"github.com/ulala-x/playhouse-go/internal/serverinfo"
)

// HeartbeatMsgID is the base control-plane message carrying presence
// records between peers, encoded with the same codec family as client
// frames per §4.5. Bootstrap's top-level route handler must check for
// this msgId before handing a packet to the role dispatcher.
const HeartbeatMsgID = "mesh.heartbeat"

// PresenceSource supplies the local snapshot to publish on each
// heartbeat tick, and the peer list to keep dialed.
type PresenceSource interface {
	Self() serverinfo.Info
	Peers() []serverinfo.Info
}

// RunDiscovery periodically publishes this server's presence to every
// known peer and dials any peer discovered since the last refresh. It
// blocks until ctx is canceled.
func RunDiscovery(ctx context.Context, s *Socket, src PresenceSource, heartbeatInterval time.Duration) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publishHeartbeat(s, src)
		}
	}
}

func publishHeartbeat(s *Socket, src PresenceSource) {
	self := src.Self()

	for _, peer := range src.Peers() {
		if peer.ServerID == self.ServerID {
			continue
		}

		if err := s.Connect(peer.ServerID, peer.BindEndpoint); err != nil {
			s.log.Warn("discovery: dial failed", "peer", peer.ServerID, "error", err)
			continue
		}

		rp := &codec.RoutePacket{
			Header: codec.Header{
				MsgID:    HeartbeatMsgID,
				IsSystem: true,
				IsBase:   true,
			},
			Payload: pool.FromMemory(encodeSelf(self)),
		}
		if err := s.Send(peer.ServerID, rp); err != nil {
			s.log.Warn("discovery: heartbeat send failed", "peer", peer.ServerID, "error", err)
		}
	}
}

// encodeSelf serializes the minimal presence record: serverId,
// bindEndpoint, role, serviceId, region, joined with a unit separator.
// This is intentionally simple since presence records are small and
// infrequent; the full ServerInfo directory lives in serverinfo.Table
// on each receiving end.
func encodeSelf(info serverinfo.Info) []byte {
	const sep = "\x1f"
	return []byte(
		info.ServerID + sep +
			info.BindEndpoint + sep +
			string(info.Role) + sep +
			strconv.Itoa(int(info.ServiceID)) + sep +
			info.Region,
	)
}

// DecodeSelf is encodeSelf's inverse, used by the receiving end of a
// heartbeat to reconstruct the sender's presence record.
func DecodeSelf(body []byte) (serverinfo.Info, bool) {
	parts := bytes.SplitN(body, []byte("\x1f"), 5)
	if len(parts) != 5 {
		return serverinfo.Info{}, false
	}
	serviceID, err := strconv.Atoi(string(parts[3]))
	if err != nil {
		return serverinfo.Info{}, false
	}
	return serverinfo.Info{
		ServerID:     string(parts[0]),
		BindEndpoint: string(parts[1]),
		Role:         serverinfo.Role(parts[2]),
		ServiceID:    uint16(serviceID),
		Region:       string(parts[4]),
	}, true
}

// HandleHeartbeat decodes rp's presence payload and refreshes servers
// with it, marking the sender running as of now. Intended to be
// called by bootstrap's top-level route handler whenever rp.MsgID ==
// HeartbeatMsgID, before any role-dispatcher routing.
func HandleHeartbeat(servers *serverinfo.Table, rp *codec.RoutePacket) {
	defer rp.Payload.Dispose()

	info, ok := DecodeSelf(rp.Payload.Span())
	if !ok {
		return
	}
	info.State = serverinfo.StateRunning
	info.LastHeartbeat = time.Now()
	servers.Register(info)
}
