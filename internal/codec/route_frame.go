package codec

import (
	"encoding/binary"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

// flag bits packed into the single RouteHeader flags byte.
const (
	flagIsBase = 1 << iota
	flagIsReply
	flagIsSystem
	flagIsBackend
)

// RoutePacket is the inter-server packet (§3: "Route packet"):
// Header plus Payload plus the from/to server-ids and optional session
// metadata. A route packet owns its payload — Dispose disposes both.
type RoutePacket struct {
	Header
	To         string // destination server-id (not serialized; only used for local dispatch)
	SessionNid string
	Sid        int64
	AccountID  string
	StageType  string // stage factory key; only meaningful on create/create-join requests
	Payload    pool.Payload
}

// Dispose releases the packet's payload.
func (p *RoutePacket) Dispose() {
	p.Payload.Dispose()
}

// RouteHeaderSize returns the number of bytes EncodeRouteHeaderInto
// writes for p, so a caller renting an output buffer (mesh.Socket.Send
// does this) can size it exactly.
func RouteHeaderSize(p *RoutePacket) int {
	return 1 + // flags
		1 + len(p.MsgID) +
		2 + // msgSeq
		8 + // stageId
		2 + // errorCode
		2 + len(p.SessionNid) +
		8 + // sid
		2 + len(p.AccountID) +
		2 + len(p.StageType)
}

// EncodeRouteHeader serializes the header fields that travel inside
// frame 3 of the ZMQ multipart message (§4.2). From is carried
// separately as frame 2 and is NOT duplicated here.
func EncodeRouteHeader(p *RoutePacket) ([]byte, error) {
	buf := make([]byte, RouteHeaderSize(p))
	n, err := EncodeRouteHeaderInto(buf, p)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EncodeRouteHeaderInto encodes directly into buf, which must be at
// least RouteHeaderSize(p) bytes (typically rented from a pool.Pool).
// Returns the number of bytes written.
func EncodeRouteHeaderInto(buf []byte, p *RoutePacket) (int, error) {
	if err := validateMsgID(p.MsgID); err != nil {
		return 0, err
	}

	off := 0

	var flags byte
	if p.IsBase {
		flags |= flagIsBase
	}
	if p.IsReply {
		flags |= flagIsReply
	}
	if p.IsSystem {
		flags |= flagIsSystem
	}
	if p.IsBackend {
		flags |= flagIsBackend
	}
	buf[off] = flags
	off++

	buf[off] = byte(len(p.MsgID))
	off++
	off += copy(buf[off:], p.MsgID)

	binary.LittleEndian.PutUint16(buf[off:], p.MsgSeq)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.StageID))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], p.ErrorCode)
	off += 2

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.SessionNid)))
	off += 2
	off += copy(buf[off:], p.SessionNid)

	binary.LittleEndian.PutUint64(buf[off:], uint64(p.Sid))
	off += 8

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.AccountID)))
	off += 2
	off += copy(buf[off:], p.AccountID)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.StageType)))
	off += 2
	off += copy(buf[off:], p.StageType)

	return off, nil
}

// DecodeRouteHeader parses frame 3 of the multipart message back into
// a RoutePacket's header fields (Payload/From/To are filled in by the
// mesh socket from the other frames).
func DecodeRouteHeader(data []byte) (RoutePacket, error) {
	if len(data) < 1 {
		return RoutePacket{}, protoErrf("route header too short")
	}
	off := 0
	flags := data[off]
	off++

	if off >= len(data) {
		return RoutePacket{}, protoErrf("route header truncated at msgIdLen")
	}
	msgIDLen := int(data[off])
	off++
	if msgIDLen < 1 || msgIDLen > MaxMsgIDLen || off+msgIDLen > len(data) {
		return RoutePacket{}, protoErrf("invalid msgIdLen %d in route header", msgIDLen)
	}
	msgID := string(data[off : off+msgIDLen])
	off += msgIDLen

	if off+16 > len(data) {
		return RoutePacket{}, protoErrf("route header truncated before fixed fields")
	}
	msgSeq := binary.LittleEndian.Uint16(data[off:])
	off += 2
	stageID := int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	errorCode := binary.LittleEndian.Uint16(data[off:])
	off += 2

	if off+2 > len(data) {
		return RoutePacket{}, protoErrf("route header truncated before sessionNid")
	}
	snLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+snLen > len(data) {
		return RoutePacket{}, protoErrf("sessionNid length %d exceeds remaining data", snLen)
	}
	sessionNid := string(data[off : off+snLen])
	off += snLen

	if off+8 > len(data) {
		return RoutePacket{}, protoErrf("route header truncated before sid")
	}
	sid := int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8

	if off+2 > len(data) {
		return RoutePacket{}, protoErrf("route header truncated before accountId")
	}
	acLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+acLen > len(data) {
		return RoutePacket{}, protoErrf("accountId length %d exceeds remaining data", acLen)
	}
	accountID := string(data[off : off+acLen])
	off += acLen

	if off+2 > len(data) {
		return RoutePacket{}, protoErrf("route header truncated before stageType")
	}
	stLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+stLen > len(data) {
		return RoutePacket{}, protoErrf("stageType length %d exceeds remaining data", stLen)
	}
	stageType := string(data[off : off+stLen])
	off += stLen

	return RoutePacket{
		Header: Header{
			MsgID:     msgID,
			MsgSeq:    msgSeq,
			StageID:   stageID,
			ErrorCode: errorCode,
			IsBase:    flags&flagIsBase != 0,
			IsReply:   flags&flagIsReply != 0,
			IsSystem:  flags&flagIsSystem != 0,
			IsBackend: flags&flagIsBackend != 0,
		},
		SessionNid: sessionNid,
		Sid:        sid,
		AccountID:  accountID,
		StageType:  stageType,
	}, nil
}
