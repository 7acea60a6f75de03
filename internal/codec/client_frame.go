package codec

import (
	"encoding/binary"

	"github.com/ulala-x/playhouse-go/internal/pool"
)

// EncodeClientFrame writes the length-prefixed client wire frame
// described in §4.2:
//
//	len(4,LE) | msgIdLen(1) | msgId | msgSeq(2) | stageId(8) | errorCode(2) | originalSize(4) | body
//
// body is LZ4-compressed when it exceeds threshold. The returned slice
// is a freshly sized buffer — callers that want pooled output should
// use EncodeClientFramePooled, or rent a buffer themselves and call
// EncodeClientFrameInto.
func EncodeClientFrame(h Header, body []byte, threshold int) ([]byte, error) {
	if err := validateMsgID(h.MsgID); err != nil {
		return nil, err
	}

	compressed, originalSize, err := compressBody(body, threshold)
	if err != nil {
		return nil, err
	}

	headerTotal := 1 + len(h.MsgID) + fixedFieldsSize
	total := headerTotal + len(compressed)
	if total > MaxPacketLen {
		return nil, protoErrf("encoded frame length %d exceeds max %d", total, MaxPacketLen)
	}

	out := make([]byte, lenPrefixSize+total)
	n := EncodeClientFrameInto(out, h, compressed, originalSize)
	return out[:n], nil
}

// EncodeClientFrameInto encodes directly into buf (which must be at
// least lenPrefixSize+headerTotal+len(compressedBody) bytes, typically
// a buffer rented from pool.Pool). Returns the number of bytes
// written. compressedBody and originalSize must already reflect the
// compression decision (see compressBody) — this split lets transport
// sessions rent an output buffer sized to the final frame before
// encoding into it.
func EncodeClientFrameInto(buf []byte, h Header, compressedBody []byte, originalSize int) int {
	headerTotal := 1 + len(h.MsgID) + fixedFieldsSize
	total := headerTotal + len(compressedBody)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	off := lenPrefixSize

	buf[off] = byte(len(h.MsgID))
	off++
	off += copy(buf[off:], h.MsgID)

	binary.LittleEndian.PutUint16(buf[off:], h.MsgSeq)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.StageID))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], h.ErrorCode)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(originalSize))
	off += 4

	off += copy(buf[off:], compressedBody)
	return off
}

// EncodeClientFramePooled is EncodeClientFrame's pool-backed variant:
// it rents the output buffer from p instead of allocating it, sized
// exactly to the encoded frame, and encodes directly into it. The
// returned buf is owned by the caller, which must eventually return it
// to p (transport.Session.SendPooled does this once the frame has been
// written to the wire).
func EncodeClientFramePooled(p *pool.Pool, h Header, body []byte, threshold int) (buf []byte, n int, err error) {
	if err := validateMsgID(h.MsgID); err != nil {
		return nil, 0, err
	}

	compressed, originalSize, err := compressBody(body, threshold)
	if err != nil {
		return nil, 0, err
	}

	headerTotal := 1 + len(h.MsgID) + fixedFieldsSize
	total := headerTotal + len(compressed)
	if total > MaxPacketLen {
		return nil, 0, protoErrf("encoded frame length %d exceeds max %d", total, MaxPacketLen)
	}

	buf = p.Rent(lenPrefixSize + total)
	n = EncodeClientFrameInto(buf, h, compressed, originalSize)
	return buf, n, nil
}

// ClientFrameSize computes the total wire size (including the 4-byte
// length prefix) a frame for h and a body of compressedLen bytes would
// occupy — used by callers that need to rent an exactly-sized output
// buffer before calling EncodeClientFrameInto.
func ClientFrameSize(msgIDLen, compressedLen int) int {
	return lenPrefixSize + 1 + msgIDLen + fixedFieldsSize + compressedLen
}

// PlanCompression is compressBody exposed to callers (transport) that
// need to size a buffer before encoding.
func PlanCompression(body []byte, threshold int) (compressed []byte, originalSize int, err error) {
	return compressBody(body, threshold)
}

// DecodeClientFrame parses one already-length-delimited frame (the
// bytes following the 4-byte length prefix, i.e. exactly `totalLen`
// bytes as read off the wire) into a Header and a decompressed
// payload. maxMsgIDLen and maxPacketLen allow callers to apply
// configured bounds tighter than the hard ceiling.
func DecodeClientFrame(frame []byte, maxPacketLen, maxMsgIDLen int) (Header, []byte, error) {
	if len(frame) < 1 || len(frame) > maxPacketLen {
		return Header{}, nil, protoErrf("frame length %d out of range [1,%d]", len(frame), maxPacketLen)
	}

	if len(frame) < 1 {
		return Header{}, nil, protoErrf("frame too short for msgIdLen")
	}
	msgIDLen := int(frame[0])
	if msgIDLen < 1 || msgIDLen > maxMsgIDLen {
		return Header{}, nil, protoErrf("msgIdLen %d out of range [1,%d]", msgIDLen, maxMsgIDLen)
	}

	headerTotal := 1 + msgIDLen + fixedFieldsSize
	if headerTotal > len(frame) {
		return Header{}, nil, protoErrf("headerTotal %d exceeds frame length %d", headerTotal, len(frame))
	}

	off := 1
	msgID := string(frame[off : off+msgIDLen])
	off += msgIDLen

	msgSeq := binary.LittleEndian.Uint16(frame[off:])
	off += 2
	stageID := int64(binary.LittleEndian.Uint64(frame[off:]))
	off += 8
	errorCode := binary.LittleEndian.Uint16(frame[off:])
	off += 2
	originalSize := int(binary.LittleEndian.Uint32(frame[off:]))
	off += 4

	if originalSize > maxPacketLen {
		return Header{}, nil, protoErrf("originalSize %d exceeds max %d", originalSize, maxPacketLen)
	}

	payloadSize := len(frame) - headerTotal
	if payloadSize < 0 {
		return Header{}, nil, protoErrf("negative payloadSize")
	}
	body := frame[off : off+payloadSize]

	decoded, err := decompressBody(body, originalSize)
	if err != nil {
		return Header{}, nil, err
	}

	h := Header{
		MsgID:     msgID,
		MsgSeq:    msgSeq,
		StageID:   stageID,
		ErrorCode: errorCode,
	}
	return h, decoded, nil
}

// DecodeClientFrameInto is DecodeClientFrame's pool-backed variant: the
// decoded body is copied into a buffer rented from p rather than left
// referencing the caller's (often reused) read buffer, so the returned
// Payload can be handed across goroutines and disposed independently.
func DecodeClientFrameInto(p *pool.Pool, frame []byte, maxPacketLen, maxMsgIDLen int) (Header, pool.Payload, error) {
	h, body, err := DecodeClientFrame(frame, maxPacketLen, maxMsgIDLen)
	if err != nil {
		return Header{}, pool.Payload{}, err
	}

	buf := p.Rent(len(body))
	n := copy(buf, body)
	return h, pool.FromPooled(p, buf, n), nil
}
