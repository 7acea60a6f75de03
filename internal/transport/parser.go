package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

// frameParser incrementally extracts complete length-prefixed client
// frames from a byte stream that may deliver partial frames, multiple
// concatenated frames, or both in a single chunk — true for a raw TCP
// stream and, per §4.3, for a WebSocket binary message that batches
// more than one PlayHouse frame.
type frameParser struct {
	buf          []byte
	maxPacketLen int
	maxMsgIDLen  int
	pool         *pool.Pool
}

func newFrameParser(maxPacketLen, maxMsgIDLen int, bufPool *pool.Pool) *frameParser {
	return &frameParser{maxPacketLen: maxPacketLen, maxMsgIDLen: maxMsgIDLen, pool: bufPool}
}

// feed appends chunk to the internal buffer and extracts every
// complete frame now available. It returns the decoded (header, body)
// pairs in arrival order. A malformed length prefix or a frame that
// violates a bound becomes a *codec.ProtocolError; the caller must
// close the connection on that error without exposing it further.
func (p *frameParser) feed(chunk []byte) ([]decodedFrame, error) {
	p.buf = append(p.buf, chunk...)

	var out []decodedFrame
	for {
		if len(p.buf) < 4 {
			return out, nil
		}
		total := int(binary.LittleEndian.Uint32(p.buf[0:4]))
		if total < 1 || total > p.maxPacketLen {
			return out, codecProtoErr("frame length %d out of range [1,%d]", total, p.maxPacketLen)
		}
		if len(p.buf) < 4+total {
			return out, nil // wait for more data
		}

		frameBody := p.buf[4 : 4+total]
		h, payload, err := codec.DecodeClientFrameInto(p.pool, frameBody, p.maxPacketLen, p.maxMsgIDLen)
		if err != nil {
			return out, err
		}
		out = append(out, decodedFrame{header: h, body: payload})

		p.buf = p.buf[4+total:]
	}
}

type decodedFrame struct {
	header codec.Header
	body   pool.Payload
}

func codecProtoErr(format string, args ...any) error {
	return &codec.ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
