package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

func encodedFrame(t *testing.T, msgID string, body []byte) []byte {
	t.Helper()
	frame, err := codec.EncodeClientFrame(codec.Header{MsgID: msgID, MsgSeq: 1}, body, codec.DefaultCompressionThreshold)
	require.NoError(t, err)
	return frame
}

func TestFrameParserSingleFrame(t *testing.T) {
	p := newFrameParser(codec.MaxPacketLen, codec.MaxMsgIDLen, pool.New())
	frame := encodedFrame(t, "echo.req", []byte("hello"))

	frames, err := p.feed(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "echo.req", frames[0].header.MsgID)
	assert.Equal(t, []byte("hello"), frames[0].body.Span())
}

func TestFrameParserSplitAcrossChunks(t *testing.T) {
	p := newFrameParser(codec.MaxPacketLen, codec.MaxMsgIDLen, pool.New())
	frame := encodedFrame(t, "echo.req", []byte("hello world"))

	mid := len(frame) / 2
	frames, err := p.feed(frame[:mid])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = p.feed(frame[mid:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("hello world"), frames[0].body.Span())
}

func TestFrameParserConcatenatedFrames(t *testing.T) {
	p := newFrameParser(codec.MaxPacketLen, codec.MaxMsgIDLen, pool.New())
	f1 := encodedFrame(t, "one", []byte("a"))
	f2 := encodedFrame(t, "two", []byte("b"))

	combined := append(append([]byte{}, f1...), f2...)
	frames, err := p.feed(combined)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "one", frames[0].header.MsgID)
	assert.Equal(t, "two", frames[1].header.MsgID)
}

func TestFrameParserRejectsOversizedLength(t *testing.T) {
	p := newFrameParser(1024, codec.MaxMsgIDLen, pool.New())

	body := make([]byte, 5000)
	x := uint32(1)
	for i := range body {
		x = x*1664525 + 1013904223
		body[i] = byte(x >> 24) // incompressible, so the encoded frame stays large
	}
	frame := encodedFrame(t, "echo.req", body)

	_, err := p.feed(frame)
	require.Error(t, err)
	var protoErr *codec.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}
