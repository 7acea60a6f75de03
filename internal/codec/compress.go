package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressBody LZ4-compresses src when it exceeds threshold, returning
// the compressed bytes and the original (pre-compression) length. When
// src is at or below threshold, it returns src unchanged and
// originalSize 0 (meaning "uncompressed"), per §4.2.
func compressBody(src []byte, threshold int) (out []byte, originalSize int, err error) {
	if len(src) <= threshold {
		return src, 0, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, 0, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		// Incompressible: fall back to sending the raw body.
		return src, 0, nil
	}
	return dst[:n], len(src), nil
}

// decompressBody reverses compressBody. originalSize == 0 means body
// is already the raw payload.
func decompressBody(body []byte, originalSize int) ([]byte, error) {
	if originalSize == 0 {
		return body, nil
	}
	if originalSize > MaxPacketLen {
		return nil, protoErrf("originalSize %d exceeds max %d", originalSize, MaxPacketLen)
	}

	dst := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != originalSize {
		return nil, protoErrf("decompressed length %d does not match originalSize %d", n, originalSize)
	}
	return dst, nil
}
