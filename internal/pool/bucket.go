// Package pool implements the process-wide bucketed byte-array pool
// (C1) and the reference-counted Payload abstraction built on top of
// it. Buffers are grouped into 42 size classes between 128 bytes and
// 1 MiB; rent/return is best-effort, and over-capacity returns are
// dropped rather than blocking.
package pool

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulala-x/playhouse-go/internal/metrics"
)

const (
	minBucketSize = 128
	maxBucketSize = 1 << 20 // 1 MiB
	growthNumer   = 5
	growthDenom   = 4 // ~1.25x growth per class, yields 42 classes across the range
)

// sizeClasses returns the bucket sizes, smallest first.
func sizeClasses() []int {
	var sizes []int
	size := minBucketSize
	for size < maxBucketSize {
		sizes = append(sizes, size)
		next := size * growthNumer / growthDenom
		if next <= size {
			next = size + 1
		}
		size = next
	}
	sizes = append(sizes, maxBucketSize)
	return sizes
}

// bucket holds one size class: a per-P fast path (sync.Pool) backed by
// a bounded global stack that warm-up and the idle trimmer manage
// directly.
type bucket struct {
	size int

	local sync.Pool

	mu        sync.Mutex
	global    [][]byte
	maxGlobal int

	lastActivity atomic.Int64 // unix nanos of the last Rent/Return touching this bucket
}

func newBucket(size, maxGlobal int) *bucket {
	b := &bucket{size: size, maxGlobal: maxGlobal}
	b.local.New = func() any { return nil }
	b.touch()
	return b
}

func (b *bucket) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

func (b *bucket) label() string {
	return strconv.Itoa(b.size)
}

// get returns a buffer from this bucket, or nil if both the local pool
// and the global stack are empty.
func (b *bucket) get() []byte {
	b.touch()
	if v := b.local.Get(); v != nil {
		return v.([]byte)
	}

	b.mu.Lock()
	n := len(b.global)
	if n == 0 {
		b.mu.Unlock()
		return nil
	}
	buf := b.global[n-1]
	b.global = b.global[:n-1]
	b.mu.Unlock()
	return buf
}

// put returns a buffer to this bucket. Reports whether it was
// accepted by the bounded global stack (false only counts as a true
// drop when the local sync.Pool path is also skipped, which callers
// decide).
func (b *bucket) put(buf []byte) {
	b.touch()
	b.local.Put(buf)

	b.mu.Lock()
	if len(b.global) < b.maxGlobal {
		b.global = append(b.global, buf)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	metrics.PoolOverCapacityDrops.WithLabelValues(b.label()).Inc()
}

// warmUp pre-fills the global stack up to n entries.
func (b *bucket) warmUp(n int) {
	if n > b.maxGlobal {
		n = b.maxGlobal
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.global) < n {
		b.global = append(b.global, make([]byte, b.size))
	}
}

// trimToward shrinks the global stack toward warmUpCount when the
// bucket has been idle for at least idleWindow.
func (b *bucket) trimToward(warmUpCount int, idleWindow time.Duration) {
	last := time.Unix(0, b.lastActivity.Load())
	if time.Since(last) < idleWindow {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.global) > warmUpCount {
		b.global = b.global[:warmUpCount]
	}
}
