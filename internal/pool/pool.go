package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/internal/metrics"
)

// Pool is the process-wide bucketed byte-array pool. A single instance
// is created by bootstrap and shared by every component that needs a
// scratch buffer (codec, transport, mesh).
type Pool struct {
	sizes   []int
	buckets []*bucket

	idleOnce   sync.Once
	idleStop   chan struct{}
	idleTicker *time.Ticker
}

// Option configures New.
type Option func(*poolOptions)

type poolOptions struct {
	maxPerBucket int
}

// WithMaxPerBucket overrides the default bound on each bucket's global
// stack (default 256).
func WithMaxPerBucket(n int) Option {
	return func(o *poolOptions) { o.maxPerBucket = n }
}

// New builds a pool with the standard 42 size classes from 128 bytes
// to 1 MiB.
func New(opts ...Option) *Pool {
	o := poolOptions{maxPerBucket: 256}
	for _, opt := range opts {
		opt(&o)
	}

	sizes := sizeClasses()
	buckets := make([]*bucket, len(sizes))
	for i, s := range sizes {
		buckets[i] = newBucket(s, o.maxPerBucket)
	}

	return &Pool{sizes: sizes, buckets: buckets}
}

// bucketIndex returns the index of the smallest bucket that fits n, or
// -1 if n exceeds the largest bucket.
func (p *Pool) bucketIndex(n int) int {
	i := sort.SearchInts(p.sizes, n)
	if i >= len(p.sizes) {
		return -1
	}
	return i
}

// Rent returns a buffer of length n from the smallest fitting bucket.
// Requests larger than the largest bucket bypass the pool entirely.
func (p *Pool) Rent(n int) []byte {
	if n < 0 {
		n = 0
	}
	idx := p.bucketIndex(n)
	if idx < 0 {
		metrics.PoolOversizedRents.Inc()
		return make([]byte, n)
	}

	b := p.buckets[idx]
	metrics.PoolRents.WithLabelValues(b.label()).Inc()

	buf := b.get()
	if buf == nil {
		buf = make([]byte, b.size)
	}
	return buf[:n]
}

// Return accepts a buffer whose capacity matches a bucket size class
// exactly. Buffers of any other capacity (oversized rents, or slices
// the caller reshaped) are simply not returned to the pool.
func (p *Pool) Return(buf []byte) {
	if buf == nil {
		return
	}
	c := cap(buf)
	idx := sort.SearchInts(p.sizes, c)
	if idx >= len(p.sizes) || p.sizes[idx] != c {
		return
	}
	b := p.buckets[idx]
	metrics.PoolReturns.WithLabelValues(b.label()).Inc()
	b.put(buf[:c])
}

// WarmUp pre-allocates counts per bucket size. Keys not present in
// counts are left untouched.
func (p *Pool) WarmUp(counts map[int]int) {
	for size, n := range counts {
		idx := sort.SearchInts(p.sizes, size)
		if idx >= len(p.sizes) || p.sizes[idx] != size {
			continue
		}
		p.buckets[idx].warmUp(n)
	}
}

// StartIdleTrimmer launches the background goroutine that shrinks
// buckets back toward their warm-up count once idle for idleWindow.
// Safe to call once; subsequent calls are no-ops.
func (p *Pool) StartIdleTrimmer(warmUpCounts map[int]int, idleWindow time.Duration) {
	if idleWindow <= 0 {
		return
	}
	p.idleOnce.Do(func() {
		p.idleStop = make(chan struct{})
		p.idleTicker = time.NewTicker(idleWindow / 2)
		go func() {
			defer p.idleTicker.Stop()
			for {
				select {
				case <-p.idleStop:
					return
				case <-p.idleTicker.C:
					for i, b := range p.buckets {
						warm := warmUpCounts[p.sizes[i]]
						b.trimToward(warm, idleWindow)
					}
				}
			}
		}()
	})
}

// Stop halts the idle trimmer, if running.
func (p *Pool) Stop() {
	if p.idleStop != nil {
		select {
		case <-p.idleStop:
		default:
			close(p.idleStop)
		}
	}
}
