// Package reqcache implements the request/reply correlation cache
// (C4): a msgSeq-keyed registry of in-flight requests, completed by
// reply arrival or timed out by a periodic sweep.
package reqcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/metrics"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

// Reply is what a waiter receives on completion, either from a peer's
// reply packet or from a sweep-driven timeout.
type Reply struct {
	Header    codec.Header
	Payload   pool.Payload
	ErrorCode uint16
	Err       error // non-nil only for local failures (timeout, cache closed)
}

// Callback is invoked exactly once per registered entry, either with a
// completed reply or a timeout/shutdown error.
type Callback func(Reply)

type entry struct {
	deadline time.Time
	callback Callback
}

// Cache correlates an outbound request's msgSeq to the callback that
// should run when the matching reply arrives, or when it times out.
type Cache struct {
	mu      sync.Mutex
	entries map[uint16]*entry
	nextSeq uint16 // monotonically increasing per-sender allocator, skips 0

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns an empty request cache ready for Register/TryComplete/Sweep.
func New() *Cache {
	return &Cache{
		entries: make(map[uint16]*entry),
		nextSeq: 0,
	}
}

// NextSeq allocates the next msgSeq for this sender, skipping 0 (the
// reserved one-way marker) and wrapping on overflow per §4.4.
func (c *Cache) NextSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	if c.nextSeq == 0 {
		c.nextSeq = 1
	}
	return c.nextSeq
}

// Register records a waiter for msgSeq with the given deadline. It
// returns an error if msgSeq is already in flight (a sequence
// collision, which the allocator is responsible for avoiding under
// normal operation — the bounded window of free slots per §4.4 means
// this should never legitimately happen).
func (c *Cache) Register(msgSeq uint16, deadline time.Time, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[msgSeq]; exists {
		return fmt.Errorf("reqcache: msgSeq %d already registered", msgSeq)
	}
	c.entries[msgSeq] = &entry{deadline: deadline, callback: cb}
	return nil
}

// TryComplete looks up the waiter for reply.Header.MsgSeq. If found, it
// is removed and signaled with the reply. If not found, the reply is a
// late arrival: it is dropped and counted, per the Open Question
// decision in the project's design notes.
func (c *Cache) TryComplete(h codec.Header, payload pool.Payload) {
	c.mu.Lock()
	e, ok := c.entries[h.MsgSeq]
	if ok {
		delete(c.entries, h.MsgSeq)
	}
	c.mu.Unlock()

	if !ok {
		metrics.LateRepliesDropped.Inc()
		payload.Dispose()
		return
	}

	e.callback(Reply{Header: h, Payload: payload, ErrorCode: h.ErrorCode})
}

// Sweep removes every entry whose deadline has passed as of now,
// signaling each with a timeout error. It is meant to be called
// periodically (see StartSweeper).
func (c *Cache) Sweep(now time.Time) {
	var expired []*entry

	c.mu.Lock()
	for seq, e := range c.entries {
		if !now.Before(e.deadline) {
			expired = append(expired, e)
			delete(c.entries, seq)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		metrics.RequestTimeouts.Inc()
		e.callback(Reply{Err: ErrTimeout})
	}
}

// StartSweeper runs Sweep on interval until ctx is canceled or Stop is
// called. It is meant to be launched as its own goroutine from
// bootstrap.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	c.stopCh = make(chan struct{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

// Stop signals StartSweeper to exit and fails every still-pending
// waiter, so that callers blocked on a request complete promptly
// during shutdown rather than waiting out their deadline.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		if c.stopCh != nil {
			close(c.stopCh)
		}
	})

	c.mu.Lock()
	pending := c.entries
	c.entries = make(map[uint16]*entry)
	c.mu.Unlock()

	for _, e := range pending {
		e.callback(Reply{Err: ErrClosed})
	}
}

// Len reports the number of in-flight requests, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
