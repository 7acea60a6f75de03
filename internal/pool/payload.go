package pool

// Payload is a reference-counted byte view with three variants: pooled
// (rented from a Pool, released on Dispose), memory (a borrowed slice
// whose Dispose is a no-op), and empty. Exactly one disposer must run
// per pooled payload across its lifetime; passing a Payload through a
// channel or queue is a move, not a copy — callers that need to keep
// reading after handing it off must call Move first.
type Payload struct {
	pool *Pool
	buf  []byte // full backing buffer (only meaningful for the pooled variant)
	data []byte // the live view; nil/len==0 once disposed or moved-from
}

// Empty returns an empty payload. Dispose and Move on it are no-ops
// other than returning another empty payload.
func Empty() Payload {
	return Payload{}
}

// FromPooled wraps a buffer rented from pool, sized exactly to n
// logical bytes (the pool may have returned a larger backing array).
func FromPooled(p *Pool, buf []byte, n int) Payload {
	return Payload{pool: p, buf: buf, data: buf[:n]}
}

// FromMemory wraps a caller-owned slice. Dispose never returns it to
// any pool.
func FromMemory(b []byte) Payload {
	return Payload{data: b}
}

// Length returns the number of live bytes, 0 for an empty/disposed payload.
func (p *Payload) Length() int {
	return len(p.data)
}

// Span returns the live bytes. The caller must not retain the slice
// past the payload's Dispose/Move.
func (p *Payload) Span() []byte {
	return p.data
}

// Memory is an alias for Span kept for readers coming from the
// pooled-memory<->owned-memory terminology in the spec; both return
// the same live view.
func (p *Payload) Memory() []byte {
	return p.data
}

// IsEmpty reports whether the payload currently holds no bytes.
func (p *Payload) IsEmpty() bool {
	return len(p.data) == 0 && p.buf == nil
}

// Move transfers ownership to a new Payload value and empties the
// receiver. The returned value is the one responsible for eventually
// calling Dispose.
func (p *Payload) Move() Payload {
	moved := Payload{pool: p.pool, buf: p.buf, data: p.data}
	p.pool = nil
	p.buf = nil
	p.data = nil
	return moved
}

// Dispose releases the backing buffer, if pooled. Safe to call more
// than once; a second call on an already-disposed (or moved-from)
// payload is a no-op.
func (p *Payload) Dispose() {
	if p.pool != nil && p.buf != nil {
		p.pool.Return(p.buf)
	}
	p.pool = nil
	p.buf = nil
	p.data = nil
}
