package reqcache

import "errors"

// ErrTimeout is delivered to a waiter whose deadline passed before a
// reply arrived.
var ErrTimeout = errors.New("reqcache: request timed out")

// ErrClosed is delivered to every still-pending waiter when the cache
// is stopped, e.g. during sender shutdown.
var ErrClosed = errors.New("reqcache: cache closed")
