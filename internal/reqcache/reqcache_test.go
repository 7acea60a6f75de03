package reqcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/internal/codec"
	"github.com/ulala-x/playhouse-go/internal/pool"
)

func TestNextSeqSkipsZeroAndWraps(t *testing.T) {
	c := New()
	first := c.NextSeq()
	assert.NotZero(t, first)

	c.mu.Lock()
	c.nextSeq = ^uint16(0) // max value, next increment wraps to 0
	c.mu.Unlock()

	wrapped := c.NextSeq()
	assert.Equal(t, uint16(1), wrapped)
}

func TestRegisterThenTryCompleteDeliversReply(t *testing.T) {
	c := New()
	seq := c.NextSeq()

	var got Reply
	done := make(chan struct{})
	err := c.Register(seq, time.Now().Add(time.Second), func(r Reply) {
		got = r
		close(done)
	})
	require.NoError(t, err)

	h := codec.Header{MsgID: "echo.reply", MsgSeq: seq, IsReply: true}
	c.TryComplete(h, pool.FromMemory([]byte("hi")))

	<-done
	assert.Nil(t, got.Err)
	assert.Equal(t, seq, got.Header.MsgSeq)
}

func TestRegisterDuplicateSeqFails(t *testing.T) {
	c := New()
	seq := c.NextSeq()
	require.NoError(t, c.Register(seq, time.Now().Add(time.Second), func(Reply) {}))

	err := c.Register(seq, time.Now().Add(time.Second), func(Reply) {})
	require.Error(t, err)
}

func TestTryCompleteWithNoWaiterDropsLateReply(t *testing.T) {
	c := New()
	h := codec.Header{MsgID: "late.reply", MsgSeq: 42}
	// Should not panic, and should dispose the payload it was handed:
	// its pooled buffer goes back to p, so the next Rent hands it out.
	p := pool.New()
	buf := p.Rent(4)
	copy(buf, "late")
	c.TryComplete(h, pool.FromPooled(p, buf, 4))
	again := p.Rent(4)
	assert.Same(t, &buf[0], &again[0])
}

func TestSweepTimesOutExpiredEntries(t *testing.T) {
	c := New()
	seq := c.NextSeq()

	var got Reply
	done := make(chan struct{})
	err := c.Register(seq, time.Now().Add(-time.Millisecond), func(r Reply) {
		got = r
		close(done)
	})
	require.NoError(t, err)

	c.Sweep(time.Now())
	<-done

	assert.ErrorIs(t, got.Err, ErrTimeout)
	assert.Equal(t, 0, c.Len())
}

func TestSweepLeavesUnexpiredEntriesInPlace(t *testing.T) {
	c := New()
	seq := c.NextSeq()
	require.NoError(t, c.Register(seq, time.Now().Add(time.Hour), func(Reply) {
		t.Fatal("should not be called")
	}))

	c.Sweep(time.Now())
	assert.Equal(t, 1, c.Len())
}

func TestStopFailsAllPendingWaiters(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for range 5 {
		seq := c.NextSeq()
		wg.Add(1)
		require.NoError(t, c.Register(seq, time.Now().Add(time.Hour), func(r Reply) {
			mu.Lock()
			errs = append(errs, r.Err)
			mu.Unlock()
			wg.Done()
		}))
	}

	c.Stop()
	wg.Wait()

	assert.Len(t, errs, 5)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.Equal(t, 0, c.Len())
}

func TestStartSweeperStopsOnContextCancel(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.StartSweeper(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartSweeper did not exit after context cancellation")
	}
}

func TestErrorReplyStillCompletesWaiterWithPayload(t *testing.T) {
	c := New()
	seq := c.NextSeq()

	var got Reply
	done := make(chan struct{})
	require.NoError(t, c.Register(seq, time.Now().Add(time.Second), func(r Reply) {
		got = r
		close(done)
	}))

	h := codec.Header{MsgID: "fail.reply", MsgSeq: seq, IsReply: true, ErrorCode: 17}
	c.TryComplete(h, pool.FromMemory([]byte("err-body")))
	<-done

	assert.Equal(t, uint16(17), got.ErrorCode)
	assert.Equal(t, []byte("err-body"), got.Payload.Span())
}
