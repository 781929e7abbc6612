package webchat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTurnQueueFIFOAndFull(t *testing.T) {
	q := newTurnQueue(2)
	require.NoError(t, q.enqueue(queuedTurn{Request: TurnRequest{Content: "one"}}))
	require.NoError(t, q.enqueue(queuedTurn{Request: TurnRequest{Content: "two"}}))
	require.True(t, errors.Is(q.enqueue(queuedTurn{Request: TurnRequest{Content: "three"}}), ErrTurnQueueFull))

	t1, ok := q.dequeue()
	require.True(t, ok)
	require.Equal(t, "one", t1.Request.Content)
	t2, ok := q.dequeue()
	require.True(t, ok)
	require.Equal(t, "two", t2.Request.Content)
}

func TestTurnQueueCloseDropsPending(t *testing.T) {
	q := newTurnQueue(2)
	require.NoError(t, q.enqueue(queuedTurn{Request: TurnRequest{Content: "one"}}))
	q.close()
	q.close()
	_, ok := q.dequeue()
	require.False(t, ok)
	require.Error(t, q.enqueue(queuedTurn{}))
}

func TestSessionLocksSerializePerSession(t *testing.T) {
	locks := newSessionLocks()
	var running, maxRunning atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			release, err := locks.acquire(context.Background(), "s1")
			if err != nil {
				done <- struct{}{}
				return
			}
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			release()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	require.Equal(t, int32(1), maxRunning.Load())
	require.Equal(t, 0, locks.len())
}

func TestSessionLocksAcquireHonoursContext(t *testing.T) {
	locks := newSessionLocks()
	release, err := locks.acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "s1")
	require.Error(t, err)

	release()
	require.Equal(t, 0, locks.len())

	other, err := locks.acquire(context.Background(), "s2")
	require.NoError(t, err)
	other()
}
