package webchat

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTurnQueueFull rejects a chat frame when the session already has the
// maximum number of turns waiting.
var ErrTurnQueueFull = stderrors.New("too many chat turns pending for this session, wait for the current reply")

const DefaultTurnQueueDepth = 4

type queuedTurn struct {
	Request    TurnRequest
	EnqueuedAt time.Time
}

// turnQueue is the FIFO of validated chat frames of one connection.
// Closing it drops whatever has not started yet.
type turnQueue struct {
	ch        chan queuedTurn
	done      chan struct{}
	closeOnce sync.Once
}

func newTurnQueue(depth int) *turnQueue {
	if depth <= 0 {
		depth = DefaultTurnQueueDepth
	}
	return &turnQueue{ch: make(chan queuedTurn, depth), done: make(chan struct{})}
}

func (q *turnQueue) enqueue(t queuedTurn) error {
	select {
	case <-q.done:
		return stderrors.New("connection closed")
	default:
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrTurnQueueFull
	}
}

// dequeue blocks until a turn is available or the queue is closed.
func (q *turnQueue) dequeue() (queuedTurn, bool) {
	select {
	case <-q.done:
		return queuedTurn{}, false
	case t := <-q.ch:
		select {
		case <-q.done:
			return queuedTurn{}, false
		default:
			return t, true
		}
	}
}

func (q *turnQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// sessionLocks keeps at most one turn running per session id, across the
// connections that successively hold that id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: map[string]*sessionLock{}}
}

func (s *sessionLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: semaphore.NewWeighted(1)}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		release()
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		release()
	}, nil
}

func (s *sessionLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
