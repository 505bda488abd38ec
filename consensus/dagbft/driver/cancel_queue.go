package driver

import (
	"context"
	"sync"

	"github.com/ef-ds/deque"
)

// broadcastHandle pairs a round's broadcast task with its cancellation.
type broadcastHandle struct {
	round  uint64
	cancel context.CancelFunc
}

// cancelQueue is the bounded, round-ordered queue of broadcast cancellation
// handles, sized to the retention window. Pushing beyond capacity cancels the
// oldest broadcast: a superseded round is no longer worth gossiping.
type cancelQueue struct {
	mu       sync.Mutex
	handles  deque.Deque
	capacity int
}

func newCancelQueue(capacity int) *cancelQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &cancelQueue{capacity: capacity}
}

// Push appends a handle; rounds are pushed in ascending order by the driver
// loop. On overflow the oldest handle is cancelled and dropped.
func (q *cancelQueue) Push(round uint64, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handles.PushBack(broadcastHandle{round: round, cancel: cancel})
	for q.handles.Len() > q.capacity {
		v, _ := q.handles.PopFront()
		v.(broadcastHandle).cancel()
	}
}

// PruneUpToRound cancels and drops all handles with round at or below the
// given round.
func (q *cancelQueue) PruneUpToRound(round uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.handles.Len() > 0 {
		v, _ := q.handles.Front()
		if v.(broadcastHandle).round > round {
			return
		}
		q.handles.PopFront()
		v.(broadcastHandle).cancel()
	}
}

// CancelAll cancels and drops every handle; used on protocol reset.
func (q *cancelQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		v, ok := q.handles.PopFront()
		if !ok {
			return
		}
		v.(broadcastHandle).cancel()
	}
}
