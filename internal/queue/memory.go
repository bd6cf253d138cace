package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue at capacity")
)

// priorityQueue implements heap.Interface for Item.
type priorityQueue []*Item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Higher priority value = higher priority
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// Otherwise first in, first out
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Item))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[0 : n-1]
	return item
}

// MemoryQueue is a thread-safe in-memory priority queue.
type MemoryQueue struct {
	mu       sync.Mutex
	pq       priorityQueue
	ids      map[string]struct{}
	closed   bool
	cond     *sync.Cond
	capacity int
	seq      uint64
}

// NewMemoryQueue creates a new in-memory queue. A capacity of 0 means
// unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	mq := &MemoryQueue{
		pq:       make(priorityQueue, 0),
		ids:      make(map[string]struct{}),
		capacity: capacity,
	}
	mq.cond = sync.NewCond(&mq.mu)
	heap.Init(&mq.pq)
	return mq
}

// Push adds an item to the queue. A job that is already queued is ignored.
func (mq *MemoryQueue) Push(item *Item) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}

	if _, exists := mq.ids[item.JobID]; exists {
		return nil
	}

	if mq.capacity > 0 && len(mq.pq) >= mq.capacity {
		return ErrQueueFull
	}

	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	mq.seq++
	item.seq = mq.seq

	mq.ids[item.JobID] = struct{}{}
	heap.Push(&mq.pq, item)
	mq.cond.Signal()
	return nil
}

// Pop removes and returns the next item from the queue.
func (mq *MemoryQueue) Pop() (*Item, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil, ErrQueueClosed
	}

	if len(mq.pq) == 0 {
		return nil, ErrQueueEmpty
	}

	return mq.popLocked(), nil
}

// PopWait removes and returns the next item, blocking if empty.
func (mq *MemoryQueue) PopWait(ctx context.Context) (*Item, error) {
	stop := context.AfterFunc(ctx, func() {
		mq.mu.Lock()
		defer mq.mu.Unlock()
		mq.cond.Broadcast()
	})
	defer stop()

	mq.mu.Lock()
	defer mq.mu.Unlock()

	for len(mq.pq) == 0 && !mq.closed && ctx.Err() == nil {
		mq.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mq.closed {
		return nil, ErrQueueClosed
	}

	return mq.popLocked(), nil
}

func (mq *MemoryQueue) popLocked() *Item {
	item := heap.Pop(&mq.pq).(*Item)
	delete(mq.ids, item.JobID)
	return item
}

// Len returns the number of items in the queue.
func (mq *MemoryQueue) Len() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.pq)
}

// Remove drops the queued item of jobID. It reports whether one was found.
func (mq *MemoryQueue) Remove(jobID string) bool {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if _, ok := mq.ids[jobID]; !ok {
		return false
	}
	for i, item := range mq.pq {
		if item.JobID == jobID {
			heap.Remove(&mq.pq, i)
			break
		}
	}
	delete(mq.ids, jobID)
	return true
}

// Close closes the queue. Items still queued are dropped.
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.closed = true
	mq.cond.Broadcast()
	return nil
}

// Contains checks if a job is in the queue.
func (mq *MemoryQueue) Contains(jobID string) bool {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	_, exists := mq.ids[jobID]
	return exists
}

// JobIDs returns the queued job IDs in pop order.
func (mq *MemoryQueue) JobIDs() []string {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	items := make(priorityQueue, len(mq.pq))
	copy(items, mq.pq)

	ids := make([]string, 0, len(items))
	for items.Len() > 0 {
		ids = append(ids, heap.Pop(&items).(*Item).JobID)
	}
	return ids
}
