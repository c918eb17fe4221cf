package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	item        WorkItem
	leaseID     string
	leasedBy    string
	leasedUntil time.Time
	attempt     int
}

// MemoryQueue is an in-process Queue used by tests and single-process
// deployments, mirroring the teacher's MemoryStore pattern
// (internal/jobs/store.go).
type MemoryQueue struct {
	mu                sync.Mutex
	items             map[string]*memoryItem // keyed by lease_id
	visibilityTimeout time.Duration
}

// NewMemoryQueue returns an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:             make(map[string]*memoryItem),
		visibilityTimeout: 2 * time.Hour,
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	if item.Action == "" {
		item.Action = ActionProcessAgentTask
	}
	id := uuid.NewString()
	q.items[id] = &memoryItem{item: item}
	return nil
}

func (q *MemoryQueue) AcquireNext(ctx context.Context, workerID string) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var candidates []*memoryItem
	for _, it := range q.items {
		if it.leasedUntil.IsZero() || it.leasedUntil.Before(now) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].item.Timestamp.Before(candidates[j].item.Timestamp)
	})

	picked := candidates[0]
	if picked.leaseID == "" {
		picked.leaseID = uuid.NewString()
		for id, it := range q.items {
			if it == picked {
				delete(q.items, id)
				break
			}
		}
		q.items[picked.leaseID] = picked
	}
	picked.leasedBy = workerID
	picked.leasedUntil = now.Add(q.visibilityTimeout)
	picked.attempt++

	return &Lease{WorkItem: picked.item, LeaseID: picked.leaseID, Attempt: picked.attempt}, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, leaseID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.items[leaseID]; ok {
		it.leasedBy = ""
		it.leasedUntil = time.Time{}
	}
	return nil
}

func (q *MemoryQueue) Complete(ctx context.Context, leaseID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, leaseID)
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	n := 0
	for _, it := range q.items {
		if it.leasedUntil.IsZero() || it.leasedUntil.Before(now) {
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Close() error { return nil }
