// Package mergequeue serializes landings onto target branches. Each target
// branch gets its own priority-then-position queue; at most one entry per
// target is ever in the "merging" state.
package mergequeue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// Lander lands a single merge-queue entry against its target. It is supplied
// by the coordinator and backed by the sync engine's chosen strategy.
type Lander interface {
	Land(ctx context.Context, entry *domain.MergeQueueEntry) (afterCommit string, err error)
}

// entryHeap orders pending entries by priority (lower wins), then by
// insertion time.
type entryHeap []*domain.MergeQueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].InsertedAt.Before(h[j].InsertedAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*domain.MergeQueueEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}

// targetQueue is the in-memory pending-entry view for one target branch. The
// repository remains the source of truth; this heap only orders pending
// entries for fast head selection.
type targetQueue struct {
	pending entryHeap
	merging *domain.MergeQueueEntry // at most one, enforced by Next
}

// Queue is the merge queue across all target branches.
type Queue struct {
	mu      sync.Mutex
	repo    repository.Repository
	targets map[string]*targetQueue
}

// New constructs a Queue backed by repo. It does not load existing entries;
// call Restore on startup to repopulate in-memory heaps from persisted rows.
func New(repo repository.Repository) *Queue {
	return &Queue{repo: repo, targets: make(map[string]*targetQueue)}
}

// Restore rebuilds the in-memory heap for target from persisted entries,
// used at process startup after a restart.
func (q *Queue) Restore(ctx context.Context, target string) error {
	entries, err := q.repo.ListMergeEntries(ctx, target)
	if err != nil {
		return fmt.Errorf("restoring merge queue for %q: %w", target, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tq := q.targetFor(target)
	for _, e := range entries {
		if e.Status == domain.QueueMerging {
			tq.merging = e
			continue
		}
		if e.Status == domain.QueuePending {
			heap.Push(&tq.pending, e)
		}
	}
	return nil
}

func (q *Queue) targetFor(target string) *targetQueue {
	tq, ok := q.targets[target]
	if !ok {
		tq = &targetQueue{pending: make(entryHeap, 0)}
		heap.Init(&tq.pending)
		q.targets[target] = tq
	}
	return tq
}

// Enqueue inserts execID against target at the given priority (lower wins).
// Re-enqueuing an execution already queued for the same target is a no-op.
func (q *Queue) Enqueue(ctx context.Context, execID, target, agentID string, priority int) (*domain.MergeQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, err := q.repo.GetMergeEntry(ctx, target, execID); err == nil && existing != nil {
		return existing, nil
	}

	entry := &domain.MergeQueueEntry{
		ExecutionID: execID,
		Target:      target,
		Status:      domain.QueuePending,
		Priority:    priority,
		AgentID:     agentID,
		InsertedAt:  time.Now(),
	}
	if err := q.repo.EnqueueMergeEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueuing merge entry: %w", err)
	}
	tq := q.targetFor(target)
	heap.Push(&tq.pending, entry)
	return entry, nil
}

// Dequeue removes execID's pending entry for target. A dequeue of an entry
// that is not pending (already merging, landed, or absent) is a no-op,
// matching the idempotence property for a second dequeue.
func (q *Queue) Dequeue(ctx context.Context, execID, target string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tq := q.targetFor(target)
	for i, e := range tq.pending {
		if e.ExecutionID == execID {
			heap.Remove(&tq.pending, i)
			return q.repo.DeleteMergeEntry(ctx, target, execID)
		}
	}
	return nil
}

// Position reports execID's 1-based position in target's pending queue, or
// nil if it is not pending there (merging, absent, or already terminal).
func (q *Queue) Position(target, execID string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	tq, ok := q.targets[target]
	if !ok {
		return nil
	}
	ordered := make(entryHeap, len(tq.pending))
	copy(ordered, tq.pending)
	sortHeap(ordered)
	for i, e := range ordered {
		if e.ExecutionID == execID {
			pos := i + 1
			return &pos
		}
	}
	return nil
}

// sortHeap reorders h in place into heap priority order, popping from a
// separate copy so heap operations never run on h itself.
func sortHeap(h entryHeap) {
	work := make(entryHeap, len(h))
	copy(work, h)
	heap.Init(&work)
	for i := range h {
		h[i] = heap.Pop(&work).(*domain.MergeQueueEntry)
	}
}

// Result is the outcome of advancing a target's queue head.
type Result struct {
	Entry       *domain.MergeQueueEntry
	AfterCommit string
	Err         error
}

// Next advances target's head: if no entry is currently merging and the
// pending heap is non-empty, it marks the head entry merging, invokes lander,
// and marks it landed or failed. Next returns nil if there was nothing to do
// (empty queue) or an entry was already merging for this target.
func (q *Queue) Next(ctx context.Context, target string, lander Lander) (*Result, error) {
	q.mu.Lock()
	tq, ok := q.targets[target]
	if !ok || tq.merging != nil || tq.pending.Len() == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	entry := heap.Pop(&tq.pending).(*domain.MergeQueueEntry)
	entry.Status = domain.QueueMerging
	tq.merging = entry
	q.mu.Unlock()

	if err := q.repo.UpdateMergeEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("marking entry merging: %w", err)
	}

	afterCommit, landErr := lander.Land(ctx, entry)

	q.mu.Lock()
	tq.merging = nil
	q.mu.Unlock()

	result := &Result{Entry: entry}
	if landErr != nil {
		entry.Status = domain.QueueFailed
		result.Err = landErr
	} else {
		entry.Status = domain.QueueLanded
		result.AfterCommit = afterCommit
	}
	if err := q.repo.UpdateMergeEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording landing outcome: %w", err)
	}
	return result, nil
}

// List returns target's persisted entries of every status, ordered by
// priority then position, for status/CLI reporting.
func (q *Queue) List(ctx context.Context, target string) ([]*domain.MergeQueueEntry, error) {
	return q.repo.ListMergeEntries(ctx, target)
}
