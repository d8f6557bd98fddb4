// Package bandqueue implements BandQueue: a per-band priority queue of
// assigned subtasks awaiting a free slot, plus the SubmitLoop that
// drains queues against the GlobalResourceManager.
package bandqueue

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
)

// entry is one heap slot; index is maintained by container/heap so
// Remove(subtask_id) can locate and excise an arbitrary entry in
// O(log n).
type entry struct {
	task  *subtask.Subtask
	index int
}

// entryHeap orders by (priority desc, submit_sequence asc): highest
// priority pops first, FIFO among equal priority.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	pi, pj := h[i].task.Priority, h[j].task.Priority
	if pi != pj {
		return pj.Less(pi)
	}
	return h[i].task.SubmitSequence < h[j].task.SubmitSequence
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// BandQueue is the priority queue owned by a single band.
type BandQueue struct {
	band band.Band

	mu   sync.Mutex
	h    entryHeap
	byID map[string]*entry

	reg    *metrics.Registry
	kicker func()
}

// New constructs an empty BandQueue for b. reg may be nil in tests.
func New(b band.Band, reg *metrics.Registry) *BandQueue {
	return &BandQueue{
		band: b,
		byID: make(map[string]*entry),
		reg:  reg,
	}
}

// SetKicker registers a callback invoked whenever Push transitions the
// queue from empty to non-empty, the "push to empty queue" kick the
// SubmitLoop reacts to.
func (q *BandQueue) SetKicker(fn func()) {
	q.mu.Lock()
	q.kicker = fn
	q.mu.Unlock()
}

// Push inserts st into the queue.
func (q *BandQueue) Push(st *subtask.Subtask) {
	q.mu.Lock()
	wasEmpty := len(q.h) == 0
	e := &entry{task: st}
	heap.Push(&q.h, e)
	q.byID[st.SubtaskID] = e
	kicker := q.kicker
	q.mu.Unlock()

	q.reportDepth()
	if wasEmpty && kicker != nil {
		kicker()
	}
}

// PopIfAcquirable peeks the top entry; if the resource manager grants a
// slot for this band, the entry is popped and returned. Returns nil
// without mutating state if the queue is empty or the slot could not
// be acquired.
func (q *BandQueue) PopIfAcquirable(rm *resourcemgr.Manager) *subtask.Subtask {
	q.mu.Lock()
	if len(q.h) == 0 {
		q.mu.Unlock()
		return nil
	}
	top := q.h[0]
	q.mu.Unlock()

	if !rm.Acquire(q.band, 1) {
		return nil
	}

	q.mu.Lock()
	if len(q.h) == 0 || q.h[0] != top {
		// lost the race: top was removed (e.g. cancelled) between the
		// peek and the acquire. Give the slot back untouched.
		q.mu.Unlock()
		rm.Release(q.band, 1)
		return nil
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byID, e.task.SubtaskID)
	q.mu.Unlock()

	q.reportDepth()
	return e.task
}

// Remove excises a subtask from the queue by ID, reporting whether it
// was present. Used by cancellation and by band-loss handling.
func (q *BandQueue) Remove(subtaskID string) bool {
	q.mu.Lock()
	e, ok := q.byID[subtaskID]
	if ok {
		heap.Remove(&q.h, e.index)
		delete(q.byID, subtaskID)
	}
	q.mu.Unlock()
	if ok {
		q.reportDepth()
	}
	return ok
}

// DrainN removes and returns up to n of the lowest-priority entries,
// used by rebalance to shed load from an over-provisioned band without
// disturbing FIFO ordering among the entries that remain.
func (q *BandQueue) DrainN(n int) []*subtask.Subtask {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()

	if n > len(q.h) {
		n = len(q.h)
	}
	if n == 0 {
		q.mu.Unlock()
		return nil
	}

	entries := make([]*entry, len(q.h))
	copy(entries, q.h)
	// ascending by priority (lowest/worst first), tie-broken by
	// highest submit_sequence (most recently submitted sheds first).
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.task.Priority != b.task.Priority {
			return a.task.Priority.Less(b.task.Priority)
		}
		return a.task.SubmitSequence > b.task.SubmitSequence
	})

	// Remove by each entry's live heap index: heap.Remove reshuffles
	// the heap, so positional indexes captured up front go stale.
	out := make([]*subtask.Subtask, 0, n)
	for _, e := range entries[:n] {
		heap.Remove(&q.h, e.index)
		delete(q.byID, e.task.SubtaskID)
		out = append(out, e.task)
	}
	q.mu.Unlock()

	q.reportDepth()
	return out
}

// Len reports the current queue depth.
func (q *BandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

func (q *BandQueue) reportDepth() {
	if q.reg == nil {
		return
	}
	q.reg.QueueDepth.WithLabelValues(q.band.String()).Set(float64(q.Len()))
}
