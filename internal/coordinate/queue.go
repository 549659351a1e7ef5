package coordinate

import (
	"container/heap"
	"time"

	"github.com/orderflowlabs/flowengine/internal/detect"
)

// job wraps a SignalCandidate awaiting dispatch to the SignalManager,
// tagged with the detector's configured priority and the time it was
// enqueued — the tuple the priority queue orders on.
type job struct {
	candidate  detect.SignalCandidate
	detectorID string
	priority   int
	enqueuedAt time.Time
	attempts   int
	index      int // heap.Interface bookkeeping
}

// jobHeap orders jobs by (priority_asc, timestamp_asc), per spec §4.8 —
// grounded on internal/state/orderbook.go's bidHeap/askHeap pattern of
// a slice-backed heap.Interface with a single comparison rule.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// priorityQueue is a thin, non-concurrency-safe wrapper over jobHeap;
// the coordinator serializes all access to it (from Poll and from its
// worker goroutine) with its mutex.
type priorityQueue struct {
	h jobHeap
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.h)
	return pq
}

func (pq *priorityQueue) push(j *job) { heap.Push(&pq.h, j) }

func (pq *priorityQueue) pop() (*job, bool) {
	if pq.h.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&pq.h).(*job), true
}

func (pq *priorityQueue) len() int { return pq.h.Len() }

// dropLowestPriority removes the single lowest-priority, oldest job —
// the coordinator's queue-overflow policy from spec §7: "drop oldest
// candidate of lowest priority first".
func (pq *priorityQueue) dropLowestPriority() (*job, bool) {
	if pq.h.Len() == 0 {
		return nil, false
	}
	worst := 0
	for i := 1; i < len(pq.h); i++ {
		if pq.h[i].priority > pq.h[worst].priority ||
			(pq.h[i].priority == pq.h[worst].priority && pq.h[i].enqueuedAt.Before(pq.h[worst].enqueuedAt)) {
			worst = i
		}
	}
	dropped := pq.h[worst]
	heap.Remove(&pq.h, worst)
	return dropped, true
}
