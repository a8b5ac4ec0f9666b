package scheduler

import (
	"container/heap"
	"sort"
)

// requestHeap implements heap.Interface. Requests are ordered by:
//  1. priority (ascending): Preparation before Background
//  2. seq (ascending): FIFO within the same priority
type requestHeap []*request

var _ heap.Interface = (*requestHeap)(nil)

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// queue is the pending work, always dispatched in (priority, seq) order.
// Submission order is captured by an increasing seq; boosted requests get
// a decreasing negative seq so they lead their new priority band.
type queue struct {
	h        requestHeap
	nextSeq  int64
	boostSeq int64
}

func (q *queue) len() int { return q.h.Len() }

func (q *queue) push(r *request) {
	q.nextSeq++
	r.seq = q.nextSeq
	heap.Push(&q.h, r)
}

// pop removes and returns the most urgent request, or nil.
func (q *queue) pop() *request {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*request)
}

// ordered returns the queued requests in dispatch order without
// modifying the queue.
func (q *queue) ordered() []*request {
	out := make([]*request, len(q.h))
	copy(out, q.h)
	sortDispatchOrder(out)
	return out
}

// boost raises every queued request for hash to p and moves them to the
// head of p's band, keeping their relative order. Requests already more
// urgent than p are left alone. It returns the number of boosted requests.
func (q *queue) boost(hash string, p Priority) int {
	var matched []*request
	for _, r := range q.ordered() {
		if r.hash == hash && r.priority >= p {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return 0
	}

	base := q.boostSeq - int64(len(matched))
	for i, r := range matched {
		r.priority = p
		r.seq = base + int64(i)
	}
	q.boostSeq = base
	heap.Init(&q.h)
	return len(matched)
}

// removeIf removes every request matching pred and returns them in
// dispatch order.
func (q *queue) removeIf(pred func(*request) bool) []*request {
	var removed []*request
	kept := q.h[:0]
	for _, r := range q.h {
		if pred(r) {
			r.index = -1
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	for i, r := range q.h {
		r.index = i
	}
	heap.Init(&q.h)
	sortDispatchOrder(removed)
	return removed
}

func sortDispatchOrder(rs []*request) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].priority != rs[j].priority {
			return rs[i].priority < rs[j].priority
		}
		return rs[i].seq < rs[j].seq
	})
}
