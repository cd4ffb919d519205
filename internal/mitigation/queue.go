package mitigation

import (
	"container/heap"
	"sort"
	"time"
)

// ThreatEntry is one advisory sample in the ThreatQueue. Multiple stale
// entries per source may coexist; the queue is introspection state, never
// authoritative for decisions.
type ThreatEntry struct {
	Score    float64   `json:"score"`
	TS       time.Time `json:"ts"`
	SourceID string    `json:"source_id"`
}

// ThreatQueue is a priority queue over threat samples, implemented as a
// min-heap on the negated score so the highest-threat entry sits at the
// root. Push is O(log n); pruning is O(n) and meant to run amortized. Not
// safe for concurrent use; the engine's lock guards it.
type ThreatQueue struct {
	entries threatHeap
}

type threatItem struct {
	negScore float64
	ts       time.Time
	sourceID string
}

type threatHeap []threatItem

func (h threatHeap) Len() int            { return len(h) }
func (h threatHeap) Less(i, j int) bool  { return h[i].negScore < h[j].negScore }
func (h threatHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *threatHeap) Push(x interface{}) { *h = append(*h, x.(threatItem)) }
func (h *threatHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewThreatQueue creates an empty queue.
func NewThreatQueue() *ThreatQueue {
	return &ThreatQueue{}
}

// Push inserts a sample.
func (q *ThreatQueue) Push(score float64, ts time.Time, sourceID string) {
	heap.Push(&q.entries, threatItem{negScore: -score, ts: ts, sourceID: sourceID})
}

// Peek returns the highest-score entry without removing it.
func (q *ThreatQueue) Peek() (ThreatEntry, bool) {
	if len(q.entries) == 0 {
		return ThreatEntry{}, false
	}
	top := q.entries[0]
	return ThreatEntry{Score: -top.negScore, TS: top.ts, SourceID: top.sourceID}, true
}

// Pop removes and returns the highest-score entry.
func (q *ThreatQueue) Pop() (ThreatEntry, bool) {
	if len(q.entries) == 0 {
		return ThreatEntry{}, false
	}
	item := heap.Pop(&q.entries).(threatItem)
	return ThreatEntry{Score: -item.negScore, TS: item.ts, SourceID: item.sourceID}, true
}

// Prune rebuilds the queue retaining only entries newer than cutoff.
func (q *ThreatQueue) Prune(cutoff time.Time) {
	kept := q.entries[:0]
	for _, item := range q.entries {
		if item.ts.After(cutoff) {
			kept = append(kept, item)
		}
	}
	q.entries = kept
	heap.Init(&q.entries)
}

// Len returns the number of queued samples.
func (q *ThreatQueue) Len() int { return len(q.entries) }

// TopK returns up to k entries ordered by descending score, without
// mutating the queue.
func (q *ThreatQueue) TopK(k int) []ThreatEntry {
	out := make([]ThreatEntry, 0, len(q.entries))
	for _, item := range q.entries {
		out = append(out, ThreatEntry{Score: -item.negScore, TS: item.ts, SourceID: item.sourceID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
