package mitigation

import (
	"testing"
	"time"
)

func TestThreatQueuePeekReturnsHighestScore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewThreatQueue()
	q.Push(0.3, base, "low")
	q.Push(0.9, base, "high")
	q.Push(0.5, base, "mid")

	top, ok := q.Peek()
	if !ok || top.SourceID != "high" || top.Score != 0.9 {
		t.Fatalf("unexpected peek: %+v ok=%v", top, ok)
	}
	if q.Len() != 3 {
		t.Fatalf("peek must not consume, got len %d", q.Len())
	}
}

func TestThreatQueuePopDrainsInDescendingOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewThreatQueue()
	for _, s := range []float64{0.2, 0.8, 0.4, 0.6} {
		q.Push(s, base, "src")
	}

	prev := 1.1
	for q.Len() > 0 {
		entry, ok := q.Pop()
		if !ok {
			t.Fatalf("expected entry")
		}
		if entry.Score > prev {
			t.Fatalf("expected descending order, got %v after %v", entry.Score, prev)
		}
		prev = entry.Score
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestThreatQueuePruneDropsEntriesOlderThanCutoff(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewThreatQueue()
	q.Push(0.9, base.Add(-2*time.Hour), "stale-high")
	q.Push(0.1, base.Add(-30*time.Minute), "fresh-low")
	q.Push(0.7, base.Add(-61*time.Minute), "stale-mid")

	q.Prune(base.Add(-time.Hour))

	if q.Len() != 1 {
		t.Fatalf("expected 1 retained entry, got %d", q.Len())
	}
	for _, entry := range q.TopK(0) {
		if !entry.TS.After(base.Add(-time.Hour)) {
			t.Fatalf("retained entry older than cutoff: %+v", entry)
		}
	}
	top, _ := q.Peek()
	if top.SourceID != "fresh-low" {
		t.Fatalf("expected fresh-low to survive, got %s", top.SourceID)
	}
}

func TestThreatQueueTopKOrdersWithoutMutating(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewThreatQueue()
	q.Push(0.1, base, "a")
	q.Push(0.9, base, "b")
	q.Push(0.5, base, "c")

	top := q.TopK(2)
	if len(top) != 2 || top[0].SourceID != "b" || top[1].SourceID != "c" {
		t.Fatalf("unexpected top-k: %+v", top)
	}
	if q.Len() != 3 {
		t.Fatalf("TopK must not mutate the queue, got len %d", q.Len())
	}
}
