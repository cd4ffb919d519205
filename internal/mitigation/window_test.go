package mitigation

import (
	"testing"
	"time"
)

func TestWindowCounterDropsEventsPastHorizon(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindowCounter(60 * time.Second)

	for i := 0; i < 10; i++ {
		w.Add(base.Add(time.Duration(i) * time.Second))
	}
	if got := w.Count(base.Add(9 * time.Second)); got != 10 {
		t.Fatalf("expected 10 in window, got %d", got)
	}

	// 70s later, everything has aged out.
	if got := w.Count(base.Add(79 * time.Second)); got != 0 {
		t.Fatalf("expected drained window, got %d", got)
	}
}

func TestWindowCounterRate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindowCounter(60 * time.Second)
	for i := 0; i < 120; i++ {
		w.Add(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if got := w.Rate(base.Add(12 * time.Second)); got != 2.0 {
		t.Fatalf("expected rate 2.0, got %v", got)
	}
}

func TestKeyedWindowCounterTracksActiveKeys(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	k := NewKeyedWindowCounter(60 * time.Second)

	k.Add("a", base)
	k.Add("a", base.Add(time.Second))
	k.Add("b", base.Add(time.Second))

	if got := k.Count("a", base.Add(2*time.Second)); got != 2 {
		t.Fatalf("expected 2 for a, got %d", got)
	}
	if got := k.ActiveKeys(base.Add(2 * time.Second)); got != 2 {
		t.Fatalf("expected 2 active keys, got %d", got)
	}

	// After the horizon both keys should drain and be forgotten.
	if got := k.ActiveKeys(base.Add(2 * time.Minute)); got != 0 {
		t.Fatalf("expected no active keys, got %d", got)
	}
	if got := k.Count("a", base.Add(2*time.Minute)); got != 0 {
		t.Fatalf("expected drained key count 0, got %d", got)
	}
}
