package mitigation

import "time"

// WindowCounter counts events inside a fixed trailing horizon using
// per-second buckets. Old buckets are dropped lazily, at most once per
// second, so the common path stays O(1). Not safe for concurrent use; the
// engine's lock guards it.
type WindowCounter struct {
	horizon    time.Duration
	buckets    map[int64]int
	total      int
	lastPruned int64
}

// NewWindowCounter creates a counter with the given horizon.
func NewWindowCounter(horizon time.Duration) *WindowCounter {
	if horizon <= 0 {
		horizon = time.Minute
	}
	return &WindowCounter{
		horizon: horizon,
		buckets: make(map[int64]int),
	}
}

// Add records one event at the given time.
func (w *WindowCounter) Add(now time.Time) {
	w.prune(now)
	w.buckets[now.Unix()]++
	w.total++
}

// Count returns the number of events inside the horizon.
func (w *WindowCounter) Count(now time.Time) int {
	w.prune(now)
	return w.total
}

// Rate returns events per second averaged over the horizon.
func (w *WindowCounter) Rate(now time.Time) float64 {
	return float64(w.Count(now)) / w.horizon.Seconds()
}

func (w *WindowCounter) prune(now time.Time) {
	sec := now.Unix()
	if sec == w.lastPruned {
		return
	}
	w.lastPruned = sec
	cutoff := sec - int64(w.horizon.Seconds())
	for b, n := range w.buckets {
		if b <= cutoff {
			w.total -= n
			delete(w.buckets, b)
		}
	}
}

// KeyedWindowCounter tracks a WindowCounter per key, dropping keys whose
// windows have fully drained. Not safe for concurrent use.
type KeyedWindowCounter struct {
	horizon   time.Duration
	perKey    map[string]*WindowCounter
	lastSwept int64
}

// NewKeyedWindowCounter creates a per-key counter with the given horizon.
func NewKeyedWindowCounter(horizon time.Duration) *KeyedWindowCounter {
	if horizon <= 0 {
		horizon = time.Minute
	}
	return &KeyedWindowCounter{
		horizon: horizon,
		perKey:  make(map[string]*WindowCounter),
	}
}

// Add records one event for the key at the given time.
func (k *KeyedWindowCounter) Add(key string, now time.Time) {
	c := k.perKey[key]
	if c == nil {
		c = NewWindowCounter(k.horizon)
		k.perKey[key] = c
	}
	c.Add(now)
	k.sweep(now)
}

// Count returns the key's event count inside the horizon.
func (k *KeyedWindowCounter) Count(key string, now time.Time) int {
	c := k.perKey[key]
	if c == nil {
		return 0
	}
	n := c.Count(now)
	if n == 0 {
		delete(k.perKey, key)
	}
	return n
}

// Rate returns the key's events per second averaged over the horizon.
func (k *KeyedWindowCounter) Rate(key string, now time.Time) float64 {
	return float64(k.Count(key, now)) / k.horizon.Seconds()
}

// ActiveKeys returns the number of keys with at least one event in the
// horizon.
func (k *KeyedWindowCounter) ActiveKeys(now time.Time) int {
	k.sweepNow(now)
	return len(k.perKey)
}

// sweep drops drained keys at most once per second.
func (k *KeyedWindowCounter) sweep(now time.Time) {
	sec := now.Unix()
	if sec == k.lastSwept {
		return
	}
	k.lastSwept = sec
	k.sweepNow(now)
}

func (k *KeyedWindowCounter) sweepNow(now time.Time) {
	for key, c := range k.perKey {
		if c.Count(now) == 0 {
			delete(k.perKey, key)
		}
	}
}
