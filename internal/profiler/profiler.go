package profiler

import (
	"math"
	"sync"
	"time"

	"ddosguard/internal/logger"
	"ddosguard/pkg/models"
)

// Config controls the traffic window.
type Config struct {
	// WindowSize is the trailing horizon of the live event window.
	WindowSize time.Duration
	// HistorySize bounds the WindowMetrics history.
	HistorySize int
	// BurstSamples is how many trailing rate samples feed the burst score.
	BurstSamples int
	// SnapshotInterval is the minimum event-time gap between snapshots.
	SnapshotInterval time.Duration
}

type windowEvent struct {
	sourceID string
	ts       time.Time
}

// TrafficProfiler maintains the live request window and emits periodic
// WindowMetrics snapshots. Safe for concurrent use.
type TrafficProfiler struct {
	mu  sync.Mutex
	cfg Config

	window []windowEvent
	counts map[string]int

	history      []models.WindowMetrics
	lastSnapshot time.Time

	now func() time.Time
}

// NewTrafficProfiler creates a profiler.
func NewTrafficProfiler(cfg Config) *TrafficProfiler {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.BurstSamples <= 0 {
		cfg.BurstSamples = 10
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Second
	}
	return &TrafficProfiler{
		cfg:    cfg,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// ProcessEvent appends the event to the window, evicts entries older than
// the window horizon, and returns a new WindowMetrics snapshot when at least
// SnapshotInterval of event time has passed since the previous one. The
// first event only arms the snapshot clock. Events without a source id are
// dropped with a warning.
func (p *TrafficProfiler) ProcessEvent(ev models.RequestEvent) *models.WindowMetrics {
	if ev.SourceID == "" {
		logger.Warnf("profiler: dropped event without source id")
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.window = append(p.window, windowEvent{sourceID: ev.SourceID, ts: ev.Timestamp})
	p.counts[ev.SourceID]++
	p.evictLocked(ev.Timestamp.Add(-p.cfg.WindowSize))

	if p.lastSnapshot.IsZero() {
		p.lastSnapshot = ev.Timestamp
		return nil
	}
	if ev.Timestamp.Sub(p.lastSnapshot) < p.cfg.SnapshotInterval {
		return nil
	}
	m := p.snapshotLocked(ev.Timestamp)
	return &m
}

func (p *TrafficProfiler) evictLocked(cutoff time.Time) {
	idx := 0
	for idx < len(p.window) && !p.window[idx].ts.After(cutoff) {
		src := p.window[idx].sourceID
		if p.counts[src] <= 1 {
			delete(p.counts, src)
		} else {
			p.counts[src]--
		}
		idx++
	}
	if idx > 0 {
		p.window = p.window[idx:]
	}
}

func (p *TrafficProfiler) snapshotLocked(ts time.Time) models.WindowMetrics {
	total := len(p.window)
	m := models.WindowMetrics{
		Timestamp:         ts,
		TotalRequests:     total,
		UniqueSources:     len(p.counts),
		RequestsPerSecond: float64(total) / p.cfg.WindowSize.Seconds(),
		Entropy:           sourceEntropy(p.counts, total),
		BurstScore:        p.burstLocked(),
	}

	p.history = append(p.history, m)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
	p.lastSnapshot = ts
	return m
}

// burstLocked returns the coefficient of variation of the trailing rate
// samples already in the history; 0 with fewer than 2 samples.
func (p *TrafficProfiler) burstLocked() float64 {
	n := len(p.history)
	if n < 2 {
		return 0
	}
	start := n - p.cfg.BurstSamples
	if start < 0 {
		start = 0
	}
	samples := p.history[start:]

	mean := 0.0
	for _, m := range samples {
		mean += m.RequestsPerSecond
	}
	mean /= float64(len(samples))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, m := range samples {
		d := m.RequestsPerSecond - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance) / mean
}

// sourceEntropy is the Shannon entropy (natural log) of per-source shares
// of the window. Zero for an empty window or a single dominant source.
func sourceEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h
}

// GetCurrentMetrics returns the latest snapshot, or a zero-valued default
// when none has been emitted yet.
func (p *TrafficProfiler) GetCurrentMetrics() models.WindowMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return models.WindowMetrics{}
	}
	return p.history[len(p.history)-1]
}

// History returns a copy of the snapshots newer than now minus the duration.
func (p *TrafficProfiler) History(d time.Duration) []models.WindowMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-d)
	idx := len(p.history)
	for idx > 0 && p.history[idx-1].Timestamp.After(cutoff) {
		idx--
	}
	out := make([]models.WindowMetrics, len(p.history)-idx)
	copy(out, p.history[idx:])
	return out
}

// Baseline summarizes the current metrics history into a baseline profile.
func (p *TrafficProfiler) Baseline() models.BaselineProfile {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := models.BaselineProfile{CreatedAt: p.now(), Samples: len(p.history)}
	if len(p.history) == 0 {
		return b
	}

	var rps, uniq, ent []float64
	for _, m := range p.history {
		rps = append(rps, m.RequestsPerSecond)
		uniq = append(uniq, float64(m.UniqueSources))
		ent = append(ent, m.Entropy)
	}
	b.AvgRPS, b.StdRPS = meanStd(rps)
	b.AvgUniqueSources, b.StdUniqueSources = meanStd(uniq)
	b.AvgEntropy, b.StdEntropy = meanStd(ent)
	return b
}

func meanStd(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}
