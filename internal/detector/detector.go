package detector

import (
	"sync"
	"time"

	"ddosguard/internal/logger"
	"ddosguard/pkg/models"
)

// Sub-score weights of the composite anomaly score.
const (
	entropyWeight = 0.4
	burstWeight   = 0.3
	modelWeight   = 0.3

	// lowEntropyBound: entropy below this is a concentrated-source anomaly.
	lowEntropyBound = 0.5
	// entropyScale / burstScale cap the linear ramps of the sub-scores.
	entropyScale = 4.0
	burstScale   = 10.0

	// Raw forest scores at or below modelFloor contribute nothing; the ramp
	// reaches 1 at modelFloor+modelSpan. Dense inliers sit near 0.5.
	modelFloor = 0.6
	modelSpan  = 0.4
)

// Config controls anomaly scoring.
type Config struct {
	// EntropyThreshold is the over-distribution bound τ_H.
	EntropyThreshold float64
	// BurstThreshold is the burstiness bound τ_B.
	BurstThreshold float64
	// FeatureWindow bounds the rolling feature buffer.
	FeatureWindow int
	// MinTrainSamples gates the first model fit.
	MinTrainSamples int
	// RetrainInterval refits the model every N new samples.
	RetrainInterval int
	// Trees and SampleSize size the isolation forest.
	Trees      int
	SampleSize int
	// Seed makes model randomness reproducible.
	Seed int64
	// HistorySize bounds the anomaly record history.
	HistorySize int
}

// AnomalyDetector blends entropy, burst, and isolation-forest sub-scores
// into a composite anomaly score in [0,1]. Safe for concurrent use. Model
// failures never propagate; they substitute a zero sub-score.
type AnomalyDetector struct {
	mu  sync.Mutex
	cfg Config

	features [][]float64
	forest   *isolationForest
	sinceFit int

	history []models.AnomalyRecord

	now func() time.Time
}

// NewAnomalyDetector creates a detector.
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = 2.0
	}
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = 3.0
	}
	if cfg.FeatureWindow <= 0 {
		cfg.FeatureWindow = 100
	}
	if cfg.MinTrainSamples <= 0 {
		cfg.MinTrainSamples = 50
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = 50
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 64
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &AnomalyDetector{
		cfg: cfg,
		now: time.Now,
	}
}

// Score computes the composite anomaly score for one metrics snapshot and
// appends an AnomalyRecord to the bounded history.
func (d *AnomalyDetector) Score(m models.WindowMetrics) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	es := d.entropyScore(m.Entropy)
	bs := d.burstScore(m.BurstScore)
	ms := d.modelScoreLocked(m)

	score := clamp01(entropyWeight*es + burstWeight*bs + modelWeight*ms)

	ts := m.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	d.history = append(d.history, models.AnomalyRecord{
		Timestamp:     ts,
		Score:         score,
		Entropy:       m.Entropy,
		BurstScore:    m.BurstScore,
		UniqueSources: m.UniqueSources,
		TotalRequests: m.TotalRequests,
	})
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	return score
}

// entropyScore penalizes concentrated traffic (entropy near 0) and, past
// τ_H, over-distributed traffic.
func (d *AnomalyDetector) entropyScore(entropy float64) float64 {
	if entropy < lowEntropyBound {
		return clamp01(1 - entropy)
	}
	if entropy > d.cfg.EntropyThreshold {
		return clamp01((entropy - d.cfg.EntropyThreshold) / (entropyScale - d.cfg.EntropyThreshold))
	}
	return 0
}

func (d *AnomalyDetector) burstScore(burst float64) float64 {
	if burst <= d.cfg.BurstThreshold {
		return 0
	}
	return clamp01((burst - d.cfg.BurstThreshold) / (burstScale - d.cfg.BurstThreshold))
}

// modelScoreLocked pushes the snapshot's feature vector and scores it once
// enough samples exist, refitting the forest on the configured cadence. Any
// model failure substitutes 0.
func (d *AnomalyDetector) modelScoreLocked(m models.WindowMetrics) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("detector: model failure: %v", r)
			score = 0
		}
	}()

	vec := []float64{m.RequestsPerSecond, float64(m.UniqueSources), m.Entropy, m.BurstScore}
	d.features = append(d.features, vec)
	if len(d.features) > d.cfg.FeatureWindow {
		d.features = d.features[len(d.features)-d.cfg.FeatureWindow:]
	}
	d.sinceFit++

	if len(d.features) < d.cfg.MinTrainSamples {
		return 0
	}

	if d.forest == nil || d.sinceFit >= d.cfg.RetrainInterval {
		forest := newIsolationForest(d.cfg.Trees, d.cfg.SampleSize, d.cfg.Seed)
		if err := forest.Fit(d.features); err != nil {
			logger.Errorf("detector: model fit failed: %v", err)
			return 0
		}
		d.forest = forest
		d.sinceFit = 0
	}

	raw, err := d.forest.Score(vec)
	if err != nil {
		logger.Errorf("detector: model score failed: %v", err)
		return 0
	}
	return clamp01((raw - modelFloor) / modelSpan)
}

// RecentAnomalies returns a copy of the records newer than now minus the
// duration.
func (d *AnomalyDetector) RecentAnomalies(dur time.Duration) []models.AnomalyRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-dur)
	idx := len(d.history)
	for idx > 0 && d.history[idx-1].Timestamp.After(cutoff) {
		idx--
	}
	out := make([]models.AnomalyRecord, len(d.history)-idx)
	copy(out, d.history[idx:])
	return out
}

// Reset clears all rolling state; the model retrains from scratch.
func (d *AnomalyDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.features = nil
	d.forest = nil
	d.sinceFit = 0
	d.history = nil
	logger.Infof("detector: state reset")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
