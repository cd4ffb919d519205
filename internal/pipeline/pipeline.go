package pipeline

import (
	"context"
	"sync"
	"time"

	"ddosguard/internal/detector"
	inputredis "ddosguard/internal/input/redis"
	"ddosguard/internal/logger"
	"ddosguard/internal/metrics"
	"ddosguard/internal/mitigation"
	"ddosguard/internal/profiler"
	"ddosguard/pkg/models"
)

// Config controls pipeline behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// MetricsSampleRate persists every Nth metrics snapshot.
	MetricsSampleRate int
	// AnomalyLogFloor persists anomaly records scoring above this.
	AnomalyLogFloor float64
	CleanupInterval time.Duration
}

// Pipeline consumes request events, drives the profiler → detector → engine
// chain in arrival order, and persists throttled observability records on a
// separate batching loop.
type Pipeline struct {
	consumer *inputredis.Consumer
	profiler *profiler.TrafficProfiler
	detector *detector.AnomalyDetector
	engine   *mitigation.Engine

	metricsWriter MetricsWriter
	actionWriter  ActionWriter
	stats         *metrics.Metrics

	cfg Config

	persistCh chan persistItem
	lastScore float64
	snapshots int
}

type persistItem struct {
	metric  *models.WindowMetrics
	anomaly *models.AnomalyRecord
	action  *models.MitigationAction
}

// NewPipeline creates a pipeline. metricsWriter, actionWriter, and stats may
// each be nil.
func NewPipeline(consumer *inputredis.Consumer, prof *profiler.TrafficProfiler, det *detector.AnomalyDetector, engine *mitigation.Engine, metricsWriter MetricsWriter, actionWriter ActionWriter, stats *metrics.Metrics, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MetricsSampleRate <= 0 {
		cfg.MetricsSampleRate = 5
	}
	if cfg.AnomalyLogFloor <= 0 {
		cfg.AnomalyLogFloor = 0.3
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Pipeline{
		consumer:      consumer,
		profiler:      prof,
		detector:      det,
		engine:        engine,
		metricsWriter: metricsWriter,
		actionWriter:  actionWriter,
		stats:         stats,
		cfg:           cfg,
	}
}

// Run starts the pipeline loops and blocks until the context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Traffic pipeline started")

	msgCh := make(chan models.RequestEvent, 1024)
	p.persistCh = make(chan persistItem, 1024)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range msgCh {
			p.processEvent(ev)
		}
		close(p.persistCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx, p.persistCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.cleanupLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.actionWriter != nil {
		if err := p.actionWriter.Close(); err != nil {
			logger.Errorf("Failed to close action writer: %v", err)
		}
	}
	if p.metricsWriter != nil {
		if err := p.metricsWriter.Close(); err != nil {
			logger.Errorf("Failed to close metrics writer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- models.RequestEvent) {
	for {
		ev, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if ev == nil {
			continue
		}

		select {
		case out <- *ev:
		case <-ctx.Done():
			return
		}
	}
}

// processEvent runs one event through profiler, detector, and engine. The
// caller is the single ordering goroutine; per-source score decay depends on
// events being applied in arrival order.
func (p *Pipeline) processEvent(ev models.RequestEvent) models.Action {
	if p.stats != nil {
		p.stats.EventsTotal.Inc()
	}

	if snap := p.profiler.ProcessEvent(ev); snap != nil {
		p.lastScore = p.detector.Score(*snap)
		p.snapshots++

		if p.stats != nil {
			p.stats.SnapshotsTotal.Inc()
			p.stats.AnomalyScore.Set(p.lastScore)
			p.stats.ActiveSources.Set(float64(snap.UniqueSources))
		}

		if p.snapshots%p.cfg.MetricsSampleRate == 0 {
			p.enqueue(persistItem{metric: snap})
		}
		if p.lastScore > p.cfg.AnomalyLogFloor {
			p.enqueue(persistItem{anomaly: &models.AnomalyRecord{
				Timestamp:     snap.Timestamp,
				Score:         p.lastScore,
				Entropy:       snap.Entropy,
				BurstScore:    snap.BurstScore,
				UniqueSources: snap.UniqueSources,
				TotalRequests: snap.TotalRequests,
			}})
		}
	}

	action, rec := p.engine.Mitigate(ev.SourceID, p.lastScore)
	if p.stats != nil {
		p.stats.ActionsTotal.WithLabelValues(string(action)).Inc()
	}
	// rec is nil for repeats of a standing block; only newly recorded
	// decisions reach the audit log.
	if rec != nil {
		p.enqueue(persistItem{action: rec})
	}
	return action
}

// enqueue hands an item to the write loop without ever blocking ingestion;
// under backpressure the write is dropped and counted.
func (p *Pipeline) enqueue(item persistItem) {
	if p.persistCh == nil {
		return
	}
	select {
	case p.persistCh <- item:
	default:
		if p.stats != nil {
			p.stats.DroppedWrites.Inc()
		}
		logger.Warnf("Persistence queue full, dropping write")
	}
}

func (p *Pipeline) writeLoop(ctx context.Context, in <-chan persistItem) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batchMetrics []*models.WindowMetrics
	var batchAnomalies []*models.AnomalyRecord
	var batchActions []*models.MitigationAction

	flush := func() {
		if p.metricsWriter != nil && len(batchMetrics) > 0 {
			if err := p.metricsWriter.WriteMetrics(batchMetrics); err != nil {
				logger.Errorf("Failed to write metrics batch: %v", err)
				if p.stats != nil {
					p.stats.PersistFailures.WithLabelValues("metrics").Inc()
				}
			}
			batchMetrics = nil
		}
		if p.metricsWriter != nil && len(batchAnomalies) > 0 {
			if err := p.metricsWriter.WriteAnomalies(batchAnomalies); err != nil {
				logger.Errorf("Failed to write anomaly batch: %v", err)
				if p.stats != nil {
					p.stats.PersistFailures.WithLabelValues("anomalies").Inc()
				}
			}
			batchAnomalies = nil
		}
		if p.actionWriter != nil && len(batchActions) > 0 {
			if err := p.actionWriter.WriteActions(batchActions); err != nil {
				logger.Errorf("Failed to write action batch: %v", err)
				if p.stats != nil {
					p.stats.PersistFailures.WithLabelValues("actions").Inc()
				}
			}
			batchActions = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			if item.metric != nil {
				batchMetrics = append(batchMetrics, item.metric)
			}
			if item.anomaly != nil {
				batchAnomalies = append(batchAnomalies, item.anomaly)
			}
			if item.action != nil {
				batchActions = append(batchActions, item.action)
			}
			if len(batchMetrics)+len(batchAnomalies)+len(batchActions) >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

func (p *Pipeline) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.engine.Cleanup()
			if p.stats != nil {
				p.stats.ActiveBlocks.Set(float64(len(p.engine.GetBlocked(time.Now()))))
			}
		}
	}
}
