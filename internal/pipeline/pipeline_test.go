package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ddosguard/internal/detector"
	"ddosguard/internal/mitigation"
	"ddosguard/internal/profiler"
	"ddosguard/pkg/models"
)

func newTestPipeline(t *testing.T, engineCfg mitigation.Config) *Pipeline {
	t.Helper()
	engine, err := mitigation.NewEngine(engineCfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	prof := profiler.NewTrafficProfiler(profiler.Config{WindowSize: 10 * time.Second})
	det := detector.NewAnomalyDetector(detector.Config{})
	return NewPipeline(nil, prof, det, engine, nil, nil, nil, Config{})
}

func TestPipelineCalmTrafficTriggersNoMitigations(t *testing.T) {
	p := newTestPipeline(t, mitigation.Config{})

	// 20 sources contributing one request per second each for a minute.
	base := time.Now()
	for sec := 0; sec < 60; sec++ {
		for s := 0; s < 20; s++ {
			ev := models.RequestEvent{
				SourceID:  fmt.Sprintf("172.16.0.%d", 10+s),
				Path:      "/index",
				Method:    "GET",
				Timestamp: base.Add(time.Duration(sec)*time.Second + time.Duration(s)*50*time.Millisecond),
			}
			if action := p.processEvent(ev); action != models.ActionNone {
				t.Fatalf("sec %d source %d: expected no mitigation for calm traffic, got %s", sec, s, action)
			}
		}
	}

	records := p.detector.RecentAnomalies(time.Hour)
	if len(records) == 0 {
		t.Fatalf("expected anomaly records from steady traffic")
	}
	for _, rec := range records {
		if rec.Score > 0.2 {
			t.Fatalf("expected calm traffic to score at or below 0.2, got %v at %v", rec.Score, rec.Timestamp)
		}
	}
	if got := len(p.engine.GetBlocked(time.Now())); got != 0 {
		t.Fatalf("expected no blocks, got %d", got)
	}
}

func TestPipelineFloodEscalatesToBlock(t *testing.T) {
	p := newTestPipeline(t, mitigation.Config{LowTrustRanges: []string{"10.0.0.0/8"}})

	// A single low-trust source flooding at 200 req/s for five seconds.
	base := time.Now()
	seen := map[models.Action]bool{}
	for i := 0; i < 1000; i++ {
		ev := models.RequestEvent{
			SourceID:  "10.0.0.200",
			Path:      "/login",
			Method:    "POST",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Millisecond),
		}
		seen[p.processEvent(ev)] = true
	}

	for _, want := range []models.Action{models.ActionRateLimit, models.ActionChallenge, models.ActionBlock} {
		if !seen[want] {
			t.Fatalf("expected escalation through %s, saw %v", want, seen)
		}
	}

	blocked := p.engine.GetBlocked(time.Now())
	if len(blocked) != 1 {
		t.Fatalf("expected one blocked source, got %d", len(blocked))
	}
	if blocked[0].SourceID != "10.0.0.200" {
		t.Fatalf("unexpected blocked source %s", blocked[0].SourceID)
	}
	if blocked[0].ExpiresAt == nil {
		t.Fatalf("expected block expiry to be set")
	}
}

func TestProcessEventDoesNotPersistActionsForStandingBlocks(t *testing.T) {
	p := newTestPipeline(t, mitigation.Config{})
	p.persistCh = make(chan persistItem, 16)

	// Two sources get blocked, each minting one audit record.
	if a, _ := p.engine.Mitigate("198.51.100.10", 0.95); a != models.ActionBlock {
		t.Fatalf("expected first source blocked, got %s", a)
	}
	if a, _ := p.engine.Mitigate("198.51.100.20", 0.95); a != models.ActionBlock {
		t.Fatalf("expected second source blocked, got %s", a)
	}

	// Requests from an already-blocked source repeat the standing decision;
	// nothing may reach the audit log, least of all the other source's entry.
	ev := models.RequestEvent{SourceID: "198.51.100.10", Timestamp: time.Now()}
	if action := p.processEvent(ev); action != models.ActionBlock {
		t.Fatalf("expected standing block, got %s", action)
	}
	if n := len(p.persistCh); n != 0 {
		item := <-p.persistCh
		t.Fatalf("expected no persisted audit entries, got %d (first attributed to %s)", n, item.action.SourceID)
	}
}

type capturingWriter struct {
	metrics   []*models.WindowMetrics
	anomalies []*models.AnomalyRecord
	actions   []*models.MitigationAction
	closed    bool
}

func (w *capturingWriter) WriteMetrics(rows []*models.WindowMetrics) error {
	w.metrics = append(w.metrics, rows...)
	return nil
}

func (w *capturingWriter) WriteAnomalies(rows []*models.AnomalyRecord) error {
	w.anomalies = append(w.anomalies, rows...)
	return nil
}

func (w *capturingWriter) WriteActions(actions []*models.MitigationAction) error {
	w.actions = append(w.actions, actions...)
	return nil
}

func (w *capturingWriter) Close() error {
	w.closed = true
	return nil
}

func TestWriteLoopFlushesBatchesOnChannelClose(t *testing.T) {
	writer := &capturingWriter{}
	p := NewPipeline(nil, nil, nil, nil, writer, writer, nil, Config{})
	p.persistCh = make(chan persistItem, 16)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.enqueue(persistItem{metric: &models.WindowMetrics{Timestamp: ts}})
	p.enqueue(persistItem{anomaly: &models.AnomalyRecord{Timestamp: ts, Score: 0.9}})
	p.enqueue(persistItem{action: &models.MitigationAction{ID: "a1", Timestamp: ts}})
	close(p.persistCh)

	p.writeLoop(context.Background(), p.persistCh)

	if len(writer.metrics) != 1 || len(writer.anomalies) != 1 || len(writer.actions) != 1 {
		t.Fatalf("expected all items flushed, got %d/%d/%d",
			len(writer.metrics), len(writer.anomalies), len(writer.actions))
	}
}

func TestEnqueueDropsUnderBackpressure(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, nil, nil, nil, Config{})
	p.persistCh = make(chan persistItem, 1)

	p.enqueue(persistItem{metric: &models.WindowMetrics{}})
	p.enqueue(persistItem{metric: &models.WindowMetrics{}}) // dropped, must not block

	if len(p.persistCh) != 1 {
		t.Fatalf("expected exactly one queued item, got %d", len(p.persistCh))
	}
}

func TestEnqueueIsSafeWithoutRunningWriteLoop(t *testing.T) {
	p := newTestPipeline(t, mitigation.Config{})
	// persistCh is nil until Run; direct processing must not panic.
	p.enqueue(persistItem{metric: &models.WindowMetrics{}})
}
