package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigParsesNestedSections(t *testing.T) {
	raw := `
ddosguard:
  input:
    redis:
      addr: "127.0.0.1:6380"
      key: "traffic_events"
      block_timeout: 3s
  pipeline:
    batch_size: 250
    flush_interval: 1s
    metrics_sample_rate: 10
    anomaly_log_floor: 0.5
  profiler:
    window_size: 30s
    burst_samples: 5
  detector:
    entropy_threshold: 2.5
    seed: 7
  mitigation:
    light_threshold: 0.35
    low_trust_ranges: ["10.0.0.0/8", "192.168.0.0/16"]
    low_trust_multiplier: 0.9
    block_durations:
      light: 5m
      medium: 30m
      severe: 12h
    session_active: true
  persistence:
    mode: redis
    redis:
      addr: "127.0.0.1:6381"
      key_prefix: "guard"
      retention: 48h
  output:
    mode: file
    file:
      path: "out/actions.jsonl"
  metrics:
    enabled: true
    listen: ":9500"
  logging:
    enabled: true
    level: debug
    console: true
`
	path := filepath.Join(t.TempDir(), "ddosguard.yml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	g := cfg.DDoSGuard
	if g.Input.Redis.Addr != "127.0.0.1:6380" || g.Input.Redis.BlockTimeout != 3*time.Second {
		t.Fatalf("unexpected input config: %+v", g.Input)
	}
	if g.Pipeline.BatchSize != 250 || g.Pipeline.AnomalyLogFloor != 0.5 {
		t.Fatalf("unexpected pipeline config: %+v", g.Pipeline)
	}
	if g.Profiler.WindowSize != 30*time.Second || g.Profiler.BurstSamples != 5 {
		t.Fatalf("unexpected profiler config: %+v", g.Profiler)
	}
	if g.Detector.EntropyThreshold != 2.5 || g.Detector.Seed != 7 {
		t.Fatalf("unexpected detector config: %+v", g.Detector)
	}
	if len(g.Mitigation.LowTrustRanges) != 2 || g.Mitigation.LowTrustMultiplier != 0.9 {
		t.Fatalf("unexpected mitigation config: %+v", g.Mitigation)
	}
	if g.Mitigation.BlockDurations.Severe != 12*time.Hour {
		t.Fatalf("unexpected block durations: %+v", g.Mitigation.BlockDurations)
	}
	if !g.Mitigation.SessionActive {
		t.Fatalf("expected session_active true, got %+v", g.Mitigation)
	}
	if g.Persistence.Mode != "redis" || g.Persistence.Redis.Retention != 48*time.Hour {
		t.Fatalf("unexpected persistence config: %+v", g.Persistence)
	}
	if g.Output.File.Path != "out/actions.jsonl" {
		t.Fatalf("unexpected output config: %+v", g.Output)
	}
	if !g.Metrics.Enabled || g.Metrics.Listen != ":9500" {
		t.Fatalf("unexpected metrics config: %+v", g.Metrics)
	}
	if g.Logging.Level != "debug" || !g.Logging.Console {
		t.Fatalf("unexpected logging config: %+v", g.Logging)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("ddosguard: [not a mapping"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
