package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	DDoSGuard DDoSGuardConfig `yaml:"ddosguard"`
}

// DDoSGuardConfig is the project configuration.
type DDoSGuardConfig struct {
	Input       InputConfig       `yaml:"input"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Profiler    ProfilerConfig    `yaml:"profiler"`
	Detector    DetectorConfig    `yaml:"detector"`
	Mitigation  MitigationConfig  `yaml:"mitigation"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Output      OutputConfig      `yaml:"output"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the event reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	MetricsSampleRate int           `yaml:"metrics_sample_rate"`
	AnomalyLogFloor   float64       `yaml:"anomaly_log_floor"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// ProfilerConfig controls the traffic window.
type ProfilerConfig struct {
	WindowSize   time.Duration `yaml:"window_size"`
	HistorySize  int           `yaml:"history_size"`
	BurstSamples int           `yaml:"burst_samples"`
}

// DetectorConfig controls anomaly scoring.
type DetectorConfig struct {
	EntropyThreshold float64 `yaml:"entropy_threshold"`
	BurstThreshold   float64 `yaml:"burst_threshold"`
	FeatureWindow    int     `yaml:"feature_window"`
	MinTrainSamples  int     `yaml:"min_train_samples"`
	RetrainInterval  int     `yaml:"retrain_interval"`
	Trees            int     `yaml:"trees"`
	SampleSize       int     `yaml:"sample_size"`
	Seed             int64   `yaml:"seed"`
	HistorySize      int     `yaml:"history_size"`
}

// MitigationConfig controls the escalation engine.
type MitigationConfig struct {
	LightThreshold     float64              `yaml:"light_threshold"`
	MediumThreshold    float64              `yaml:"medium_threshold"`
	SevereThreshold    float64              `yaml:"severe_threshold"`
	CacheCapacity      int                  `yaml:"cache_capacity"`
	GlobalWindow       time.Duration        `yaml:"global_window"`
	SourceWindow       time.Duration        `yaml:"source_window"`
	QueueMaxAge        time.Duration        `yaml:"queue_max_age"`
	QueueHardLimit     int                  `yaml:"queue_hard_limit"`
	LowTrustRanges     []string             `yaml:"low_trust_ranges"`
	LowTrustMultiplier float64              `yaml:"low_trust_multiplier"`
	BlockDurations     BlockDurationsConfig `yaml:"block_durations"`
	// SessionActive marks a traffic-generation session as running at startup,
	// which disables low-trust state purging during cleanup.
	SessionActive bool `yaml:"session_active"`
}

// BlockDurationsConfig maps severity to block duration; zero means permanent.
type BlockDurationsConfig struct {
	Light  time.Duration `yaml:"light"`
	Medium time.Duration `yaml:"medium"`
	Severe time.Duration `yaml:"severe"`
}

// PersistenceConfig controls the external block/metrics store.
type PersistenceConfig struct {
	Mode  string                 `yaml:"mode"` // redis|none
	Redis RedisPersistenceConfig `yaml:"redis"`
}

// RedisPersistenceConfig controls Redis-backed persistence.
type RedisPersistenceConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// OutputConfig controls the action audit log sink.
type OutputConfig struct {
	Mode string           `yaml:"mode"` // file|none
	File FileOutputConfig `yaml:"file"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
