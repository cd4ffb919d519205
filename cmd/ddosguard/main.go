package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ddosguard/config"
	"ddosguard/internal/compare"
	"ddosguard/internal/detector"
	inputredis "ddosguard/internal/input/redis"
	"ddosguard/internal/logger"
	"ddosguard/internal/metrics"
	"ddosguard/internal/mitigation"
	"ddosguard/internal/output/actionjson"
	"ddosguard/internal/pipeline"
	"ddosguard/internal/profiler"
	"ddosguard/internal/storage"
	"ddosguard/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("ddosguard.yml"); err == nil {
		return "ddosguard.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "ddosguard.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "ddosguard.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.DDoSGuard.Input.Redis.Addr == "" {
		cfg.DDoSGuard.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.DDoSGuard.Input.Redis.Key == "" {
		cfg.DDoSGuard.Input.Redis.Key = "traffic_events"
	}
	if cfg.DDoSGuard.Input.Redis.BlockTimeout == 0 {
		cfg.DDoSGuard.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.DDoSGuard.Pipeline.BatchSize <= 0 {
		cfg.DDoSGuard.Pipeline.BatchSize = 500
	}
	if cfg.DDoSGuard.Pipeline.FlushInterval <= 0 {
		cfg.DDoSGuard.Pipeline.FlushInterval = 2 * time.Second
	}
	if cfg.DDoSGuard.Pipeline.MetricsSampleRate <= 0 {
		cfg.DDoSGuard.Pipeline.MetricsSampleRate = 5
	}
	if cfg.DDoSGuard.Pipeline.AnomalyLogFloor <= 0 {
		cfg.DDoSGuard.Pipeline.AnomalyLogFloor = 0.3
	}
	if cfg.DDoSGuard.Pipeline.CleanupInterval <= 0 {
		cfg.DDoSGuard.Pipeline.CleanupInterval = time.Minute
	}

	if cfg.DDoSGuard.Profiler.WindowSize <= 0 {
		cfg.DDoSGuard.Profiler.WindowSize = 60 * time.Second
	}
	if cfg.DDoSGuard.Profiler.HistorySize <= 0 {
		cfg.DDoSGuard.Profiler.HistorySize = 1000
	}
	if cfg.DDoSGuard.Profiler.BurstSamples <= 0 {
		cfg.DDoSGuard.Profiler.BurstSamples = 10
	}

	if cfg.DDoSGuard.Persistence.Mode == "" {
		cfg.DDoSGuard.Persistence.Mode = "none"
	}
	if cfg.DDoSGuard.Output.Mode == "" {
		cfg.DDoSGuard.Output.Mode = "file"
	}
	if cfg.DDoSGuard.Output.File.Path == "" {
		cfg.DDoSGuard.Output.File.Path = "output/actions.jsonl"
	}
	if cfg.DDoSGuard.Metrics.Listen == "" {
		cfg.DDoSGuard.Metrics.Listen = ":9402"
	}
	if cfg.DDoSGuard.Logging.Level == "" {
		cfg.DDoSGuard.Logging.Level = "info"
	}
}

func runServe(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.DDoSGuard.Logging.Enabled, cfg.DDoSGuard.Logging.Level, cfg.DDoSGuard.Logging.File, cfg.DDoSGuard.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("DDoSGuard starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.DDoSGuard.Input.Redis.Addr,
		Password:     cfg.DDoSGuard.Input.Redis.Password,
		DB:           cfg.DDoSGuard.Input.Redis.DB,
		Key:          cfg.DDoSGuard.Input.Redis.Key,
		BlockTimeout: cfg.DDoSGuard.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	var blockStore mitigation.BlockStore
	var metricsWriter pipeline.MetricsWriter
	switch cfg.DDoSGuard.Persistence.Mode {
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:      cfg.DDoSGuard.Persistence.Redis.Addr,
			Password:  cfg.DDoSGuard.Persistence.Redis.Password,
			DB:        cfg.DDoSGuard.Persistence.Redis.DB,
			KeyPrefix: cfg.DDoSGuard.Persistence.Redis.KeyPrefix,
			Retention: cfg.DDoSGuard.Persistence.Redis.Retention,
			OpTimeout: cfg.DDoSGuard.Persistence.Redis.OpTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis persistence store: %v", err)
			log.Fatalf("Failed to create Redis persistence store: %v", err)
		}
		blockStore = store
		metricsWriter = store
		logger.Infof("Persistence mode: redis (%s)", cfg.DDoSGuard.Persistence.Redis.Addr)
	case "none":
		blockStore = storage.NewMemoryStore()
		logger.Infof("Persistence mode: none (in-memory only)")
	default:
		log.Fatalf("Unknown persistence mode: %s", cfg.DDoSGuard.Persistence.Mode)
	}

	var actionWriter pipeline.ActionWriter
	switch cfg.DDoSGuard.Output.Mode {
	case "file":
		w, err := actionjson.NewWriter(cfg.DDoSGuard.Output.File.Path)
		if err != nil {
			logger.Errorf("Failed to create action file writer: %v", err)
			log.Fatalf("Failed to create action file writer: %v", err)
		}
		actionWriter = w
		logger.Infof("Action output mode: file (%s)", cfg.DDoSGuard.Output.File.Path)
	case "none":
	default:
		log.Fatalf("Unknown output mode: %s", cfg.DDoSGuard.Output.Mode)
	}

	prof := profiler.NewTrafficProfiler(profiler.Config{
		WindowSize:   cfg.DDoSGuard.Profiler.WindowSize,
		HistorySize:  cfg.DDoSGuard.Profiler.HistorySize,
		BurstSamples: cfg.DDoSGuard.Profiler.BurstSamples,
	})

	det := detector.NewAnomalyDetector(detector.Config{
		EntropyThreshold: cfg.DDoSGuard.Detector.EntropyThreshold,
		BurstThreshold:   cfg.DDoSGuard.Detector.BurstThreshold,
		FeatureWindow:    cfg.DDoSGuard.Detector.FeatureWindow,
		MinTrainSamples:  cfg.DDoSGuard.Detector.MinTrainSamples,
		RetrainInterval:  cfg.DDoSGuard.Detector.RetrainInterval,
		Trees:            cfg.DDoSGuard.Detector.Trees,
		SampleSize:       cfg.DDoSGuard.Detector.SampleSize,
		Seed:             cfg.DDoSGuard.Detector.Seed,
		HistorySize:      cfg.DDoSGuard.Detector.HistorySize,
	})

	engine, err := mitigation.NewEngine(mitigation.Config{
		LightThreshold:     cfg.DDoSGuard.Mitigation.LightThreshold,
		MediumThreshold:    cfg.DDoSGuard.Mitigation.MediumThreshold,
		SevereThreshold:    cfg.DDoSGuard.Mitigation.SevereThreshold,
		CacheCapacity:      cfg.DDoSGuard.Mitigation.CacheCapacity,
		GlobalWindow:       cfg.DDoSGuard.Mitigation.GlobalWindow,
		SourceWindow:       cfg.DDoSGuard.Mitigation.SourceWindow,
		QueueMaxAge:        cfg.DDoSGuard.Mitigation.QueueMaxAge,
		QueueHardLimit:     cfg.DDoSGuard.Mitigation.QueueHardLimit,
		LowTrustRanges:     cfg.DDoSGuard.Mitigation.LowTrustRanges,
		LowTrustMultiplier: cfg.DDoSGuard.Mitigation.LowTrustMultiplier,
		BlockDurations: mitigation.BlockDurations{
			Light:  cfg.DDoSGuard.Mitigation.BlockDurations.Light,
			Medium: cfg.DDoSGuard.Mitigation.BlockDurations.Medium,
			Severe: cfg.DDoSGuard.Mitigation.BlockDurations.Severe,
		},
	}, blockStore)
	if err != nil {
		logger.Errorf("Failed to create mitigation engine: %v", err)
		log.Fatalf("Failed to create mitigation engine: %v", err)
	}
	if cfg.DDoSGuard.Mitigation.SessionActive {
		engine.SetSessionActive(true)
		logger.Infof("Traffic-generation session marked active; low-trust cleanup disabled")
	}

	var stats *metrics.Metrics
	if cfg.DDoSGuard.Metrics.Enabled {
		stats = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", stats.Handler())
		srv := &http.Server{Addr: cfg.DDoSGuard.Metrics.Listen, Handler: mux}
		go func() {
			logger.Infof("Metrics endpoint listening on %s", cfg.DDoSGuard.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	pipe := pipeline.NewPipeline(consumer, prof, det, engine, metricsWriter, actionWriter, stats, pipeline.Config{
		BatchSize:         cfg.DDoSGuard.Pipeline.BatchSize,
		FlushInterval:     cfg.DDoSGuard.Pipeline.FlushInterval,
		MetricsSampleRate: cfg.DDoSGuard.Pipeline.MetricsSampleRate,
		AnomalyLogFloor:   cfg.DDoSGuard.Pipeline.AnomalyLogFloor,
		CleanupInterval:   cfg.DDoSGuard.Pipeline.CleanupInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("DDoSGuard stopped")
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	input := fs.String("input", "output/events.jsonl", "Request events JSONL input path")
	output := fs.String("output", "output/suspects.jsonl", "Findings JSONL output path")
	window := fs.Duration("window", 10*time.Second, "Per-source counting window")
	threshold := fs.Int("threshold", 100, "Requests per window above which a source is flagged")
	timeout := fs.Duration("timeout", 30*time.Second, "Per-strategy timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	events, err := loadEventsJSONL(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load events: %v\n", err)
		return 1
	}

	results := compare.Run(context.Background(), events, compare.Strategies(), compare.Options{
		Window:    *window,
		Threshold: *threshold,
		Timeout:   *timeout,
	})

	for _, res := range results {
		switch {
		case res.Skipped:
			fmt.Printf("strategy=%s skipped after %s\n", res.Strategy, res.Elapsed.Round(time.Millisecond))
		case res.Err != "":
			fmt.Printf("strategy=%s failed: %s\n", res.Strategy, res.Err)
		default:
			fmt.Printf("strategy=%s suspects=%d elapsed=%s\n", res.Strategy, len(res.Suspects), res.Elapsed.Round(time.Millisecond))
		}
	}

	if err := writeJSONLines(*output, results); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write findings: %v\n", err)
		return 1
	}
	fmt.Printf("analyzed events=%d output=%s\n", len(events), *output)
	return 0
}

func loadEventsJSONL(path string) ([]models.RequestEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []models.RequestEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.RequestEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "analyze":
			os.Exit(runAnalyze(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runServe(os.Args[1:])
			return
		}
	}

	runServe(nil)
}
