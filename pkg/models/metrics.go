package models

import "time"

// WindowMetrics is an immutable snapshot of the live traffic window.
type WindowMetrics struct {
	Timestamp         time.Time `json:"ts"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	UniqueSources     int       `json:"unique_sources"`
	Entropy           float64   `json:"entropy"`
	BurstScore        float64   `json:"burst_score"`
	TotalRequests     int       `json:"total_requests"`
}

// AnomalyRecord captures one detector invocation for later inspection.
type AnomalyRecord struct {
	Timestamp     time.Time `json:"ts"`
	Score         float64   `json:"score"`
	Entropy       float64   `json:"entropy"`
	BurstScore    float64   `json:"burst_score"`
	UniqueSources int       `json:"unique_sources"`
	TotalRequests int       `json:"total_requests"`
}

// BaselineProfile summarizes the metrics history of a calm period.
type BaselineProfile struct {
	CreatedAt        time.Time `json:"created_at"`
	Samples          int       `json:"samples"`
	AvgRPS           float64   `json:"avg_rps"`
	StdRPS           float64   `json:"std_rps"`
	AvgUniqueSources float64   `json:"avg_unique_sources"`
	StdUniqueSources float64   `json:"std_unique_sources"`
	AvgEntropy       float64   `json:"avg_entropy"`
	StdEntropy       float64   `json:"std_entropy"`
}
