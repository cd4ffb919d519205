package pipeline

import "ddosguard/pkg/models"

// MetricsWriter persists window metrics and anomaly records.
type MetricsWriter interface {
	WriteMetrics(rows []*models.WindowMetrics) error
	WriteAnomalies(rows []*models.AnomalyRecord) error
	Close() error
}

// ActionWriter persists the mitigation action audit log.
type ActionWriter interface {
	WriteActions(actions []*models.MitigationAction) error
	Close() error
}
