package models

import "time"

// Action is the mitigation decision for one source update.
type Action string

const (
	ActionNone      Action = "none"
	ActionRateLimit Action = "rate_limit"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// Severity classifies a block and controls its duration.
type Severity string

const (
	SeverityLight  Severity = "light"
	SeverityMedium Severity = "medium"
	SeveritySevere Severity = "severe"
)

// Rank orders severities so re-blocks never downgrade.
func (s Severity) Rank() int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLight:
		return 1
	default:
		return 0
	}
}

// BlockRecord is the enforcement state for one blocked source. ExpiresAt nil
// means the block is permanent.
type BlockRecord struct {
	SourceID  string     `json:"source_id"`
	Severity  Severity   `json:"severity"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Active reports whether the block is still in force at the given time.
func (b *BlockRecord) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// MitigationAction is one entry of the bounded action audit log.
type MitigationAction struct {
	ID        string    `json:"action_id"`
	Timestamp time.Time `json:"ts"`
	SourceID  string    `json:"source_id"`
	Action    Action    `json:"action"`
	Severity  Severity  `json:"severity,omitempty"`
	Threat    float64   `json:"threat_level"`
}
