package models

import "time"

// RequestEvent is a single parsed request observation from the traffic source.
type RequestEvent struct {
	SourceID  string    `json:"source_id"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	Timestamp time.Time `json:"ts"`
}
