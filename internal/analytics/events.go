// Package analytics records assignment activity as Kafka events and
// aggregates it into service-level statistics.
package analytics

import "time"

type EventType string

const (
	EventAssign          EventType = "assign"
	EventAssignFormation EventType = "assign_formation"
	EventAssignError     EventType = "assign_error"
)

// AssignmentEvent describes one assignment request as seen by the service.
type AssignmentEvent struct {
	Type          EventType `json:"type"`
	Formation     string    `json:"formation,omitempty"`
	Agents        int       `json:"agents"`
	Proposals     int       `json:"proposals"`
	Rejections    int       `json:"rejections"`
	Displacements int       `json:"displacements"`
	TotalCost     float64   `json:"total_cost"`
	LatencyMs     float64   `json:"latency_ms"`
	CacheHit      bool      `json:"cache_hit"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Failed reports whether the event records a failed request.
func (e AssignmentEvent) Failed() bool {
	return e.Type == EventAssignError || e.Error != ""
}
