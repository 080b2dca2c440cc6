// Package proto defines the request and response messages shared by the HTTP
// API and the JSON-over-TCP RPC layer (see pkg/rpc).
package proto

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
)

// RPC method names.
const (
	MethodAssign          = "AssignmentService.Assign"
	MethodAssignFormation = "AssignmentService.AssignFormation"
	MethodAssignBatch     = "AssignmentService.AssignBatch"
)

// ---------- Assignment ----------

// AssignRequest carries one instance: agent positions in identifier order
// and the target slots.
type AssignRequest struct {
	Agents  []assignment.Point `json:"agents"`
	Targets []assignment.Point `json:"targets"`
	Verify  bool               `json:"verify,omitempty"`
}

// FormationAssignRequest assigns agents to a stored formation's slots.
type FormationAssignRequest struct {
	Formation string             `json:"formation"`
	Agents    []assignment.Point `json:"agents"`
	Verify    bool               `json:"verify,omitempty"`
}

// AssignResponse maps agent identifier (1-based) to its slot.
type AssignResponse struct {
	Formation     string                    `json:"formation,omitempty"`
	Assignments   map[int]assignment.Point  `json:"assignments"`
	AgentTarget   []int                     `json:"agent_target"`
	Proposals     int                       `json:"proposals"`
	Rejections    int                       `json:"rejections"`
	Displacements int                       `json:"displacements"`
	TotalCost     float64                   `json:"total_cost"`
	CacheHit      bool                      `json:"cache_hit"`
	Stable        *bool                     `json:"stable,omitempty"`
	BlockingPairs []assignment.BlockingPair `json:"blocking_pairs,omitempty"`
}

// BatchAssignRequest bundles independent instances, e.g. one per team.
type BatchAssignRequest struct {
	Instances []AssignRequest `json:"instances"`
}

// BatchAssignResponse holds results in request order.
type BatchAssignResponse struct {
	Results []AssignResponse `json:"results"`
}

// ---------- Formations ----------

// FormationRequest creates a formation.
type FormationRequest struct {
	Name  string             `json:"name"`
	Slots []assignment.Point `json:"slots"`
}

// FormationResponse describes a stored formation.
type FormationResponse struct {
	Name      string             `json:"name"`
	Slots     []assignment.Point `json:"slots"`
	CreatedAt time.Time          `json:"created_at"`
}

// FormationListResponse is returned by the list endpoint.
type FormationListResponse struct {
	Formations []FormationResponse `json:"formations"`
	Total      int                 `json:"total"`
}
