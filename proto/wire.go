// Package proto defines wire format DTOs for the optiontree HTTP API.
package proto

import (
	"github.com/google/uuid"

	"optiontree/model"
	"optiontree/service"
	"optiontree/tree"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports server health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Open    int    `json:"openMissions,omitempty"`
}

// CreateMissionRequest creates a mission database.
type CreateMissionRequest struct {
	Name string `json:"name"`
}

// MissionResponse describes one mission.
type MissionResponse struct {
	Name string `json:"name"`
}

// MissionsListResponse lists missions.
type MissionsListResponse struct {
	Missions []string `json:"missions"`
}

// CreateOptionSetRequest is service.NewOptionSet on the wire.
type CreateOptionSetRequest = service.NewOptionSet

// OptionSetResponse returns an option set with its subtree statistics.
type OptionSetResponse struct {
	OptionSet *model.OptionSet `json:"optionSet"`
	Stats     *service.Stats   `json:"stats,omitempty"`
	Report    *tree.Report     `json:"report,omitempty"`
}

// ReconcileRequest carries the desired children of a node.
type ReconcileRequest struct {
	Children []model.ChildDescription `json:"children"`
}

// ReconcileResponse returns the change report.
type ReconcileResponse struct {
	NodeID uuid.UUID   `json:"nodeId"`
	Report tree.Report `json:"report"`
}

// ResolveResponse is the outcome of a path resolution. Node is nil when the
// path did not resolve.
type ResolveResponse struct {
	Node     *model.OptionNode `json:"node"`
	Children []*model.Option   `json:"children"`
}

// PreloadRequest lists the nodes to preload.
type PreloadRequest struct {
	NodeIDs []uuid.UUID `json:"nodeIds"`
}

// PreloadEntry is one preloaded node.
type PreloadEntry struct {
	NodeID       uuid.UUID       `json:"nodeId"`
	ChildOptions []*model.Option `json:"childOptions"`
}

// PreloadResponse returns preloaded child options in request order.
type PreloadResponse struct {
	Nodes []PreloadEntry `json:"nodes"`
}

// SearchResponse lists glob matches.
type SearchResponse struct {
	Matches []tree.Match `json:"matches"`
}

// OptionSetsListResponse lists the option sets of a mission.
type OptionSetsListResponse struct {
	OptionSets []*model.OptionSet `json:"optionSets"`
}
