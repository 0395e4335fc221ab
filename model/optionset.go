package model

import (
	"time"

	"github.com/google/uuid"
)

// OptionSet is one complete selectable hierarchy. It owns exactly one root node.
type OptionSet struct {
	ID               uuid.UUID           `json:"id"`
	Name             string              `json:"name"`
	MissionID        uuid.NullUUID       `json:"mission_id"`
	StandardID       uuid.NullUUID       `json:"standard_id"`
	RootNodeID       uuid.UUID           `json:"root_node_id"`
	LevelNames       []map[string]string `json:"level_names,omitempty"`
	Geographic       bool                `json:"geographic"`
	AllowCoordinates bool                `json:"allow_coordinates"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Multilevel reports whether the set defines named levels.
func (s *OptionSet) Multilevel() bool {
	return len(s.LevelNames) > 0
}

// Level returns the level name for nodes at depth, or "" for the root and
// for depths with no defined level.
func (s *OptionSet) Level(depth int) string {
	if depth < 1 || depth > len(s.LevelNames) {
		return ""
	}
	return preferredName(s.LevelNames[depth-1])
}
