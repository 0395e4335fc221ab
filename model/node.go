// Package model defines options, option nodes and option sets.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OptionNode is a vertex in an option set's hierarchy. The root node carries
// no option and has depth 0.
type OptionNode struct {
	ID          uuid.UUID     `json:"id"`
	Ancestry    AncestorPath  `json:"-"`
	Depth       int           `json:"depth"`
	Rank        int           `json:"rank"`
	OptionSetID uuid.UUID     `json:"option_set_id"`
	OptionID    uuid.NullUUID `json:"option_id"`
	MissionID   uuid.NullUUID `json:"mission_id"`
	StandardID  uuid.NullUUID `json:"standard_id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// Option is the loaded option, nil for the root or when not loaded.
	Option *Option `json:"option,omitempty"`

	// ChildOptions is attached by a bulk preload and lives only as long as
	// the request that loaded it.
	ChildOptions []*Option `json:"-"`
}

// IsRoot reports whether the node is the root of its option set.
func (n *OptionNode) IsRoot() bool {
	return len(n.Ancestry) == 0
}

// ParentID returns the id of the parent node, or uuid.Nil for the root.
func (n *OptionNode) ParentID() uuid.UUID {
	return n.Ancestry.Parent()
}

// ChildAncestry is the ancestry every direct child of n carries.
func (n *OptionNode) ChildAncestry() AncestorPath {
	return n.Ancestry.Child(n.ID)
}

// IsAncestorOf reports whether n is a strict ancestor of other.
func (n *OptionNode) IsAncestorOf(other *OptionNode) bool {
	return other.Ancestry.Contains(n.ID)
}

// Clone returns a copy that does not share the ancestry slice or option.
func (n *OptionNode) Clone() *OptionNode {
	c := *n
	c.Ancestry = append(AncestorPath{}, n.Ancestry...)
	if n.Option != nil {
		c.Option = n.Option.Clone()
	}
	c.ChildOptions = nil
	return &c
}

// Clone returns a deep copy of the option.
func (o *Option) Clone() *Option {
	c := *o
	if o.NameTranslations != nil {
		c.NameTranslations = make(map[string]string, len(o.NameTranslations))
		for k, v := range o.NameTranslations {
			c.NameTranslations[k] = v
		}
	}
	if o.Value != nil {
		v := *o.Value
		c.Value = &v
	}
	if o.Latitude != nil {
		v := *o.Latitude
		c.Latitude = &v
	}
	if o.Longitude != nil {
		v := *o.Longitude
		c.Longitude = &v
	}
	return &c
}
