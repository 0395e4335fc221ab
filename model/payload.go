package model

import "github.com/google/uuid"

// ChildDescription is one entry of a desired-children list.
//
// With a non-nil ID it refers to an existing direct child; otherwise it asks
// for a new child. A nil Children leaves the child's existing subtree
// untouched, while a non-nil empty slice removes every child below it.
type ChildDescription struct {
	ID       uuid.UUID          `json:"id" yaml:"id"`
	Option   *OptionAttribs     `json:"option,omitempty" yaml:"option,omitempty"`
	Children []ChildDescription `json:"children" yaml:"children"`
}

// OptionAttribs is an option payload. With an ID it reuses that existing
// option; the remaining fields are applied only when present.
type OptionAttribs struct {
	ID               uuid.UUID         `json:"id" yaml:"id"`
	NameTranslations map[string]string `json:"name_translations,omitempty" yaml:"name_translations,omitempty"`
	Value            *int              `json:"value,omitempty" yaml:"value,omitempty"`
	Latitude         *float64          `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude        *float64          `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Coordinates      *string           `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// Named is a shorthand for a new-option payload with a single English name.
func Named(name string) *OptionAttribs {
	return &OptionAttribs{NameTranslations: map[string]string{DefaultLocale: name}}
}

// NewChild describes a child to create with a new option called name.
func NewChild(name string, children ...ChildDescription) ChildDescription {
	d := ChildDescription{Option: Named(name)}
	if len(children) > 0 {
		d.Children = children
	}
	return d
}

// ExistingChild refers to an existing child by id without touching its subtree.
func ExistingChild(id uuid.UUID) ChildDescription {
	return ChildDescription{ID: id}
}
