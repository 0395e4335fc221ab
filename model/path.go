package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PathSeparator separates ancestor ids in an encoded AncestorPath.
const PathSeparator = "/"

// AncestorPath is the ordered list of ancestor node ids from the tree root
// down to, but excluding, a node. The root's path is empty.
type AncestorPath []uuid.UUID

// ParsePath decodes an encoded ancestry string. The empty string is the root path.
func ParsePath(s string) (AncestorPath, error) {
	if s == "" {
		return AncestorPath{}, nil
	}
	parts := strings.Split(s, PathSeparator)
	path := make(AncestorPath, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parsing ancestry %q: %w", s, err)
		}
		path = append(path, id)
	}
	return path, nil
}

// Encode returns the storage form of the path: ids joined by PathSeparator.
func (p AncestorPath) Encode() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for i, id := range p {
		if i > 0 {
			b.WriteString(PathSeparator)
		}
		b.WriteString(id.String())
	}
	return b.String()
}

func (p AncestorPath) String() string {
	return p.Encode()
}

// Depth is the number of ancestors.
func (p AncestorPath) Depth() int {
	return len(p)
}

// Contains reports whether id is one of the ancestors.
func (p AncestorPath) Contains(id uuid.UUID) bool {
	for _, a := range p {
		if a == id {
			return true
		}
	}
	return false
}

// Parent returns the immediate ancestor, or uuid.Nil for a root path.
func (p AncestorPath) Parent() uuid.UUID {
	if len(p) == 0 {
		return uuid.Nil
	}
	return p[len(p)-1]
}

// Child returns the path a direct child of the node with this path and
// the given id would carry. The receiver is not modified.
func (p AncestorPath) Child(id uuid.UUID) AncestorPath {
	out := make(AncestorPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// HasPrefix reports whether every element of prefix leads this path.
func (p AncestorPath) HasPrefix(prefix AncestorPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both paths list the same ancestors.
func (p AncestorPath) Equal(other AncestorPath) bool {
	return len(p) == len(other) && p.HasPrefix(other)
}
