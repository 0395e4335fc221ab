package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"optiontree/model"
)

// Match is one search hit.
type Match struct {
	// Path is the slash-joined option names from the searched node down to Node.
	Path string            `json:"path"`
	Node *model.OptionNode `json:"node"`
}

// ValidatePattern reports whether pattern is a well-formed glob.
func ValidatePattern(pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return newError(ErrValidation, "search", uuid.Nil, fmt.Errorf("invalid pattern %q", pattern))
	}
	return nil
}

// Search matches pattern against the name path of every descendant of node.
// Names are compared case-insensitively and "/" inside a name is escaped as
// "_". Matches come back in depth then rank order.
func Search(ctx context.Context, st Store, node *model.OptionNode, pattern string) ([]Match, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	pattern = strings.ToLower(pattern)

	nodes, err := st.FindDescendants(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("loading descendants of %s: %w", node.ID, err)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].Rank < nodes[j].Rank
	})

	paths := map[uuid.UUID]string{node.ID: ""}
	var out []Match
	for _, n := range nodes {
		prefix, ok := paths[n.ParentID()]
		if !ok {
			continue
		}
		seg := "_"
		if n.Option != nil && n.Option.CanonicalName != "" {
			seg = strings.ReplaceAll(strings.ToLower(n.Option.CanonicalName), "/", "_")
		}
		p := seg
		if prefix != "" {
			p = prefix + "/" + seg
		}
		paths[n.ID] = p

		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return nil, newError(ErrValidation, "search", uuid.Nil, err)
		}
		if ok {
			out = append(out, Match{Path: p, Node: n})
		}
	}
	return out, nil
}
