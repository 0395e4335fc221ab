package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"optiontree/model"
)

// Serialization defaults.
const (
	// DefaultHugeThreshold is the descendant count above which a subtree is huge.
	DefaultHugeThreshold = 100
	// DefaultTruncatedCount is how many descendants a huge subtree serializes.
	DefaultTruncatedCount = 10
)

// SerializedOption is the rendered form of an option.
type SerializedOption struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	NameTranslations map[string]string `json:"name_translations"`
	Value            *int              `json:"value,omitempty"`
	Latitude         *float64          `json:"latitude,omitempty"`
	Longitude        *float64          `json:"longitude,omitempty"`
	// SetNames lists the option sets using the option, comma separated.
	SetNames string `json:"set_names"`
}

// SerializedNode is one emitted node. Removable is nil when the tree was
// truncated.
type SerializedNode struct {
	ID        uuid.UUID         `json:"id"`
	Rank      int               `json:"rank"`
	Removable *bool             `json:"removable?,omitempty"`
	Option    *SerializedOption `json:"option"`
	Children  []*SerializedNode `json:"children,omitempty"`
}

// Tree is the serialized subtree below a node.
type Tree struct {
	NodeID               uuid.UUID         `json:"node_id"`
	Children             []*SerializedNode `json:"children"`
	Truncated            bool              `json:"truncated"`
	TotalOptions         int               `json:"total_options"`
	OptionsNotSerialized int               `json:"options_not_serialized"`
}

// Serializer renders subtrees, truncating huge ones.
type Serializer struct {
	HugeThreshold  int
	TruncatedCount int
}

// NewSerializer returns a Serializer with the given limits; non-positive
// values fall back to the defaults.
func NewSerializer(hugeThreshold, truncatedCount int) *Serializer {
	if hugeThreshold <= 0 {
		hugeThreshold = DefaultHugeThreshold
	}
	if truncatedCount <= 0 {
		truncatedCount = DefaultTruncatedCount
	}
	// a truncated tree must leave something out
	if truncatedCount > hugeThreshold {
		truncatedCount = hugeThreshold
	}
	return &Serializer{HugeThreshold: hugeThreshold, TruncatedCount: truncatedCount}
}

// Serialize renders the descendants of root. It never writes to st.
func (s *Serializer) Serialize(ctx context.Context, st Store, root *model.OptionNode) (*Tree, error) {
	total, err := st.CountDescendants(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("counting descendants of %s: %w", root.ID, err)
	}

	huge := total > s.HugeThreshold
	var nodes []*model.OptionNode
	if huge {
		nodes, err = FirstDescendants(ctx, st, root, s.TruncatedCount)
	} else {
		nodes, err = st.FindDescendants(ctx, root)
	}
	if err != nil {
		return nil, err
	}

	var removable map[uuid.UUID]bool
	if !huge {
		removable = make(map[uuid.UUID]bool, len(nodes))
		for _, n := range nodes {
			if !n.OptionID.Valid {
				removable[n.ID] = true
				continue
			}
			has, err := st.HasAnswersOrChoices(ctx, n.OptionID.UUID)
			if err != nil {
				return nil, fmt.Errorf("checking answers for option %s: %w", n.OptionID.UUID, err)
			}
			removable[n.ID] = !has
		}
	}

	setNames, err := optionSetNames(ctx, st, nodes)
	if err != nil {
		return nil, err
	}

	return &Tree{
		NodeID:               root.ID,
		Children:             arrange(root, nodes, removable, setNames),
		Truncated:            huge,
		TotalOptions:         total,
		OptionsNotSerialized: total - len(nodes),
	}, nil
}

func optionSetNames(ctx context.Context, st Store, nodes []*model.OptionNode) (map[uuid.UUID][]string, error) {
	seen := make(map[uuid.UUID]bool, len(nodes))
	ids := make([]uuid.UUID, 0, len(nodes))
	for _, n := range nodes {
		if n.OptionID.Valid && !seen[n.OptionID.UUID] {
			seen[n.OptionID.UUID] = true
			ids = append(ids, n.OptionID.UUID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	names, err := st.OptionSetNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading option set names: %w", err)
	}
	return names, nil
}

// FirstDescendants returns up to count descendants of root in pre-order:
// each node is followed by its own descendants before its next sibling.
func FirstDescendants(ctx context.Context, st Store, root *model.OptionNode, count int) ([]*model.OptionNode, error) {
	out := make([]*model.OptionNode, 0, count)
	if count <= 0 {
		return out, nil
	}

	children, err := st.FindChildren(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading children of %s: %w", root.ID, err)
	}
	stack := make([]*model.OptionNode, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, children[i])
	}

	for len(stack) > 0 && len(out) < count {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		if len(out) == count {
			break
		}
		kids, err := st.FindChildren(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("loading children of %s: %w", n.ID, err)
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out, nil
}

// arrange nests nodes under root. Every node's parent must be root or
// another member of nodes.
func arrange(root *model.OptionNode, nodes []*model.OptionNode, removable map[uuid.UUID]bool, setNames map[uuid.UUID][]string) []*SerializedNode {
	ordered := make([]*model.OptionNode, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Depth != ordered[j].Depth {
			return ordered[i].Depth < ordered[j].Depth
		}
		return ordered[i].Rank < ordered[j].Rank
	})

	top := []*SerializedNode{}
	byID := make(map[uuid.UUID]*SerializedNode, len(ordered))
	for _, n := range ordered {
		sn := &SerializedNode{ID: n.ID, Rank: n.Rank, Option: renderOption(n.Option)}
		if sn.Option != nil {
			sn.Option.SetNames = strings.Join(setNames[sn.Option.ID], ", ")
		}
		if removable != nil {
			r := removable[n.ID]
			sn.Removable = &r
		}
		byID[n.ID] = sn

		parentID := n.ParentID()
		if parentID == root.ID {
			top = append(top, sn)
			continue
		}
		if parent, ok := byID[parentID]; ok {
			parent.Children = append(parent.Children, sn)
		}
	}
	return top
}

func renderOption(o *model.Option) *SerializedOption {
	if o == nil {
		return nil
	}
	names := make(map[string]string, len(o.NameTranslations))
	for k, v := range o.NameTranslations {
		names[k] = v
	}
	return &SerializedOption{
		ID:               o.ID,
		Name:             o.Name(),
		NameTranslations: names,
		Value:            o.Value,
		Latitude:         o.Latitude,
		Longitude:        o.Longitude,
	}
}

// Count returns the number of nodes in the serialized forest.
func (t *Tree) Count() int {
	n := 0
	stack := append([]*SerializedNode{}, t.Children...)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = append(stack, top.Children...)
	}
	return n
}
