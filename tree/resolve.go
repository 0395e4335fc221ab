package tree

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"optiontree/model"
)

// Resolve follows path, a sequence of option ids from node downward, and
// returns the node at its end. An empty path yields node itself. A path with
// a uuid.Nil element, or one that leaves the tree, yields nil.
func Resolve(ctx context.Context, st Store, node *model.OptionNode, path []uuid.UUID) (*model.OptionNode, error) {
	for _, id := range path {
		if id == uuid.Nil {
			return nil, nil
		}
	}

	cur := node
	for _, optionID := range path {
		children, err := st.FindChildren(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("loading children of %s: %w", cur.ID, err)
		}
		var next *model.OptionNode
		for _, c := range children {
			if c.OptionID.Valid && c.OptionID.UUID == optionID {
				next = c
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

// ChildrenForPath returns the rank-ordered child options of the node path
// resolves to. It is empty when resolution fails or the node is a leaf.
func ChildrenForPath(ctx context.Context, st Store, node *model.OptionNode, path []uuid.UUID) ([]*model.Option, error) {
	target, err := Resolve(ctx, st, node, path)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return []*model.Option{}, nil
	}
	return ChildOptions(ctx, st, target)
}

// ChildOptions returns node's child options ordered by rank, preferring
// options attached by a preload.
func ChildOptions(ctx context.Context, st Store, node *model.OptionNode) ([]*model.Option, error) {
	if node.ChildOptions != nil {
		return node.ChildOptions, nil
	}
	children, err := st.FindChildren(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("loading children of %s: %w", node.ID, err)
	}
	out := make([]*model.Option, 0, len(children))
	for _, c := range children {
		if c.Option != nil {
			out = append(out, c.Option)
		}
	}
	return out, nil
}
