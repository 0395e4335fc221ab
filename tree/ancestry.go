// Package tree implements the option tree engine: lineage queries over
// ancestor paths, reconciliation of desired children, size-bounded
// serialization, cascading path resolution and bulk preloading.
package tree

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"optiontree/model"
)

// Index answers lineage queries for nodes stored in a Store.
type Index struct {
	store Store
}

// NewIndex returns an Index backed by s.
func NewIndex(s Store) *Index {
	return &Index{store: s}
}

// ChildrenOf returns the direct children of node ordered by rank.
func (ix *Index) ChildrenOf(ctx context.Context, node *model.OptionNode) ([]*model.OptionNode, error) {
	children, err := ix.store.FindChildren(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("loading children of %s: %w", node.ID, err)
	}
	return children, nil
}

// DescendantsOf returns every node below node in one storage query.
func (ix *Index) DescendantsOf(ctx context.Context, node *model.OptionNode) ([]*model.OptionNode, error) {
	nodes, err := ix.store.FindDescendants(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("loading descendants of %s: %w", node.ID, err)
	}
	return nodes, nil
}

// DepthOf returns the cached depth, the length of the node's ancestor path.
func DepthOf(node *model.OptionNode) int {
	return node.Depth
}

// IsAncestor reports whether a is a strict ancestor of b.
func IsAncestor(a, b *model.OptionNode) bool {
	return a.IsAncestorOf(b)
}

// SetParent places a not-yet-persisted node under parent, assigning its
// ancestry and cached depth. A nil parent makes node a root. Moving a node
// that already exists under another parent fails with ErrInvalidOperation.
func (ix *Index) SetParent(ctx context.Context, node, parent *model.OptionNode) error {
	var ancestry model.AncestorPath
	if parent != nil {
		if parent.ID == node.ID && node.ID != uuid.Nil {
			return newError(ErrInvalidOperation, "set parent", node.ID, fmt.Errorf("node cannot be its own parent"))
		}
		if IsAncestor(node, parent) {
			return newError(ErrInvalidOperation, "set parent", node.ID, fmt.Errorf("node cannot descend from itself"))
		}
		ancestry = parent.ChildAncestry()
	} else {
		ancestry = model.AncestorPath{}
	}

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	} else {
		existing, err := ix.store.FindNode(ctx, node.ID)
		switch {
		case err == nil:
			if !existing.Ancestry.Equal(ancestry) {
				return newError(ErrInvalidOperation, "set parent", node.ID, fmt.Errorf("re-parenting an existing node is not supported"))
			}
		case KindOf(err) == ErrNotFound:
		default:
			return fmt.Errorf("checking node %s: %w", node.ID, err)
		}
	}

	node.Ancestry = ancestry
	node.Depth = ancestry.Depth()
	return nil
}

// TotalOptions counts the descendants of node.
func (ix *Index) TotalOptions(ctx context.Context, node *model.OptionNode) (int, error) {
	n, err := ix.store.CountDescendants(ctx, node)
	if err != nil {
		return 0, fmt.Errorf("counting descendants of %s: %w", node.ID, err)
	}
	return n, nil
}

// MaxDepth returns the greatest depth found in node's subtree, or node's own
// depth when it is a leaf.
func (ix *Index) MaxDepth(ctx context.Context, node *model.OptionNode) (int, error) {
	nodes, err := ix.DescendantsOf(ctx, node)
	if err != nil {
		return 0, err
	}
	max := DepthOf(node)
	for _, n := range nodes {
		if d := DepthOf(n); d > max {
			max = d
		}
	}
	return max, nil
}

// HasGrandchildren reports whether any node sits two levels below node.
func (ix *Index) HasGrandchildren(ctx context.Context, node *model.OptionNode) (bool, error) {
	max, err := ix.MaxDepth(ctx, node)
	if err != nil {
		return false, err
	}
	return max-node.Depth >= 2, nil
}

// AllOptions returns the distinct options referenced anywhere below node.
func (ix *Index) AllOptions(ctx context.Context, node *model.OptionNode) ([]*model.Option, error) {
	nodes, err := ix.DescendantsOf(ctx, node)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(nodes))
	out := make([]*model.Option, 0, len(nodes))
	for _, n := range nodes {
		if n.Option == nil {
			continue
		}
		if _, ok := seen[n.Option.ID]; ok {
			continue
		}
		seen[n.Option.ID] = struct{}{}
		out = append(out, n.Option)
	}
	return out, nil
}
