package tree

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"optiontree/model"
)

// PreloadChildOptions attaches each root's rank-ordered child options using a
// single storage query, however many roots are given.
func PreloadChildOptions(ctx context.Context, st Store, roots []*model.OptionNode) error {
	if len(roots) == 0 {
		return nil
	}
	children, err := st.FindChildrenOfAny(ctx, roots)
	if err != nil {
		return fmt.Errorf("preloading child options: %w", err)
	}

	byParent := make(map[uuid.UUID][]*model.OptionNode, len(roots))
	for _, c := range children {
		byParent[c.ParentID()] = append(byParent[c.ParentID()], c)
	}

	for _, r := range roots {
		group := byParent[r.ID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Rank < group[j].Rank })
		opts := make([]*model.Option, 0, len(group))
		for _, c := range group {
			if c.Option != nil {
				opts = append(opts, c.Option)
			}
		}
		r.ChildOptions = opts
	}
	return nil
}
