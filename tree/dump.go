package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"optiontree/model"
)

// Dump renders node's subtree as indented text, one node per line, two
// spaces per level, each line starting with the node's rank. When set has
// level names the option name is prefixed with the level of its depth.
func Dump(ctx context.Context, st Store, node *model.OptionNode, set *model.OptionSet) (string, error) {
	nodes, err := st.FindDescendants(ctx, node)
	if err != nil {
		return "", fmt.Errorf("loading descendants of %s: %w", node.ID, err)
	}
	byParent := make(map[uuid.UUID][]*model.OptionNode)
	for _, n := range nodes {
		byParent[n.ParentID()] = append(byParent[n.ParentID()], n)
	}
	for _, group := range byParent {
		sortByRank(group)
	}

	var b strings.Builder
	b.WriteString(label(node, set))
	b.WriteByte('\n')

	stack := reversed(byParent[node.ID])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		b.WriteString(strings.Repeat("  ", n.Depth-node.Depth))
		fmt.Fprintf(&b, "%d. %s", n.Rank, label(n, set))
		b.WriteByte('\n')
		stack = append(stack, reversed(byParent[n.ID])...)
	}
	return b.String(), nil
}

func label(n *model.OptionNode, set *model.OptionSet) string {
	if n.Option == nil {
		if n.IsRoot() {
			return "(root)"
		}
		return "(no option)"
	}
	name := n.Option.Name()
	if set != nil {
		if level := set.Level(n.Depth); level != "" {
			return level + ": " + name
		}
	}
	return name
}

func sortByRank(nodes []*model.OptionNode) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Rank < nodes[j].Rank })
}

func reversed(nodes []*model.OptionNode) []*model.OptionNode {
	out := make([]*model.OptionNode, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}
