package tree_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"optiontree/memstore"
	"optiontree/model"
	"optiontree/tree"
)

func newSet(t *testing.T, st *memstore.Store) (*model.OptionSet, *model.OptionNode) {
	t.Helper()
	ctx := context.Background()
	set := &model.OptionSet{ID: uuid.New(), Name: "Animals"}
	root := &model.OptionNode{ID: uuid.New(), Ancestry: model.AncestorPath{}, OptionSetID: set.ID}
	set.RootNodeID = root.ID
	require.NoError(t, st.CreateOptionSet(ctx, set))
	require.NoError(t, st.CreateNode(ctx, root))
	return set, root
}

func reconcile(t *testing.T, st *memstore.Store, node *model.OptionNode, desired []model.ChildDescription) tree.Report {
	t.Helper()
	rep, err := tryReconcile(st, node, desired)
	require.NoError(t, err)
	return rep
}

func tryReconcile(st *memstore.Store, node *model.OptionNode, desired []model.ChildDescription) (tree.Report, error) {
	var rep tree.Report
	err := st.WithTx(context.Background(), func(s tree.Store) error {
		var err error
		rep, err = tree.NewEngine(nil).Reconcile(context.Background(), s, node, desired)
		return err
	})
	return rep, err
}

func children(t *testing.T, st *memstore.Store, node *model.OptionNode) []*model.OptionNode {
	t.Helper()
	kids, err := st.FindChildren(context.Background(), node)
	require.NoError(t, err)
	return kids
}

func names(nodes []*model.OptionNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Option.Name())
	}
	return out
}

func ranks(nodes []*model.OptionNode) []int {
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Rank)
	}
	return out
}

// same re-describes nodes by id without touching their subtrees.
func same(nodes []*model.OptionNode) []model.ChildDescription {
	out := make([]model.ChildDescription, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.ExistingChild(n.ID))
	}
	return out
}

func childByName(t *testing.T, st *memstore.Store, node *model.OptionNode, name string) *model.OptionNode {
	t.Helper()
	for _, c := range children(t, st, node) {
		if c.Option.Name() == name {
			return c
		}
	}
	t.Fatalf("no child named %q under %s", name, node.ID)
	return nil
}
