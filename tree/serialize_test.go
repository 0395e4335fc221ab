package tree_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiontree/memstore"
	"optiontree/model"
	"optiontree/tree"
)

func TestSerializeSmallTree(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("Canada", model.NewChild("Ottawa"), model.NewChild("Toronto")),
		model.NewChild("Brazil"),
	})
	ottawa := childByName(t, st, childByName(t, st, root, "Canada"), "Ottawa")
	st.RecordChoice(ottawa.OptionID.UUID)

	out, err := tree.NewSerializer(0, 0).Serialize(context.Background(), st, root)
	require.NoError(t, err)

	assert.False(t, out.Truncated)
	assert.Equal(t, 4, out.TotalOptions)
	assert.Zero(t, out.OptionsNotSerialized)
	assert.Equal(t, 4, out.Count())
	require.Len(t, out.Children, 2)

	canada := out.Children[0]
	assert.Equal(t, "Canada", canada.Option.Name)
	assert.Equal(t, 1, canada.Rank)
	require.NotNil(t, canada.Removable)
	assert.True(t, *canada.Removable)
	require.Len(t, canada.Children, 2)
	assert.Equal(t, "Ottawa", canada.Children[0].Option.Name)
	assert.False(t, *canada.Children[0].Removable)
	assert.Equal(t, 2, canada.Children[1].Rank)
	assert.Empty(t, out.Children[1].Children)
}

func TestSerializeHugeTreeIsTruncated(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)

	var regions []model.ChildDescription
	for i := 1; i <= 12; i++ {
		var towns []model.ChildDescription
		for j := 1; j <= 9; j++ {
			towns = append(towns, model.NewChild(fmt.Sprintf("Town %d-%d", i, j)))
		}
		regions = append(regions, model.NewChild(fmt.Sprintf("Region %d", i), towns...))
	}
	reconcile(t, st, root, regions)

	out, err := tree.NewSerializer(tree.DefaultHugeThreshold, tree.DefaultTruncatedCount).Serialize(context.Background(), st, root)
	require.NoError(t, err)

	assert.True(t, out.Truncated)
	assert.Equal(t, 120, out.TotalOptions)
	assert.Equal(t, tree.DefaultTruncatedCount, out.Count())
	assert.Equal(t, 120-tree.DefaultTruncatedCount, out.OptionsNotSerialized)

	// pre-order: Region 1 with all nine towns fits exactly
	require.Len(t, out.Children, 1)
	first := out.Children[0]
	assert.Equal(t, "Region 1", first.Option.Name)
	assert.Nil(t, first.Removable)
	require.Len(t, first.Children, 9)
	assert.Equal(t, "Town 1-1", first.Children[0].Option.Name)
	assert.Equal(t, "Town 1-9", first.Children[8].Option.Name)
}

func TestSerializeThresholdIsExclusive(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("A"), model.NewChild("B"), model.NewChild("C"),
	})

	out, err := tree.NewSerializer(3, 1).Serialize(context.Background(), st, root)
	require.NoError(t, err)
	assert.False(t, out.Truncated)
	assert.Equal(t, 3, out.Count())

	out, err = tree.NewSerializer(2, 1).Serialize(context.Background(), st, root)
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, 1, out.Count())
	assert.Equal(t, 2, out.OptionsNotSerialized)
	assert.Equal(t, "A", out.Children[0].Option.Name)
}

func TestSerializeDoesNotWrite(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("A", model.NewChild("B"))})
	st.ResetQueries()

	_, err := tree.NewSerializer(0, 0).Serialize(context.Background(), st, root)
	require.NoError(t, err)
	for _, m := range []string{"CreateNode", "UpdateNode", "DestroyCascade", "SaveOption"} {
		assert.Zero(t, st.Queries(m), m)
	}
}

func TestFirstDescendantsPreOrder(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("A", model.NewChild("A1", model.NewChild("A1a")), model.NewChild("A2")),
		model.NewChild("B"),
	})

	nodes, err := tree.FirstDescendants(context.Background(), st, root, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A1", "A1a", "A2"}, names(nodes))

	nodes, err = tree.FirstDescendants(context.Background(), st, root, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A1", "A1a", "A2", "B"}, names(nodes))
}

func TestTruncatedCountIsCappedByThreshold(t *testing.T) {
	s := tree.NewSerializer(3, 10)
	assert.Equal(t, 3, s.TruncatedCount)

	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("A"), model.NewChild("B"), model.NewChild("C"), model.NewChild("D"),
	})

	out, err := s.Serialize(context.Background(), st, root)
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, 3, out.Count())
	assert.Equal(t, 1, out.OptionsNotSerialized)
}

func TestSerializeListsSetNames(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	_, animals := newSet(t, st)
	reconcile(t, st, animals, []model.ChildDescription{model.NewChild("Cat")})
	cat := childByName(t, st, animals, "Cat")

	pets := &model.OptionSet{ID: uuid.New(), Name: "Pets"}
	petsRoot := &model.OptionNode{ID: uuid.New(), Ancestry: model.AncestorPath{}, OptionSetID: pets.ID}
	pets.RootNodeID = petsRoot.ID
	require.NoError(t, st.CreateOptionSet(ctx, pets))
	require.NoError(t, st.CreateNode(ctx, petsRoot))
	reconcile(t, st, petsRoot, []model.ChildDescription{
		{Option: &model.OptionAttribs{ID: cat.OptionID.UUID}},
	})

	st.ResetQueries()
	out, err := tree.NewSerializer(0, 0).Serialize(ctx, st, animals)
	require.NoError(t, err)
	require.Len(t, out.Children, 1)
	assert.Equal(t, "Animals, Pets", out.Children[0].Option.SetNames)
	assert.Equal(t, 1, st.Queries("OptionSetNames"))
}
