package tree_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiontree/memstore"
	"optiontree/model"
	"optiontree/tree"
)

func TestReconcileCreatesRankedChildren(t *testing.T) {
	st := memstore.New()
	set, root := newSet(t, st)

	rep := reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("Canada", model.NewChild("Ottawa"), model.NewChild("Toronto")),
		model.NewChild("Brazil"),
	})
	assert.Equal(t, tree.Report{OptionsAdded: true}, rep)

	top := children(t, st, root)
	require.Len(t, top, 2)
	assert.Equal(t, []string{"Canada", "Brazil"}, names(top))
	assert.Equal(t, []int{1, 2}, ranks(top))

	canada := top[0]
	assert.Equal(t, 1, canada.Depth)
	assert.Equal(t, set.ID, canada.OptionSetID)
	assert.Equal(t, model.AncestorPath{root.ID}, canada.Ancestry)

	cities := children(t, st, canada)
	assert.Equal(t, []string{"Ottawa", "Toronto"}, names(cities))
	assert.Equal(t, []int{1, 2}, ranks(cities))
	assert.Equal(t, 2, cities[0].Depth)
	assert.True(t, canada.IsAncestorOf(cities[1]))
	assert.True(t, root.IsAncestorOf(cities[1]))
}

func TestReconcileCatDogRat(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("Cat"), model.NewChild("Dog")})
	cat := childByName(t, st, root, "Cat")
	dog := childByName(t, st, root, "Dog")

	rep := reconcile(t, st, root, []model.ChildDescription{
		model.ExistingChild(dog.ID),
		model.NewChild("Rat"),
	})
	assert.Equal(t, tree.Report{RanksChanged: true, OptionsAdded: true, OptionsRemoved: true}, rep)

	top := children(t, st, root)
	assert.Equal(t, []string{"Dog", "Rat"}, names(top))
	assert.Equal(t, []int{1, 2}, ranks(top))
	assert.Equal(t, dog.ID, top[0].ID)

	_, err := st.FindNode(context.Background(), cat.ID)
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestReconcileIsIdempotent(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("A", model.NewChild("A1")),
		model.NewChild("B"),
		model.NewChild("C"),
	})

	top := children(t, st, root)
	desired := make([]model.ChildDescription, 0, len(top))
	for _, n := range top {
		desired = append(desired, model.ChildDescription{
			ID:       n.ID,
			Option:   &model.OptionAttribs{ID: n.OptionID.UUID, NameTranslations: n.Option.NameTranslations},
			Children: same(children(t, st, n)),
		})
	}

	assert.Equal(t, tree.Report{}, reconcile(t, st, root, desired))
	st.ResetQueries()
	assert.Equal(t, tree.Report{}, reconcile(t, st, root, desired))
	assert.Zero(t, st.Queries("SaveOption"))
	assert.Zero(t, st.Queries("UpdateNode"))
	assert.Zero(t, st.Queries("CreateNode"))
}

func TestReconcileReorderOnlyChangesRanks(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("A"), model.NewChild("B"), model.NewChild("C")})
	top := children(t, st, root)

	rep := reconcile(t, st, root, same([]*model.OptionNode{top[2], top[0], top[1]}))
	assert.Equal(t, tree.Report{RanksChanged: true}, rep)
	after := children(t, st, root)
	assert.Equal(t, []string{"C", "A", "B"}, names(after))
	assert.Equal(t, []int{1, 2, 3}, ranks(after))
}

func TestReconcileOmittedChildrenLeaveSubtree(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("Kingdom", model.NewChild("Species", model.NewChild("Variant"))),
	})
	kingdom := childByName(t, st, root, "Kingdom")
	before, err := st.FindDescendants(context.Background(), kingdom)
	require.NoError(t, err)
	require.Len(t, before, 2)

	rep := reconcile(t, st, root, []model.ChildDescription{model.ExistingChild(kingdom.ID)})
	assert.False(t, rep.Changed())

	after, err := st.FindDescendants(context.Background(), kingdom)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
}

func TestReconcileEmptyChildrenDeletesSubtree(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("Kingdom", model.NewChild("Species", model.NewChild("Variant"))),
	})
	kingdom := childByName(t, st, root, "Kingdom")

	rep := reconcile(t, st, root, []model.ChildDescription{
		{ID: kingdom.ID, Children: []model.ChildDescription{}},
	})
	assert.Equal(t, tree.Report{OptionsRemoved: true}, rep)

	left, err := st.FindDescendants(context.Background(), kingdom)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, kingdom.ID, childByName(t, st, root, "Kingdom").ID)
}

func TestReconcileDeletionCascades(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("Keep"),
		model.NewChild("Drop", model.NewChild("Drop1", model.NewChild("Drop11")), model.NewChild("Drop2")),
	})
	keep := childByName(t, st, root, "Keep")
	drop := childByName(t, st, root, "Drop")
	doomed, err := st.FindDescendants(context.Background(), drop)
	require.NoError(t, err)
	require.Len(t, doomed, 3)

	rep := reconcile(t, st, root, []model.ChildDescription{model.ExistingChild(keep.ID)})
	assert.True(t, rep.OptionsRemoved)

	all, err := st.FindDescendants(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)
	for _, n := range append(doomed, drop) {
		_, err := st.FindNode(context.Background(), n.ID)
		assert.ErrorIs(t, err, tree.ErrNotFound)
	}
}

func TestReconcileNilDesiredRemovesAll(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("A")})

	rep := reconcile(t, st, root, nil)
	assert.Equal(t, tree.Report{OptionsRemoved: true}, rep)
	assert.Empty(t, children(t, st, root))
}

func TestReconcileForeignIDIsInvalidReference(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{
		model.NewChild("A", model.NewChild("A1")),
		model.NewChild("B"),
	})
	a := childByName(t, st, root, "A")
	a1 := childByName(t, st, a, "A1")

	_, err := tryReconcile(st, root, []model.ChildDescription{model.ExistingChild(a1.ID)})
	require.Error(t, err)
	assert.ErrorIs(t, err, tree.ErrInvalidReference)

	// rolled back: nothing was removed
	assert.Equal(t, []string{"A", "B"}, names(children(t, st, root)))
}

func TestReconcileDuplicateIDIsInvalidReference(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("A")})
	a := childByName(t, st, root, "A")

	_, err := tryReconcile(st, root, []model.ChildDescription{model.ExistingChild(a.ID), model.ExistingChild(a.ID)})
	assert.ErrorIs(t, err, tree.ErrInvalidReference)
}

func TestReconcileUnknownIDCreatesNode(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	ghost := uuid.New()

	rep := reconcile(t, st, root, []model.ChildDescription{{ID: ghost, Option: model.Named("Ghost")}})
	assert.True(t, rep.OptionsAdded)
	kid := childByName(t, st, root, "Ghost")
	assert.NotEqual(t, ghost, kid.ID)
}

func TestReconcileUnknownOptionIDIsInvalidReference(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	_, err := tryReconcile(st, root, []model.ChildDescription{{Option: &model.OptionAttribs{ID: uuid.New()}}})
	assert.ErrorIs(t, err, tree.ErrInvalidReference)
}

func TestReconcileReusesExistingOption(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("Shared", model.NewChild("Leaf"))})
	shared := childByName(t, st, root, "Shared")
	leaf := childByName(t, st, shared, "Leaf")

	reconcile(t, st, root, []model.ChildDescription{
		{ID: shared.ID, Children: []model.ChildDescription{
			model.ExistingChild(leaf.ID),
			{Option: &model.OptionAttribs{ID: shared.OptionID.UUID}},
		}},
	})
	kids := children(t, st, shared)
	require.Len(t, kids, 2)
	assert.Equal(t, shared.OptionID, kids[1].OptionID)
}

func TestReconcileUpdatesOptionInPlace(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("Colour")})
	node := childByName(t, st, root, "Colour")

	value := 7
	rep := reconcile(t, st, root, []model.ChildDescription{{
		ID: node.ID,
		Option: &model.OptionAttribs{
			NameTranslations: map[string]string{"en": "Color", "fr": "Couleur"},
			Value:            &value,
		},
	}})
	assert.False(t, rep.Changed())

	after, err := st.FindNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.OptionID, after.OptionID)
	assert.Equal(t, "Color", after.Option.CanonicalName)
	assert.Equal(t, "Couleur", after.Option.NameIn("fr"))
	require.NotNil(t, after.Option.Value)
	assert.Equal(t, 7, *after.Option.Value)
}

func TestReconcileCoordinates(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	coords := "45.4215296; -75.6971931"
	reconcile(t, st, root, []model.ChildDescription{{
		Option: &model.OptionAttribs{NameTranslations: map[string]string{"en": "Ottawa"}, Coordinates: &coords},
	}})
	n := childByName(t, st, root, "Ottawa")
	assert.Equal(t, "45.421529, -75.697193", n.Option.Coordinates())

	bad := "north-ish"
	_, err := tryReconcile(st, root, []model.ChildDescription{{
		ID:     n.ID,
		Option: &model.OptionAttribs{Coordinates: &bad},
	}})
	assert.ErrorIs(t, err, tree.ErrValidation)
}

func TestReconcileRejectsDuplicateSiblingNames(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	_, err := tryReconcile(st, root, []model.ChildDescription{model.NewChild("Dog"), model.NewChild("dog ")})
	assert.ErrorIs(t, err, tree.ErrValidation)
	assert.Empty(t, children(t, st, root))
}

func TestReconcileNewChildNeedsOption(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	_, err := tryReconcile(st, root, []model.ChildDescription{{}})
	assert.ErrorIs(t, err, tree.ErrValidation)
}

func TestReconcileCopiesLinkage(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	mission := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	set := &model.OptionSet{ID: uuid.New(), Name: "Linked", MissionID: mission}
	root := &model.OptionNode{ID: uuid.New(), OptionSetID: set.ID, MissionID: mission}
	set.RootNodeID = root.ID
	require.NoError(t, st.CreateOptionSet(ctx, set))
	require.NoError(t, st.CreateNode(ctx, root))

	reconcile(t, st, root, []model.ChildDescription{model.NewChild("A", model.NewChild("B"))})
	a := childByName(t, st, root, "A")
	b := childByName(t, st, a, "B")
	for _, n := range []*model.OptionNode{a, b} {
		assert.Equal(t, mission, n.MissionID)
		assert.Equal(t, set.ID, n.OptionSetID)
		assert.Equal(t, mission, n.Option.MissionID)
	}
}

func TestDestroyGuardedByAnswers(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	reconcile(t, st, root, []model.ChildDescription{model.NewChild("Parent", model.NewChild("Answered"))})
	parent := childByName(t, st, root, "Parent")
	answered := childByName(t, st, parent, "Answered")
	st.RecordAnswer(answered.OptionID.UUID)

	_, err := tryReconcile(st, root, []model.ChildDescription{})
	require.Error(t, err)
	assert.ErrorIs(t, err, tree.ErrConstraintViolation)

	var te *tree.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, answered.ID, te.ID)
	assert.Len(t, children(t, st, root), 1)
}

func TestDestroyRootIsInvalidOperation(t *testing.T) {
	st := memstore.New()
	_, root := newSet(t, st)
	err := tree.NewEngine(nil).Destroy(context.Background(), st, root)
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)
	assert.Equal(t, tree.ErrInvalidOperation, tree.KindOf(err))
}
