package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiontree/model"
	"optiontree/tree"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), DBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRoot(t *testing.T, db *DB) (*model.OptionSet, *model.OptionNode) {
	t.Helper()
	ctx := context.Background()
	set := &model.OptionSet{
		ID:         uuid.New(),
		Name:       "Places",
		MissionID:  uuid.NullUUID{UUID: uuid.New(), Valid: true},
		LevelNames: []map[string]string{{"en": "Country"}, {"en": "City", "fr": "Ville"}},
		Geographic: true,
	}
	root := &model.OptionNode{ID: uuid.New(), OptionSetID: set.ID, MissionID: set.MissionID}
	set.RootNodeID = root.ID
	require.NoError(t, db.WithTx(ctx, func(s tree.Store) error {
		if err := s.CreateOptionSet(ctx, set); err != nil {
			return err
		}
		return s.CreateNode(ctx, root)
	}))
	return set, root
}

func reconcile(t *testing.T, db *DB, node *model.OptionNode, desired []model.ChildDescription) tree.Report {
	t.Helper()
	var rep tree.Report
	require.NoError(t, db.WithTx(context.Background(), func(s tree.Store) error {
		var err error
		rep, err = tree.NewEngine(nil).Reconcile(context.Background(), s, node, desired)
		return err
	}))
	return rep
}

func TestOpenMissionDB(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenMissionDB(dir, "mission-a")
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "mission-a", DBFileName))
	assert.NoError(t, err)
	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		dsn  string
		want DriverType
		name string
	}{
		{"/tmp/x.db", DriverSQLite, "sqlite"},
		{":memory:", DriverSQLite, "sqlite"},
		{"postgres://u:p@localhost/db", DriverPostgres, "postgres"},
		{"postgresql://localhost/db?sslmode=disable", DriverPostgres, "postgres"},
	}
	for _, tt := range tests {
		d, name := detectDriver(tt.dsn)
		assert.Equal(t, tt.want, d, tt.dsn)
		assert.Equal(t, tt.name, name, tt.dsn)
	}
}

func TestConvertPlaceholders(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)",
		convertPlaceholders("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestOptionSetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	set, root := newRoot(t, db)
	ctx := context.Background()

	got, err := db.FindOptionSet(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, "Places", got.Name)
	assert.Equal(t, root.ID, got.RootNodeID)
	assert.Equal(t, set.MissionID, got.MissionID)
	assert.True(t, got.Geographic)
	assert.False(t, got.AllowCoordinates)
	assert.Equal(t, "City", got.Level(2))

	all, err := db.ListOptionSets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = db.FindOptionSet(ctx, uuid.New())
	assert.ErrorIs(t, err, tree.ErrNotFound)

	err = db.CreateOptionSet(ctx, set)
	assert.ErrorIs(t, err, ErrDuplicate)

	loaded, err := db.FindNode(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsRoot())
	assert.Nil(t, loaded.Option)
	assert.False(t, loaded.OptionID.Valid)
}

func TestTreeQueries(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	ctx := context.Background()

	lat, lng := 45.4215, -75.6972
	rep := reconcile(t, db, root, []model.ChildDescription{
		model.NewChild("Canada",
			model.ChildDescription{Option: &model.OptionAttribs{
				NameTranslations: map[string]string{"en": "Ottawa"}, Latitude: &lat, Longitude: &lng,
			}},
			model.NewChild("Toronto"),
		),
		model.NewChild("Brazil"),
	})
	assert.True(t, rep.OptionsAdded)

	top, err := db.FindChildren(ctx, root)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Canada", top[0].Option.Name())
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, root.MissionID, top[0].Option.MissionID)

	cities, err := db.FindChildren(ctx, top[0])
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "45.4215, -75.6972", cities[0].Option.Coordinates())
	assert.Equal(t, 2, cities[0].Depth)
	assert.Equal(t, model.AncestorPath{root.ID, top[0].ID}, cities[0].Ancestry)

	all, err := db.FindDescendants(ctx, root)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 1, all[0].Depth)
	assert.Equal(t, 2, all[3].Depth)

	n, err := db.CountDescendants(ctx, top[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	many, err := db.FindChildrenOfAny(ctx, []*model.OptionNode{root, top[0], top[1]})
	require.NoError(t, err)
	assert.Len(t, many, 4)

	// reorder and drop Canada's subtree
	rep = reconcile(t, db, root, []model.ChildDescription{model.ExistingChild(top[1].ID)})
	assert.Equal(t, tree.Report{RanksChanged: true, OptionsRemoved: true}, rep)

	all, err = db.FindDescendants(ctx, root)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Brazil", all[0].Option.Name())
	assert.Equal(t, 1, all[0].Rank)

	for _, c := range cities {
		_, err := db.FindNode(ctx, c.ID)
		assert.ErrorIs(t, err, tree.ErrNotFound)
	}
	// options outlive their nodes
	_, err = db.FindOption(ctx, cities[0].OptionID.UUID)
	assert.NoError(t, err)
}

func TestDescendantFilterDoesNotMatchSiblingPrefix(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	reconcile(t, db, root, []model.ChildDescription{
		model.NewChild("A", model.NewChild("A1")),
		model.NewChild("B", model.NewChild("B1")),
	})
	ctx := context.Background()
	top, err := db.FindChildren(ctx, root)
	require.NoError(t, err)

	under, err := db.FindDescendants(ctx, top[0])
	require.NoError(t, err)
	require.Len(t, under, 1)
	assert.Equal(t, "A1", under[0].Option.Name())
}

func TestSaveOptionUpserts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	v := 3
	o := &model.Option{ID: uuid.New(), NameTranslations: map[string]string{"en": "One"}, Value: &v}
	o.Normalize()
	require.NoError(t, db.SaveOption(ctx, o))

	o.NameTranslations["en"] = "Uno"
	o.Value = nil
	o.Normalize()
	require.NoError(t, db.SaveOption(ctx, o))

	got, err := db.FindOption(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Uno", got.CanonicalName)
	assert.Nil(t, got.Value)
	assert.Nil(t, got.Latitude)

	_, err = db.FindOption(ctx, uuid.New())
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestAnswersBlockDestroy(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	reconcile(t, db, root, []model.ChildDescription{model.NewChild("A", model.NewChild("A1"))})
	ctx := context.Background()

	all, err := db.FindDescendants(ctx, root)
	require.NoError(t, err)
	a1 := all[1]

	has, err := db.HasAnswersOrChoices(ctx, a1.OptionID.UUID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, db.RecordChoice(ctx, a1.OptionID.UUID))
	has, err = db.HasAnswersOrChoices(ctx, a1.OptionID.UUID)
	require.NoError(t, err)
	assert.True(t, has)

	err = db.WithTx(ctx, func(s tree.Store) error {
		_, err := tree.NewEngine(nil).Reconcile(ctx, s, root, []model.ChildDescription{})
		return err
	})
	assert.ErrorIs(t, err, tree.ErrConstraintViolation)

	n, err := db.CountDescendants(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWithTxRollsBack(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(s tree.Store) error {
		if _, err := tree.NewEngine(nil).Reconcile(ctx, s, root, []model.ChildDescription{model.NewChild("Lost")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := db.CountDescendants(ctx, root)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateMissingNode(t *testing.T) {
	db := openTestDB(t)
	err := db.UpdateNode(context.Background(), &model.OptionNode{ID: uuid.New()})
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestFindNodesKeepsOrder(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	reconcile(t, db, root, []model.ChildDescription{model.NewChild("A"), model.NewChild("B")})
	ctx := context.Background()
	kids, err := db.FindChildren(ctx, root)
	require.NoError(t, err)
	a, b := kids[0], kids[1]

	got, err := db.FindNodes(ctx, []uuid.UUID{b.ID, root.ID, a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, "B", got[0].Option.Name())
	assert.Equal(t, root.ID, got[1].ID)
	assert.Nil(t, got[1].Option)
	assert.Equal(t, a.ID, got[2].ID)
	assert.Equal(t, b.ID, got[3].ID)
	assert.NotSame(t, got[0], got[3])

	_, err = db.FindNodes(ctx, []uuid.UUID{a.ID, uuid.New()})
	assert.ErrorIs(t, err, tree.ErrNotFound)

	got, err = db.FindNodes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOptionSetNames(t *testing.T) {
	db := openTestDB(t)
	_, places := newRoot(t, db)
	reconcile(t, db, places, []model.ChildDescription{model.NewChild("Canada")})
	ctx := context.Background()
	towns := &model.OptionSet{ID: uuid.New(), Name: "Countries"}
	other := &model.OptionNode{ID: uuid.New(), OptionSetID: towns.ID}
	towns.RootNodeID = other.ID
	require.NoError(t, db.CreateOptionSet(ctx, towns))
	require.NoError(t, db.CreateNode(ctx, other))

	kids, err := db.FindChildren(ctx, places)
	require.NoError(t, err)
	canada := kids[0].OptionID.UUID
	reconcile(t, db, other, []model.ChildDescription{{Option: &model.OptionAttribs{ID: canada}}})

	unused := uuid.New()
	names, err := db.OptionSetNames(ctx, []uuid.UUID{canada, unused})
	require.NoError(t, err)
	assert.Equal(t, []string{"Countries", "Places"}, names[canada])
	assert.NotContains(t, names, unused)
}

func TestReadTxSeesCommittedRows(t *testing.T) {
	db := openTestDB(t)
	_, root := newRoot(t, db)
	reconcile(t, db, root, []model.ChildDescription{model.NewChild("A", model.NewChild("A1"))})
	ctx := context.Background()

	err := db.ReadTx(ctx, func(s tree.Store) error {
		n, err := s.CountDescendants(ctx, root)
		if err != nil {
			return err
		}
		all, err := s.FindDescendants(ctx, root)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		assert.Len(t, all, n)
		return nil
	})
	require.NoError(t, err)
}
