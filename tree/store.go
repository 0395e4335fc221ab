package tree

import (
	"context"

	"github.com/google/uuid"

	"optiontree/model"
)

// Store is the storage collaborator the engine drives. Implementations
// return ErrNotFound (possibly wrapped) for lookup misses. Node lookups load
// the node's Option when it has one.
type Store interface {
	FindNode(ctx context.Context, id uuid.UUID) (*model.OptionNode, error)
	// FindNodes loads every id in one round trip, in the order given. A
	// missing id fails the whole call with ErrNotFound.
	FindNodes(ctx context.Context, ids []uuid.UUID) ([]*model.OptionNode, error)
	// FindChildren returns the direct children of parent ordered by rank.
	FindChildren(ctx context.Context, parent *model.OptionNode) ([]*model.OptionNode, error)
	// FindChildrenOfAny returns the direct children of every parent in a
	// single round trip, ordered by rank within each parent.
	FindChildrenOfAny(ctx context.Context, parents []*model.OptionNode) ([]*model.OptionNode, error)
	// FindDescendants returns every transitive descendant of ancestor,
	// ordered by depth then rank.
	FindDescendants(ctx context.Context, ancestor *model.OptionNode) ([]*model.OptionNode, error)
	CountDescendants(ctx context.Context, ancestor *model.OptionNode) (int, error)
	CreateNode(ctx context.Context, node *model.OptionNode) error
	UpdateNode(ctx context.Context, node *model.OptionNode) error
	// DestroyCascade removes node and all of its descendants.
	DestroyCascade(ctx context.Context, node *model.OptionNode) error

	FindOption(ctx context.Context, id uuid.UUID) (*model.Option, error)
	// SaveOption inserts the option when it is new and updates it otherwise.
	SaveOption(ctx context.Context, option *model.Option) error
	HasAnswersOrChoices(ctx context.Context, optionID uuid.UUID) (bool, error)
	// OptionSetNames maps each option id to the sorted, distinct names of
	// the option sets whose nodes reference it.
	OptionSetNames(ctx context.Context, optionIDs []uuid.UUID) (map[uuid.UUID][]string, error)

	// CreateOptionSet inserts a set. Its root node is created separately.
	CreateOptionSet(ctx context.Context, set *model.OptionSet) error
	FindOptionSet(ctx context.Context, id uuid.UUID) (*model.OptionSet, error)
	ListOptionSets(ctx context.Context) ([]*model.OptionSet, error)
}

// Transactor runs fn against a transactional Store. The transaction commits
// when fn returns nil and rolls back otherwise. ReadTx runs fn against one
// read-only snapshot, so several queries see the same committed state.
type Transactor interface {
	WithTx(ctx context.Context, fn func(Store) error) error
	ReadTx(ctx context.Context, fn func(Store) error) error
}
