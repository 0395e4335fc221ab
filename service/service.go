// Package service exposes the option tree engine to callers. Every write runs
// in one storage transaction, and writers to the same option set are
// serialized within the process.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"optiontree/model"
	"optiontree/tree"
)

// Backend is a transactional tree store.
type Backend interface {
	tree.Store
	tree.Transactor
}

// Options configures a Service.
type Options struct {
	Logger         *slog.Logger
	HugeThreshold  int
	TruncatedCount int
}

// Service runs engine operations against a Backend.
type Service struct {
	store      Backend
	engine     *tree.Engine
	serializer *tree.Serializer
	logger     *slog.Logger
	locks      *keyedMutex
}

// New returns a Service backed by store.
func New(store Backend, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		engine:     tree.NewEngine(logger),
		serializer: tree.NewSerializer(opts.HugeThreshold, opts.TruncatedCount),
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// NewOptionSet describes an option set to create.
type NewOptionSet struct {
	Name             string                   `json:"name" yaml:"name"`
	MissionID        uuid.NullUUID            `json:"mission_id" yaml:"-"`
	StandardID       uuid.NullUUID            `json:"standard_id" yaml:"-"`
	LevelNames       []map[string]string      `json:"level_names,omitempty" yaml:"level_names,omitempty"`
	Geographic       bool                     `json:"geographic" yaml:"geographic"`
	AllowCoordinates bool                     `json:"allow_coordinates" yaml:"allow_coordinates"`
	Children         []model.ChildDescription `json:"children,omitempty" yaml:"children,omitempty"`
}

// CreateOptionSet creates a set, its root node and any initial children in
// one transaction.
func (s *Service) CreateOptionSet(ctx context.Context, in NewOptionSet) (*model.OptionSet, tree.Report, error) {
	var rep tree.Report
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, rep, fmt.Errorf("option set name is required: %w", tree.ErrValidation)
	}

	set := &model.OptionSet{
		ID:               uuid.New(),
		Name:             name,
		MissionID:        in.MissionID,
		StandardID:       in.StandardID,
		LevelNames:       in.LevelNames,
		Geographic:       in.Geographic,
		AllowCoordinates: in.AllowCoordinates,
	}
	root := &model.OptionNode{
		OptionSetID: set.ID,
		MissionID:   set.MissionID,
		StandardID:  set.StandardID,
	}

	release := s.locks.Lock(set.ID)
	defer release()

	err := s.store.WithTx(ctx, func(st tree.Store) error {
		if err := tree.NewIndex(st).SetParent(ctx, root, nil); err != nil {
			return err
		}
		set.RootNodeID = root.ID
		if err := st.CreateOptionSet(ctx, set); err != nil {
			return fmt.Errorf("creating option set: %w", err)
		}
		if err := st.CreateNode(ctx, root); err != nil {
			return fmt.Errorf("creating root node: %w", err)
		}
		if len(in.Children) == 0 {
			return nil
		}
		var err error
		rep, err = s.engine.Reconcile(ctx, st, root, in.Children)
		return err
	})
	if err != nil {
		return nil, tree.Report{}, err
	}
	s.logger.InfoContext(ctx, "created option set", "id", set.ID, "name", set.Name, "root", root.ID)
	return set, rep, nil
}

// GetOptionSet loads an option set.
func (s *Service) GetOptionSet(ctx context.Context, id uuid.UUID) (*model.OptionSet, error) {
	return s.store.FindOptionSet(ctx, id)
}

// ListOptionSets returns every option set.
func (s *Service) ListOptionSets(ctx context.Context) ([]*model.OptionSet, error) {
	return s.store.ListOptionSets(ctx)
}

// Reconcile makes the children of nodeID match desired.
func (s *Service) Reconcile(ctx context.Context, nodeID uuid.UUID, desired []model.ChildDescription) (tree.Report, error) {
	var rep tree.Report
	node, err := s.store.FindNode(ctx, nodeID)
	if err != nil {
		return rep, err
	}

	release := s.locks.Lock(node.OptionSetID)
	defer release()

	err = s.store.WithTx(ctx, func(st tree.Store) error {
		// reload under the lock so the node reflects committed writes
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		rep, err = s.engine.Reconcile(ctx, st, node, desired)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "reconcile failed", "node", nodeID, "error", err)
		return tree.Report{}, err
	}
	s.logger.InfoContext(ctx, "reconciled children", "node", nodeID,
		"ranks_changed", rep.RanksChanged, "options_added", rep.OptionsAdded, "options_removed", rep.OptionsRemoved)
	return rep, nil
}

// Serialize renders the subtree below nodeID. The count and the rows come
// from one snapshot.
func (s *Service) Serialize(ctx context.Context, nodeID uuid.UUID) (*tree.Tree, error) {
	var out *tree.Tree
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		out, err = s.serializer.Serialize(ctx, st, node)
		return err
	})
	return out, err
}

// ResolvePath follows a path of option ids down from nodeID. It returns nil
// when the path does not resolve.
func (s *Service) ResolvePath(ctx context.Context, nodeID uuid.UUID, path []uuid.UUID) (*model.OptionNode, error) {
	var out *model.OptionNode
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		out, err = tree.Resolve(ctx, st, node, path)
		return err
	})
	return out, err
}

// ChildrenForPath returns the child options offered after following path.
func (s *Service) ChildrenForPath(ctx context.Context, nodeID uuid.UUID, path []uuid.UUID) ([]*model.Option, error) {
	var out []*model.Option
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		out, err = tree.ChildrenForPath(ctx, st, node, path)
		return err
	})
	return out, err
}

// Preload loads the given nodes and attaches their child options. It costs
// one node query and one children query however many ids are given.
func (s *Service) Preload(ctx context.Context, rootIDs []uuid.UUID) ([]*model.OptionNode, error) {
	roots := []*model.OptionNode{}
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		nodes, err := st.FindNodes(ctx, rootIDs)
		if err != nil {
			return err
		}
		if err := tree.PreloadChildOptions(ctx, st, nodes); err != nil {
			return err
		}
		roots = append(roots, nodes...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roots, nil
}

// DestroyNode removes a node and its subtree.
func (s *Service) DestroyNode(ctx context.Context, nodeID uuid.UUID) error {
	node, err := s.store.FindNode(ctx, nodeID)
	if err != nil {
		return err
	}

	release := s.locks.Lock(node.OptionSetID)
	defer release()

	err = s.store.WithTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		return s.engine.Destroy(ctx, st, node)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "destroyed node", "node", nodeID)
	return nil
}

// Search matches a glob against option name paths below nodeID.
func (s *Service) Search(ctx context.Context, nodeID uuid.UUID, pattern string) ([]tree.Match, error) {
	var out []tree.Match
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		out, err = tree.Search(ctx, st, node, pattern)
		return err
	})
	return out, err
}

// Dump renders the subtree below nodeID as indented text.
func (s *Service) Dump(ctx context.Context, nodeID uuid.UUID) (string, error) {
	var out string
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		set, err := st.FindOptionSet(ctx, node.OptionSetID)
		if err != nil && tree.KindOf(err) != tree.ErrNotFound {
			return err
		}
		out, err = tree.Dump(ctx, st, node, set)
		return err
	})
	return out, err
}

// Stats summarizes the subtree below a node.
type Stats struct {
	TotalOptions     int  `json:"total_options"`
	MaxDepth         int  `json:"max_depth"`
	HasGrandchildren bool `json:"has_grandchildren"`
	DistinctOptions  int  `json:"distinct_options"`
}

// Stats computes subtree statistics for nodeID.
func (s *Service) Stats(ctx context.Context, nodeID uuid.UUID) (*Stats, error) {
	var out Stats
	err := s.store.ReadTx(ctx, func(st tree.Store) error {
		node, err := st.FindNode(ctx, nodeID)
		if err != nil {
			return err
		}
		ix := tree.NewIndex(st)
		if out.TotalOptions, err = ix.TotalOptions(ctx, node); err != nil {
			return err
		}
		if out.MaxDepth, err = ix.MaxDepth(ctx, node); err != nil {
			return err
		}
		if out.HasGrandchildren, err = ix.HasGrandchildren(ctx, node); err != nil {
			return err
		}
		opts, err := ix.AllOptions(ctx, node)
		if err != nil {
			return err
		}
		out.DistinctOptions = len(opts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
