package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"optiontree/model"
)

// Report records which kinds of change one reconcile call made, at the
// reconciled node or anywhere below it.
type Report struct {
	RanksChanged   bool `json:"ranks_changed"`
	OptionsAdded   bool `json:"options_added"`
	OptionsRemoved bool `json:"options_removed"`
}

// Merge ORs the flags of other into r.
func (r *Report) Merge(other Report) {
	r.RanksChanged = r.RanksChanged || other.RanksChanged
	r.OptionsAdded = r.OptionsAdded || other.OptionsAdded
	r.OptionsRemoved = r.OptionsRemoved || other.OptionsRemoved
}

// Changed reports whether any flag is set.
func (r Report) Changed() bool {
	return r.RanksChanged || r.OptionsAdded || r.OptionsRemoved
}

// Engine reconciles a node's children against a desired list.
//
// Engine holds no state between calls. Callers run each Reconcile inside a
// single storage transaction and serialize writers to the same option set.
type Engine struct {
	Logger *slog.Logger
}

// NewEngine returns an Engine that logs through logger (slog.Default when nil).
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{Logger: logger}
}

func (e *Engine) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Reconcile makes node's children match desired. Position i in desired
// becomes rank i+1. Children matched by id are updated in place, entries
// without a known id are created, and unclaimed children are destroyed along
// with their subtrees. A nil desired list is treated like an empty one.
func (e *Engine) Reconcile(ctx context.Context, st Store, node *model.OptionNode, desired []model.ChildDescription) (Report, error) {
	if desired == nil {
		desired = []model.ChildDescription{}
	}
	return e.reconcile(ctx, st, node, desired, false)
}

func (e *Engine) reconcile(ctx context.Context, st Store, node *model.OptionNode, desired []model.ChildDescription, fresh bool) (Report, error) {
	var rep Report

	var current []*model.OptionNode
	if !fresh {
		var err error
		if current, err = NewIndex(st).ChildrenOf(ctx, node); err != nil {
			return rep, err
		}
	}
	byID := make(map[uuid.UUID]*model.OptionNode, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}
	claimed := make(map[uuid.UUID]bool, len(desired))
	names := make(map[string]bool, len(desired))

	for i, d := range desired {
		rank := i + 1

		if d.ID != uuid.Nil {
			if child, ok := byID[d.ID]; ok {
				sub, err := e.update(ctx, st, node, child, d, rank, names)
				if err != nil {
					return rep, err
				}
				rep.Merge(sub)
				delete(byID, d.ID)
				claimed[d.ID] = true
				continue
			}
			if claimed[d.ID] {
				return rep, newError(ErrInvalidReference, "reconcile", d.ID, fmt.Errorf("listed more than once under %s", node.ID))
			}
			_, err := st.FindNode(ctx, d.ID)
			switch {
			case err == nil:
				return rep, newError(ErrInvalidReference, "reconcile", d.ID, fmt.Errorf("not a direct child of %s", node.ID))
			case KindOf(err) != ErrNotFound:
				return rep, fmt.Errorf("checking node %s: %w", d.ID, err)
			}
		}

		sub, err := e.create(ctx, st, node, d, rank, names)
		if err != nil {
			return rep, err
		}
		rep.Merge(sub)
		rep.OptionsAdded = true
	}

	for _, c := range current {
		if _, unclaimed := byID[c.ID]; !unclaimed {
			continue
		}
		if err := e.Destroy(ctx, st, c); err != nil {
			return rep, err
		}
		rep.OptionsRemoved = true
	}

	return rep, nil
}

func (e *Engine) update(ctx context.Context, st Store, parent, child *model.OptionNode, d model.ChildDescription, rank int, names map[string]bool) (Report, error) {
	var rep Report
	dirty := false

	if child.Rank != rank {
		rep.RanksChanged = true
		child.Rank = rank
		dirty = true
	}

	if d.Option != nil {
		opt, err := e.resolveOption(ctx, st, parent, child.ID, child.Option, d.Option)
		if err != nil {
			return rep, err
		}
		if !child.OptionID.Valid || child.OptionID.UUID != opt.ID {
			child.OptionID = uuid.NullUUID{UUID: opt.ID, Valid: true}
			dirty = true
		}
		child.Option = opt
	}
	if err := claimName(names, child.ID, child.Option); err != nil {
		return rep, err
	}

	if dirty {
		if err := st.UpdateNode(ctx, child); err != nil {
			return rep, fmt.Errorf("updating node %s: %w", child.ID, err)
		}
	}

	if d.Children != nil {
		sub, err := e.reconcile(ctx, st, child, d.Children, false)
		if err != nil {
			return rep, err
		}
		rep.Merge(sub)
	}
	return rep, nil
}

func (e *Engine) create(ctx context.Context, st Store, parent *model.OptionNode, d model.ChildDescription, rank int, names map[string]bool) (Report, error) {
	var rep Report
	if d.Option == nil {
		return rep, newError(ErrValidation, "reconcile", d.ID, fmt.Errorf("a new child of %s needs an option", parent.ID))
	}

	// Any id the entry carried is dropped: the node it named no longer exists.
	child := &model.OptionNode{
		Rank:        rank,
		OptionSetID: parent.OptionSetID,
		MissionID:   parent.MissionID,
		StandardID:  parent.StandardID,
	}
	if err := NewIndex(st).SetParent(ctx, child, parent); err != nil {
		return rep, err
	}

	opt, err := e.resolveOption(ctx, st, parent, child.ID, nil, d.Option)
	if err != nil {
		return rep, err
	}
	if err := claimName(names, child.ID, opt); err != nil {
		return rep, err
	}
	child.OptionID = uuid.NullUUID{UUID: opt.ID, Valid: true}
	child.Option = opt

	if err := st.CreateNode(ctx, child); err != nil {
		return rep, fmt.Errorf("creating child of %s: %w", parent.ID, err)
	}
	e.logger().DebugContext(ctx, "created option node",
		"id", child.ID, "parent", parent.ID, "rank", rank, "option", opt.CanonicalName)

	if d.Children != nil {
		sub, err := e.reconcile(ctx, st, child, d.Children, true)
		if err != nil {
			return rep, err
		}
		rep.Merge(sub)
	}
	return rep, nil
}

// resolveOption returns the option a child should reference after applying
// attrs, saving it when it is new or its attributes changed.
func (e *Engine) resolveOption(ctx context.Context, st Store, parent *model.OptionNode, nodeID uuid.UUID, current *model.Option, attrs *model.OptionAttribs) (*model.Option, error) {
	var opt *model.Option
	isNew := false

	switch {
	case attrs.ID != uuid.Nil && current != nil && current.ID == attrs.ID:
		opt = current
	case attrs.ID != uuid.Nil:
		found, err := st.FindOption(ctx, attrs.ID)
		if err != nil {
			if KindOf(err) == ErrNotFound {
				return nil, newError(ErrInvalidReference, "reconcile", attrs.ID, fmt.Errorf("option does not exist"))
			}
			return nil, fmt.Errorf("loading option %s: %w", attrs.ID, err)
		}
		opt = found
	case current != nil:
		opt = current
	default:
		opt = &model.Option{
			ID:         uuid.New(),
			MissionID:  parent.MissionID,
			StandardID: parent.StandardID,
		}
		isNew = true
	}

	before := opt.Clone()
	if err := opt.Apply(attrs); err != nil {
		return nil, validationError(nodeID, err)
	}
	opt.Normalize()
	if err := opt.Validate(); err != nil {
		return nil, validationError(nodeID, err)
	}

	if isNew || optionChanged(before, opt) {
		if err := st.SaveOption(ctx, opt); err != nil {
			return nil, fmt.Errorf("saving option %s: %w", opt.ID, err)
		}
	}
	return opt, nil
}

// Destroy removes node and its subtree. It fails with ErrConstraintViolation
// when any option in the subtree has answers or choices, and with
// ErrInvalidOperation for a root node.
func (e *Engine) Destroy(ctx context.Context, st Store, node *model.OptionNode) error {
	if node.IsRoot() {
		return newError(ErrInvalidOperation, "destroy", node.ID, fmt.Errorf("the root node of an option set cannot be removed"))
	}
	descendants, err := NewIndex(st).DescendantsOf(ctx, node)
	if err != nil {
		return err
	}
	for _, n := range append([]*model.OptionNode{node}, descendants...) {
		if !n.OptionID.Valid {
			continue
		}
		has, err := st.HasAnswersOrChoices(ctx, n.OptionID.UUID)
		if err != nil {
			return fmt.Errorf("checking answers for option %s: %w", n.OptionID.UUID, err)
		}
		if has {
			return newError(ErrConstraintViolation, "destroy", n.ID, fmt.Errorf("option %s has answers or choices", n.OptionID.UUID))
		}
	}
	if err := st.DestroyCascade(ctx, node); err != nil {
		return fmt.Errorf("destroying node %s: %w", node.ID, err)
	}
	e.logger().DebugContext(ctx, "destroyed option node", "id", node.ID, "descendants", len(descendants))
	return nil
}

func claimName(names map[string]bool, nodeID uuid.UUID, opt *model.Option) error {
	if opt == nil {
		return nil
	}
	key := strings.ToLower(opt.CanonicalName)
	if key == "" {
		return nil
	}
	if names[key] {
		return newError(ErrValidation, "reconcile", nodeID, fmt.Errorf("duplicate option name %q among siblings", opt.CanonicalName))
	}
	names[key] = true
	return nil
}

func validationError(nodeID uuid.UUID, err error) error {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return newError(ErrValidation, "reconcile", nodeID, verr)
	}
	return err
}

func optionChanged(a, b *model.Option) bool {
	if len(a.NameTranslations) != len(b.NameTranslations) {
		return true
	}
	for k, v := range a.NameTranslations {
		if bv, ok := b.NameTranslations[k]; !ok || bv != v {
			return true
		}
	}
	return a.CanonicalName != b.CanonicalName ||
		!equalInt(a.Value, b.Value) ||
		!equalFloat(a.Latitude, b.Latitude) ||
		!equalFloat(a.Longitude, b.Longitude)
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
