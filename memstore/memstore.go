// Package memstore is an in-memory implementation of tree.Store. It counts
// queries per method so tests can assert on storage round trips.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"optiontree/model"
	"optiontree/tree"
)

// Store keeps option sets, options and nodes in maps. Values are copied in
// and out, so callers never share memory with the store.
type Store struct {
	txMu sync.Mutex

	mu   sync.RWMutex
	data *state

	log *queryLog
}

type queryLog struct {
	mu      sync.Mutex
	queries map[string]int
}

type state struct {
	nodes   map[uuid.UUID]*model.OptionNode
	options map[uuid.UUID]*model.Option
	sets    map[uuid.UUID]*model.OptionSet
	answers map[uuid.UUID]int
	choices map[uuid.UUID]int
}

var (
	_ tree.Store      = (*Store)(nil)
	_ tree.Transactor = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), log: &queryLog{queries: map[string]int{}}}
}

func newState() *state {
	return &state{
		nodes:   map[uuid.UUID]*model.OptionNode{},
		options: map[uuid.UUID]*model.Option{},
		sets:    map[uuid.UUID]*model.OptionSet{},
		answers: map[uuid.UUID]int{},
		choices: map[uuid.UUID]int{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.nodes {
		c.nodes[k] = v.Clone()
	}
	for k, v := range st.options {
		c.options[k] = v.Clone()
	}
	for k, v := range st.sets {
		c.sets[k] = cloneSet(v)
	}
	for k, v := range st.answers {
		c.answers[k] = v
	}
	for k, v := range st.choices {
		c.choices[k] = v
	}
	return c
}

// WithTx runs fn with the store itself. Transactions are serialized, and a
// snapshot taken before fn is restored when fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tree.Store) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(s)
}

// ReadTx runs fn against a copy of the committed state. Writes made through
// the copy are discarded.
func (s *Store) ReadTx(ctx context.Context, fn func(tree.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// txMu keeps a half-applied transaction out of the copy
	s.txMu.Lock()
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()
	s.txMu.Unlock()

	return fn(&Store{data: snapshot, log: s.log})
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// Queries returns how many times the named method ran since the last reset.
func (s *Store) Queries(method string) int {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.log.queries[method]
}

// ResetQueries zeroes every query counter.
func (s *Store) ResetQueries() {
	s.log.mu.Lock()
	s.log.queries = map[string]int{}
	s.log.mu.Unlock()
}

func (s *Store) count(method string) {
	s.log.mu.Lock()
	s.log.queries[method]++
	s.log.mu.Unlock()
}

// RecordAnswer registers an answer that selected optionID.
func (s *Store) RecordAnswer(optionID uuid.UUID) {
	s.mu.Lock()
	s.data.answers[optionID]++
	s.mu.Unlock()
}

// RecordChoice registers a multi-select choice of optionID.
func (s *Store) RecordChoice(optionID uuid.UUID) {
	s.mu.Lock()
	s.data.choices[optionID]++
	s.mu.Unlock()
}

// load returns a copy of n with its option attached. Callers hold mu.
func (s *Store) load(n *model.OptionNode) *model.OptionNode {
	c := n.Clone()
	c.Option = nil
	if n.OptionID.Valid {
		if o, ok := s.data.options[n.OptionID.UUID]; ok {
			c.Option = o.Clone()
		}
	}
	return c
}

func (s *Store) FindNode(_ context.Context, id uuid.UUID) (*model.OptionNode, error) {
	s.count("FindNode")
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.data.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, tree.ErrNotFound)
	}
	return s.load(n), nil
}

func (s *Store) FindNodes(_ context.Context, ids []uuid.UUID) ([]*model.OptionNode, error) {
	s.count("FindNodes")
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]*model.OptionNode, len(ids))
	for i, id := range ids {
		n, ok := s.data.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node %s: %w", id, tree.ErrNotFound)
		}
		out[i] = s.load(n)
	}
	return out, nil
}

func (s *Store) FindChildren(_ context.Context, parent *model.OptionNode) ([]*model.OptionNode, error) {
	s.count("FindChildren")
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := parent.ChildAncestry()
	var out []*model.OptionNode
	for _, n := range s.data.nodes {
		if n.Ancestry.Equal(want) {
			out = append(out, s.load(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) FindChildrenOfAny(_ context.Context, parents []*model.OptionNode) ([]*model.OptionNode, error) {
	s.count("FindChildrenOfAny")
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(parents))
	for _, p := range parents {
		want[p.ChildAncestry().Encode()] = true
	}
	var out []*model.OptionNode
	for _, n := range s.data.nodes {
		if len(n.Ancestry) > 0 && want[n.Ancestry.Encode()] {
			out = append(out, s.load(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) FindDescendants(_ context.Context, ancestor *model.OptionNode) ([]*model.OptionNode, error) {
	s.count("FindDescendants")
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := ancestor.ChildAncestry()
	var out []*model.OptionNode
	for _, n := range s.data.nodes {
		if n.Ancestry.HasPrefix(prefix) {
			out = append(out, s.load(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (s *Store) CountDescendants(_ context.Context, ancestor *model.OptionNode) (int, error) {
	s.count("CountDescendants")
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := ancestor.ChildAncestry()
	total := 0
	for _, n := range s.data.nodes {
		if n.Ancestry.HasPrefix(prefix) {
			total++
		}
	}
	return total, nil
}

func (s *Store) CreateNode(_ context.Context, node *model.OptionNode) error {
	s.count("CreateNode")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	now := time.Now().UTC()
	node.CreatedAt, node.UpdatedAt = now, now
	s.data.nodes[node.ID] = stripNode(node)
	return nil
}

func (s *Store) UpdateNode(_ context.Context, node *model.OptionNode) error {
	s.count("UpdateNode")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.nodes[node.ID]; !ok {
		return fmt.Errorf("node %s: %w", node.ID, tree.ErrNotFound)
	}
	node.UpdatedAt = time.Now().UTC()
	s.data.nodes[node.ID] = stripNode(node)
	return nil
}

func (s *Store) DestroyCascade(_ context.Context, node *model.OptionNode) error {
	s.count("DestroyCascade")
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := node.ChildAncestry()
	for id, n := range s.data.nodes {
		if id == node.ID || n.Ancestry.HasPrefix(prefix) {
			delete(s.data.nodes, id)
		}
	}
	return nil
}

func (s *Store) FindOption(_ context.Context, id uuid.UUID) (*model.Option, error) {
	s.count("FindOption")
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.options[id]
	if !ok {
		return nil, fmt.Errorf("option %s: %w", id, tree.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *Store) SaveOption(_ context.Context, option *model.Option) error {
	s.count("SaveOption")
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.data.options[option.ID]; ok {
		option.CreatedAt = prev.CreatedAt
	} else {
		option.CreatedAt = now
	}
	option.UpdatedAt = now
	s.data.options[option.ID] = option.Clone()
	return nil
}

func (s *Store) HasAnswersOrChoices(_ context.Context, optionID uuid.UUID) (bool, error) {
	s.count("HasAnswersOrChoices")
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.answers[optionID] > 0 || s.data.choices[optionID] > 0, nil
}

func (s *Store) OptionSetNames(_ context.Context, optionIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	s.count("OptionSetNames")
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uuid.UUID]map[string]bool, len(optionIDs))
	for _, id := range optionIDs {
		want[id] = map[string]bool{}
	}
	for _, n := range s.data.nodes {
		if !n.OptionID.Valid {
			continue
		}
		names, ok := want[n.OptionID.UUID]
		if !ok {
			continue
		}
		if set, ok := s.data.sets[n.OptionSetID]; ok {
			names[set.Name] = true
		}
	}
	out := make(map[uuid.UUID][]string, len(want))
	for id, names := range want {
		if len(names) == 0 {
			continue
		}
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		out[id] = list
	}
	return out, nil
}

func (s *Store) CreateOptionSet(_ context.Context, set *model.OptionSet) error {
	s.count("CreateOptionSet")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.sets[set.ID]; ok {
		return fmt.Errorf("option set %s already exists", set.ID)
	}
	now := time.Now().UTC()
	set.CreatedAt, set.UpdatedAt = now, now
	s.data.sets[set.ID] = cloneSet(set)
	return nil
}

func (s *Store) FindOptionSet(_ context.Context, id uuid.UUID) (*model.OptionSet, error) {
	s.count("FindOptionSet")
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.data.sets[id]
	if !ok {
		return nil, fmt.Errorf("option set %s: %w", id, tree.ErrNotFound)
	}
	return cloneSet(set), nil
}

func (s *Store) ListOptionSets(_ context.Context) ([]*model.OptionSet, error) {
	s.count("ListOptionSets")
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OptionSet, 0, len(s.data.sets))
	for _, set := range s.data.sets {
		out = append(out, cloneSet(set))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func stripNode(n *model.OptionNode) *model.OptionNode {
	c := n.Clone()
	c.Option = nil
	return c
}

func cloneSet(s *model.OptionSet) *model.OptionSet {
	c := *s
	if s.LevelNames != nil {
		c.LevelNames = make([]map[string]string, len(s.LevelNames))
		for i, names := range s.LevelNames {
			m := make(map[string]string, len(names))
			for k, v := range names {
				m[k] = v
			}
			c.LevelNames[i] = m
		}
	}
	return &c
}

// sortNodes orders nodes by depth, then rank.
func sortNodes(nodes []*model.OptionNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		if nodes[i].Rank != nodes[j].Rank {
			return nodes[i].Rank < nodes[j].Rank
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
}
