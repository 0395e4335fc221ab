package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"optiontree/cas"
	"optiontree/model"
	"optiontree/tree"
)

const nodeColumns = `n.id, n.ancestry, n.ancestry_depth, n.rank, n.option_set_id, n.option_id,
	n.mission_id, n.standard_id, n.created_at, n.updated_at,
	o.id, o.name_translations, o.canonical_name, o.value, o.latitude, o.longitude,
	o.mission_id, o.standard_id, o.created_at, o.updated_at`

const nodeSelect = `SELECT ` + nodeColumns + ` FROM option_nodes n LEFT JOIN options o ON o.id = n.option_id`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(sc scanner) (*model.OptionNode, error) {
	var (
		n                    model.OptionNode
		ancestry             string
		created, updated     int64
		optID                uuid.NullUUID
		names, canonical     sql.NullString
		value                sql.NullInt64
		lat, lng             sql.NullFloat64
		optMission, optStd   uuid.NullUUID
		optCreated, optUpdtd sql.NullInt64
	)
	err := sc.Scan(&n.ID, &ancestry, &n.Depth, &n.Rank, &n.OptionSetID, &n.OptionID,
		&n.MissionID, &n.StandardID, &created, &updated,
		&optID, &names, &canonical, &value, &lat, &lng,
		&optMission, &optStd, &optCreated, &optUpdtd)
	if err != nil {
		return nil, err
	}
	if n.Ancestry, err = model.ParsePath(ancestry); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.CreatedAt, n.UpdatedAt = cas.FromMs(created), cas.FromMs(updated)

	if optID.Valid {
		o := &model.Option{
			ID:            optID.UUID,
			CanonicalName: canonical.String,
			MissionID:     optMission,
			StandardID:    optStd,
			CreatedAt:     cas.FromMs(optCreated.Int64),
			UpdatedAt:     cas.FromMs(optUpdtd.Int64),
		}
		if err := json.Unmarshal([]byte(names.String), &o.NameTranslations); err != nil {
			return nil, fmt.Errorf("decoding names of option %s: %w", o.ID, err)
		}
		if value.Valid {
			v := int(value.Int64)
			o.Value = &v
		}
		if lat.Valid {
			o.Latitude = &lat.Float64
		}
		if lng.Valid {
			o.Longitude = &lng.Float64
		}
		n.Option = o
	}
	return &n, nil
}

func (s *Store) queryNodes(ctx context.Context, q string, args ...interface{}) ([]*model.OptionNode, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.OptionNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FindNode loads a node and its option.
func (s *Store) FindNode(ctx context.Context, id uuid.UUID) (*model.OptionNode, error) {
	n, err := scanNode(s.queryRow(ctx, nodeSelect+` WHERE n.id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, tree.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}
	return n, nil
}

// FindNodes loads several nodes in one query, in the order of ids.
func (s *Store) FindNodes(ctx context.Context, ids []uuid.UUID) ([]*model.OptionNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	nodes, err := s.queryNodes(ctx, nodeSelect+` WHERE n.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	byID := make(map[uuid.UUID]*model.OptionNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := make([]*model.OptionNode, len(ids))
	for i, id := range ids {
		n, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("node %s: %w", id, tree.ErrNotFound)
		}
		out[i] = n
		// a repeated id gets its own copy
		byID[id] = n.Clone()
	}
	return out, nil
}

// FindChildren returns the direct children of parent ordered by rank.
func (s *Store) FindChildren(ctx context.Context, parent *model.OptionNode) ([]*model.OptionNode, error) {
	nodes, err := s.queryNodes(ctx, nodeSelect+` WHERE n.ancestry = ? ORDER BY n.rank, n.id`,
		parent.ChildAncestry().Encode())
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	return nodes, nil
}

// FindChildrenOfAny loads the children of every parent with a single IN query.
func (s *Store) FindChildrenOfAny(ctx context.Context, parents []*model.OptionNode) ([]*model.OptionNode, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(parents))
	for i, p := range parents {
		args[i] = p.ChildAncestry().Encode()
	}
	nodes, err := s.queryNodes(ctx,
		nodeSelect+` WHERE n.ancestry IN (`+placeholders(len(args))+`) ORDER BY n.ancestry, n.rank, n.id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying children of %d parents: %w", len(parents), err)
	}
	return nodes, nil
}

// descendantFilter matches every node whose ancestry starts with the child
// ancestry of node.
func descendantFilter(node *model.OptionNode) (string, []interface{}) {
	prefix := node.ChildAncestry().Encode()
	return `(n.ancestry = ? OR n.ancestry LIKE ?)`, []interface{}{prefix, prefix + model.PathSeparator + "%"}
}

// FindDescendants returns the whole subtree below ancestor, ordered by depth
// then rank.
func (s *Store) FindDescendants(ctx context.Context, ancestor *model.OptionNode) ([]*model.OptionNode, error) {
	where, args := descendantFilter(ancestor)
	nodes, err := s.queryNodes(ctx, nodeSelect+` WHERE `+where+` ORDER BY n.ancestry_depth, n.rank, n.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying descendants: %w", err)
	}
	return nodes, nil
}

// CountDescendants counts the subtree below ancestor.
func (s *Store) CountDescendants(ctx context.Context, ancestor *model.OptionNode) (int, error) {
	where, args := descendantFilter(ancestor)
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM option_nodes n WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting descendants: %w", err)
	}
	return n, nil
}

// CreateNode inserts a node.
func (s *Store) CreateNode(ctx context.Context, node *model.OptionNode) error {
	now := cas.NowMs()
	_, err := s.exec(ctx,
		`INSERT INTO option_nodes (id, ancestry, ancestry_depth, rank, option_set_id, option_id, mission_id, standard_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID.String(), node.Ancestry.Encode(), node.Ancestry.Depth(), node.Rank, node.OptionSetID.String(),
		nullString(node.OptionID), nullString(node.MissionID), nullString(node.StandardID), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("node %s: %w", node.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting node: %w", err)
	}
	node.CreatedAt, node.UpdatedAt = cas.FromMs(now), cas.FromMs(now)
	return nil
}

// UpdateNode writes a node's ancestry, rank and option reference.
func (s *Store) UpdateNode(ctx context.Context, node *model.OptionNode) error {
	now := cas.NowMs()
	res, err := s.exec(ctx,
		`UPDATE option_nodes SET ancestry = ?, ancestry_depth = ?, rank = ?, option_id = ?, updated_at = ? WHERE id = ?`,
		node.Ancestry.Encode(), node.Ancestry.Depth(), node.Rank, nullString(node.OptionID), now, node.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("node %s: %w", node.ID, tree.ErrNotFound)
	}
	node.UpdatedAt = cas.FromMs(now)
	return nil
}

// DestroyCascade deletes node and its subtree in one statement.
func (s *Store) DestroyCascade(ctx context.Context, node *model.OptionNode) error {
	where, args := descendantFilter(node)
	args = append([]interface{}{node.ID.String()}, args...)
	if _, err := s.exec(ctx, `DELETE FROM option_nodes WHERE id = ? OR `+stripAlias(where), args...); err != nil {
		return fmt.Errorf("deleting subtree: %w", err)
	}
	return nil
}

func stripAlias(where string) string {
	return strings.ReplaceAll(where, "n.", "")
}

func nullString(id uuid.NullUUID) interface{} {
	if !id.Valid {
		return nil
	}
	return id.UUID.String()
}
