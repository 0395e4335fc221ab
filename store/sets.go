package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"optiontree/cas"
	"optiontree/model"
	"optiontree/tree"
)

const setColumns = `id, name, mission_id, standard_id, root_node_id, level_names, geographic, allow_coordinates, created_at, updated_at`

// CreateOptionSet inserts an option set.
func (s *Store) CreateOptionSet(ctx context.Context, set *model.OptionSet) error {
	var levels interface{}
	if len(set.LevelNames) > 0 {
		b, err := json.Marshal(set.LevelNames)
		if err != nil {
			return fmt.Errorf("encoding level names: %w", err)
		}
		levels = string(b)
	}

	now := cas.NowMs()
	_, err := s.exec(ctx,
		`INSERT INTO option_sets (`+setColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID.String(), set.Name, nullString(set.MissionID), nullString(set.StandardID), set.RootNodeID.String(),
		levels, set.Geographic, set.AllowCoordinates, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("option set %s: %w", set.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting option set: %w", err)
	}
	set.CreatedAt, set.UpdatedAt = cas.FromMs(now), cas.FromMs(now)
	return nil
}

func scanSet(sc scanner) (*model.OptionSet, error) {
	var (
		set              model.OptionSet
		levels           sql.NullString
		created, updated int64
	)
	err := sc.Scan(&set.ID, &set.Name, &set.MissionID, &set.StandardID, &set.RootNodeID,
		&levels, &set.Geographic, &set.AllowCoordinates, &created, &updated)
	if err != nil {
		return nil, err
	}
	if levels.Valid && levels.String != "" {
		if err := json.Unmarshal([]byte(levels.String), &set.LevelNames); err != nil {
			return nil, fmt.Errorf("decoding level names of set %s: %w", set.ID, err)
		}
	}
	set.CreatedAt, set.UpdatedAt = cas.FromMs(created), cas.FromMs(updated)
	return &set, nil
}

// FindOptionSet loads an option set by id.
func (s *Store) FindOptionSet(ctx context.Context, id uuid.UUID) (*model.OptionSet, error) {
	set, err := scanSet(s.queryRow(ctx, `SELECT `+setColumns+` FROM option_sets WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("option set %s: %w", id, tree.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying option set: %w", err)
	}
	return set, nil
}

// ListOptionSets returns every option set ordered by name.
func (s *Store) ListOptionSets(ctx context.Context) ([]*model.OptionSet, error) {
	rows, err := s.query(ctx, `SELECT `+setColumns+` FROM option_sets ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying option sets: %w", err)
	}
	defer rows.Close()

	var out []*model.OptionSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, rows.Err()
}
