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

// FindOption loads an option by id.
func (s *Store) FindOption(ctx context.Context, id uuid.UUID) (*model.Option, error) {
	var (
		o                model.Option
		names            string
		value            sql.NullInt64
		lat, lng         sql.NullFloat64
		created, updated int64
	)
	err := s.queryRow(ctx,
		`SELECT id, name_translations, canonical_name, value, latitude, longitude, mission_id, standard_id, created_at, updated_at
		 FROM options WHERE id = ?`, id.String(),
	).Scan(&o.ID, &names, &o.CanonicalName, &value, &lat, &lng, &o.MissionID, &o.StandardID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("option %s: %w", id, tree.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying option: %w", err)
	}
	if err := json.Unmarshal([]byte(names), &o.NameTranslations); err != nil {
		return nil, fmt.Errorf("decoding names of option %s: %w", id, err)
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
	o.CreatedAt, o.UpdatedAt = cas.FromMs(created), cas.FromMs(updated)
	return &o, nil
}

// SaveOption inserts the option or updates its attributes.
func (s *Store) SaveOption(ctx context.Context, o *model.Option) error {
	names, err := json.Marshal(o.NameTranslations)
	if err != nil {
		return fmt.Errorf("encoding option names: %w", err)
	}
	var value, lat, lng interface{}
	if o.Value != nil {
		value = *o.Value
	}
	if o.Latitude != nil {
		lat = *o.Latitude
	}
	if o.Longitude != nil {
		lng = *o.Longitude
	}

	now := cas.NowMs()
	_, err = s.exec(ctx,
		`INSERT INTO options (id, name_translations, canonical_name, value, latitude, longitude, mission_id, standard_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name_translations = excluded.name_translations,
		   canonical_name = excluded.canonical_name,
		   value = excluded.value,
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   updated_at = excluded.updated_at`,
		o.ID.String(), string(names), o.CanonicalName, value, lat, lng,
		nullString(o.MissionID), nullString(o.StandardID), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving option: %w", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = cas.FromMs(now)
	}
	o.UpdatedAt = cas.FromMs(now)
	return nil
}

// OptionSetNames returns the sorted names of the sets that use each option.
func (s *Store) OptionSetNames(ctx context.Context, optionIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(optionIDs))
	if len(optionIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(optionIDs))
	for i, id := range optionIDs {
		args[i] = id.String()
	}
	rows, err := s.query(ctx,
		`SELECT DISTINCT n.option_id, s.name FROM option_nodes n
		 JOIN option_sets s ON s.id = n.option_set_id
		 WHERE n.option_id IN (`+placeholders(len(optionIDs))+`)
		 ORDER BY s.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying option set names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning option set name: %w", err)
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

// HasAnswersOrChoices reports whether any response references the option.
func (s *Store) HasAnswersOrChoices(ctx context.Context, optionID uuid.UUID) (bool, error) {
	id := optionID.String()
	var n int
	err := s.queryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM answers WHERE option_id = ?) + (SELECT COUNT(*) FROM choices WHERE option_id = ?)`,
		id, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting answers: %w", err)
	}
	return n > 0, nil
}

// RecordAnswer stores an answer that selected optionID.
func (s *Store) RecordAnswer(ctx context.Context, optionID uuid.UUID) error {
	if _, err := s.exec(ctx, `INSERT INTO answers (id, option_id, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), optionID.String(), cas.NowMs()); err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}
	return nil
}

// RecordChoice stores a multi-select choice of optionID.
func (s *Store) RecordChoice(ctx context.Context, optionID uuid.UUID) error {
	if _, err := s.exec(ctx, `INSERT INTO choices (id, option_id, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), optionID.String(), cas.NowMs()); err != nil {
		return fmt.Errorf("inserting choice: %w", err)
	}
	return nil
}
