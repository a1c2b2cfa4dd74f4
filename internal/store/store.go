package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/funvibe/typetag/internal/codec"
	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no tag or registry has the requested key.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS registries (
	id      TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	data    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tags (
	name        TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	data        BLOB NOT NULL,
	registry_id TEXT REFERENCES registries(id)
);
`

// Store persists named tags and registry snapshots in SQLite. Payloads are
// the versioned binary encoding.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRegistry stores a snapshot under its ID. Saving the same ID again
// replaces the payload.
func (s *Store) SaveRegistry(ctx context.Context, r *subtype.Registry) error {
	return s.saveRegistry(ctx, s.db, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) saveRegistry(ctx context.Context, db execer, r *subtype.Registry) error {
	data, err := codec.MarshalRegistry(r)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO registries (id, version, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, data = excluded.data`,
		r.ID().String(), config.EncodingVersion, data)
	if err != nil {
		return fmt.Errorf("saving registry %s: %w", r.ID(), err)
	}
	return nil
}

// LoadRegistry returns the snapshot with the given ID.
func (s *Store) LoadRegistry(ctx context.Context, id uuid.UUID) (*subtype.Registry, error) {
	var version int
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT version, data FROM registries WHERE id = ?`, id.String()).
		Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading registry %s: %w", id, err)
	}
	if err := checkVersion(version); err != nil {
		return nil, fmt.Errorf("registry %s: %w", id, err)
	}
	return codec.UnmarshalRegistry(data)
}

// Registries lists stored registry IDs.
func (s *Store) Registries(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM registries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing registries: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("registry id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveTag stores t under name, together with the registry it is compared
// against when reg is non-nil.
func (s *Store) SaveTag(ctx context.Context, name string, t typesystem.Tag, reg *subtype.Registry) error {
	if name == "" {
		return fmt.Errorf("saving tag: empty name")
	}
	data, err := codec.MarshalTag(t)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving tag %s: %w", name, err)
	}
	defer tx.Rollback()

	var regID sql.NullString
	if reg != nil {
		if err := s.saveRegistry(ctx, tx, reg); err != nil {
			return err
		}
		regID = sql.NullString{String: reg.ID().String(), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tags (name, version, data, registry_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version, data = excluded.data, registry_id = excluded.registry_id`,
		name, config.EncodingVersion, data, regID)
	if err != nil {
		return fmt.Errorf("saving tag %s: %w", name, err)
	}
	return tx.Commit()
}

// LoadTag returns the tag stored under name and its registry, which is nil
// if none was saved with it.
func (s *Store) LoadTag(ctx context.Context, name string) (typesystem.Tag, *subtype.Registry, error) {
	var version int
	var data []byte
	var regID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT version, data, registry_id FROM tags WHERE name = ?`, name).
		Scan(&version, &data, &regID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading tag %s: %w", name, err)
	}
	if err := checkVersion(version); err != nil {
		return nil, nil, fmt.Errorf("tag %s: %w", name, err)
	}
	t, err := codec.UnmarshalTag(data)
	if err != nil {
		return nil, nil, fmt.Errorf("tag %s: %w", name, err)
	}
	if !regID.Valid {
		return t, nil, nil
	}
	id, err := uuid.Parse(regID.String)
	if err != nil {
		return nil, nil, fmt.Errorf("tag %s: registry id: %w", name, err)
	}
	reg, err := s.LoadRegistry(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("tag %s: %w", name, err)
	}
	return t, reg, nil
}

// TagNames lists stored tag names in order.
func (s *Store) TagNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteTag removes a tag. Its registry is kept.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting tag %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	return nil
}

func checkVersion(v int) error {
	if v != config.EncodingVersion {
		return fmt.Errorf("%w: %d (supported: %d)", codec.ErrVersion, v, config.EncodingVersion)
	}
	return nil
}
