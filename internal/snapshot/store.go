package snapshot

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"scriptlang/internal/ir"
)

// Store persists snapshots across process restarts for hosts that want
// that durability; the in-memory *ir.Snapshot value remains the primary,
// store-independent contract, so a host that just wants snapshot/resume in
// one process never needs this type.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) a SQLite-backed snapshot store at
// filename.
func OpenStore(filename string) (*Store, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping snapshot store: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS engine_snapshots (
		save_name TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		compiler_version TEXT NOT NULL,
		engine_instance_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create snapshot schema: %w", err)
	}
	return nil
}

// Save upserts a snapshot under saveName, keyed by the host's own naming
// scheme (a slot name, a player id, whatever the host uses to address a
// save).
func (s *Store) Save(saveName string, snap *ir.Snapshot) error {
	data, encErr := Encode(snap)
	if encErr != nil {
		return fmt.Errorf("failed to encode snapshot: %s", encErr.Message)
	}

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	query := psql.Insert("engine_snapshots").
		Options("OR REPLACE").
		Columns("save_name", "schema_version", "compiler_version", "engine_instance_id", "payload").
		Values(saveName, snap.SchemaVersion, snap.CompilerVersion, snap.EngineInstanceID, string(data))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build snapshot upsert: %w", err)
	}
	if _, err := s.db.Exec(sqlStr, args...); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load decodes (but does not semantically Validate) the snapshot stored
// under saveName. Callers should run Validate against their compiled
// project before handing the result to an engine's Resume.
func (s *Store) Load(saveName string) (*ir.Snapshot, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	query := psql.Select("payload").From("engine_snapshots").Where(squirrel.Eq{"save_name": saveName})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot query: %w", err)
	}

	var payload string
	if err := s.db.QueryRow(sqlStr, args...).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no snapshot saved under %q", saveName)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap, decErr := Decode([]byte(payload))
	if decErr != nil {
		return nil, fmt.Errorf("failed to decode stored snapshot: %s", decErr.Message)
	}
	return snap, nil
}

// Delete removes a save slot. Not an error if it doesn't exist.
func (s *Store) Delete(saveName string) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	query := psql.Delete("engine_snapshots").Where(squirrel.Eq{"save_name": saveName})
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build snapshot delete: %w", err)
	}
	if _, err := s.db.Exec(sqlStr, args...); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// List returns every save_name currently stored, for a host's save-slot
// picker.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT save_name FROM engine_snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
