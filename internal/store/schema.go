package store

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeatlas/codeatlas/internal/graph"
)

// schemaVersion is bumped when a migration step is added. Upgrades are
// additive: new kinds and columns may appear, existing ones are never
// renamed or removed.
const schemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	qualified_name TEXT NOT NULL,
	file_path TEXT DEFAULT '',
	start_line INTEGER DEFAULT 0,
	end_line INTEGER DEFAULT 0,
	properties TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);

CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	properties TEXT DEFAULT '{}',
	UNIQUE(source_id, target_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, kind);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, kind);
CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(kind);

CREATE TABLE IF NOT EXISTS schema_kinds (
	kind TEXT PRIMARY KEY,
	category TEXT NOT NULL
);
`

// initSchema creates missing tables and runs the schema probe: declared
// kinds absent from schema_kinds are added; a version bump triggers the
// migration steps between the stored and current version.
func (s *Store) initSchema() error {
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported %d", version, schemaVersion)
	}
	if version < schemaVersion {
		if err := s.migrate(version); err != nil {
			return fmt.Errorf("migrate from v%d: %w", version, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return err
		}
	}

	return s.probeKinds()
}

// probeKinds compares declared kinds to registered ones; missing kinds are
// inserted. Kinds present in the store but no longer declared are left in
// place — the schema is additive on upgrade.
func (s *Store) probeKinds() error {
	existing := make(map[string]bool)
	rows, err := s.db.Query("SELECT kind FROM schema_kinds")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return err
		}
		existing[k] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var inserts []string
	var args []any
	for _, k := range graph.AllEntityKinds() {
		if !existing[string(k)] {
			inserts = append(inserts, "(?, 'node')")
			args = append(args, string(k))
		}
	}
	for _, k := range graph.AllRelKinds() {
		if !existing[string(k)] {
			inserts = append(inserts, "(?, 'rel')")
			args = append(args, string(k))
		}
	}
	if len(inserts) == 0 {
		return nil
	}
	slog.Info("schema.probe", "new_kinds", len(inserts))
	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO schema_kinds (kind, category) VALUES "+strings.Join(inserts, ","),
		args...)
	return err
}

// migrate runs the versioned migration steps from the stored version up to
// the current one. Steps only add; they never rename or drop.
func (s *Store) migrate(from int) error {
	// v0 → v1: initial layout, created by ddl; nothing to transform.
	return nil
}

// DeclaredNodeKinds returns the node kinds the schema accepts.
func (s *Store) DeclaredNodeKinds() (map[string]bool, error) {
	return s.declaredKinds("node")
}

// DeclaredRelKinds returns the relationship kinds the schema accepts.
func (s *Store) DeclaredRelKinds() (map[string]bool, error) {
	return s.declaredKinds("rel")
}

func (s *Store) declaredKinds(category string) (map[string]bool, error) {
	rows, err := s.q.Query("SELECT kind FROM schema_kinds WHERE category=?", category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	kinds := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds[k] = true
	}
	return kinds, rows.Err()
}
