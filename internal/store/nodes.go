package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const nodeCols = "id, kind, name, qualified_name, file_path, start_line, end_line, properties"

// FindNodeByID finds a node by identity.
func (s *Store) FindNodeByID(id string) (*Node, error) {
	row := s.q.QueryRow("SELECT "+nodeCols+" FROM nodes WHERE id=?", id)
	return scanNode(row)
}

// FindNodesByKind finds all nodes with a given kind.
func (s *Store) FindNodesByKind(kind string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE kind=?", kind)
	if err != nil {
		return nil, fmt.Errorf("find by kind: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByName finds nodes by display name.
func (s *Store) FindNodesByName(name string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE name=?", name)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByFile finds all nodes owned by a file path.
func (s *Store) FindNodesByFile(filePath string) ([]*Node, error) {
	rows, err := s.q.Query("SELECT "+nodeCols+" FROM nodes WHERE file_path=?", filePath)
	if err != nil {
		return nil, fmt.Errorf("find by file: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// AllNodes returns every node.
func (s *Store) AllNodes() ([]*Node, error) {
	rows, err := s.q.Query("SELECT " + nodeCols + " FROM nodes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodeIDsExist returns the subset of ids present in the store.
func (s *Store) NodeIDsExist(ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	const batch = 900
	for i := 0; i < len(ids); i += batch {
		end := min(i+batch, len(ids))
		chunk := ids[i:end]
		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for j, id := range chunk {
			args[j] = id
		}
		if err := func() error {
			rows, err := s.q.Query("SELECT id FROM nodes WHERE id IN ("+placeholders+")", args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return err
				}
				result[id] = true
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CountNodes returns the total node count.
func (s *Store) CountNodes() (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count)
	return count, err
}

// CountNodesByKind returns node counts per kind.
func (s *Store) CountNodesByKind() (map[string]int, error) {
	rows, err := s.q.Query("SELECT kind, COUNT(*) FROM nodes GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// CountEdges returns the total edge count.
func (s *Store) CountEdges() (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM edges").Scan(&count)
	return count, err
}

// CountEdgesByKind returns edge counts per kind.
func (s *Store) CountEdgesByKind() (map[string]int, error) {
	rows, err := s.q.Query("SELECT kind, COUNT(*) FROM edges GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// ListFilePaths returns the path of every File node: the tracked set the
// incremental engine diffs against the disk.
func (s *Store) ListFilePaths() ([]string, error) {
	rows, err := s.q.Query("SELECT file_path FROM nodes WHERE kind='File'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FindDependentFiles returns the paths of files holding an edge into any
// entity owned by the given paths. The incremental engine re-resolves these
// when their targets change or disappear.
func (s *Store) FindDependentFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	inSet := make(map[string]bool, len(paths))
	placeholders := make([]string, len(paths))
	args := make([]any, len(paths))
	for i, p := range paths {
		inSet[p] = true
		placeholders[i] = "?"
		args[i] = p
	}
	query := fmt.Sprintf(`SELECT DISTINCT src.file_path
		FROM edges e
		JOIN nodes tgt ON tgt.id = e.target_id
		JOIN nodes src ON src.id = e.source_id
		WHERE tgt.file_path IN (%s) AND src.file_path != ''`,
		strings.Join(placeholders, ","))
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if !inSet[p] {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// FindFilesReferencingExternals returns the paths of files holding an edge
// onto an External entity with one of the given names. When a new file
// satisfies a previously-external reference, these files re-resolve.
func (s *Store) FindFilesReferencingExternals(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = "?"
		args[i] = n
	}
	query := fmt.Sprintf(`SELECT DISTINCT src.file_path
		FROM edges e
		JOIN nodes tgt ON tgt.id = e.target_id
		JOIN nodes src ON src.id = e.source_id
		WHERE tgt.kind = 'External' AND tgt.name IN (%s) AND src.file_path != ''`,
		strings.Join(placeholders, ","))
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindEdgesBySource returns edges leaving a node, optionally filtered by
// kind (empty matches all).
func (s *Store) FindEdgesBySource(sourceID, kind string) ([]*Edge, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.q.Query("SELECT id, source_id, target_id, kind, properties FROM edges WHERE source_id=?", sourceID)
	} else {
		rows, err = s.q.Query("SELECT id, source_id, target_id, kind, properties FROM edges WHERE source_id=? AND kind=?", sourceID, kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByTarget returns edges arriving at a node, optionally filtered
// by kind.
func (s *Store) FindEdgesByTarget(targetID, kind string) ([]*Edge, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.q.Query("SELECT id, source_id, target_id, kind, properties FROM edges WHERE target_id=?", targetID)
	} else {
		rows, err = s.q.Query("SELECT id, source_id, target_id, kind, properties FROM edges WHERE target_id=? AND kind=?", targetID, kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// AllEdges returns every edge.
func (s *Store) AllEdges() ([]*Edge, error) {
	rows, err := s.q.Query("SELECT id, source_id, target_id, kind, properties FROM edges")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var props string
	err := row.Scan(&n.ID, &n.Kind, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Properties = UnmarshalProps(props)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var result []*Node
	for rows.Next() {
		var n Node
		var props string
		if err := rows.Scan(&n.ID, &n.Kind, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props); err != nil {
			return nil, err
		}
		n.Properties = UnmarshalProps(props)
		result = append(result, &n)
	}
	return result, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var result []*Edge
	for rows.Next() {
		var e Edge
		var props string
		if err := rows.Scan(&e.RowID, &e.SourceID, &e.TargetID, &e.Kind, &props); err != nil {
			return nil, err
		}
		e.Properties = UnmarshalProps(props)
		result = append(result, &e)
	}
	return result, rows.Err()
}
