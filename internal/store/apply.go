package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/codeatlas/codeatlas/internal/extract"
	"github.com/codeatlas/codeatlas/internal/graph"
)

// RowFailure reports one rejected row with its context.
type RowFailure struct {
	FilePath string
	Kind     string
	ID       string
	Err      string
}

// Report summarizes one Apply call.
type Report struct {
	FilesApplied int
	NodesWritten int
	EdgesWritten int
	EdgesDemoted int
	Failures     []RowFailure
	MissingKinds []string
}

// defaultBatchRows is the default write batch size; SQLite's 999
// bind-variable limit still caps the per-statement chunk (8 columns per
// node row, 4 per edge row).
const defaultBatchRows = 1000

func (s *Store) nodeChunkSize() int {
	return min(s.effectiveBatchRows(), 999/8)
}

func (s *Store) edgeChunkSize() int {
	return min(s.effectiveBatchRows(), 999/4)
}

func (s *Store) effectiveBatchRows() int {
	if s.batchRows > 0 {
		return s.batchRows
	}
	return defaultBatchRows
}

// Apply writes an extraction delta in two phases so edge endpoints are
// inserted before any edge in the batch: first every entity in the delta
// (Externals, then each file's subtree replacement), then every file's
// edges. Each file's subtree swap and each file's edge set commit in their
// own transactions. Identity-stable sub-entities recover their IDs, so
// edges into them from unmodified files survive. Batch failures retry row
// by row; surviving rows commit and failures are reported with row context.
func (s *Store) Apply(delta *extract.Delta) (*Report, error) {
	report := &Report{}
	nodeKinds, err := s.DeclaredNodeKinds()
	if err != nil {
		return nil, fmt.Errorf("schema kinds: %w", err)
	}
	relKinds, err := s.DeclaredRelKinds()
	if err != nil {
		return nil, fmt.Errorf("schema kinds: %w", err)
	}
	missing := make(map[string]bool)

	if len(delta.Externals) > 0 {
		if err := s.WithTransaction(func(tx *Store) error {
			return tx.upsertEntities(delta.Externals, nodeKinds, missing, report)
		}); err != nil {
			return report, fmt.Errorf("apply externals: %w", err)
		}
	}

	// Phase 1: entities. The existing File subtree is detach-deleted and
	// the new one inserted in the same transaction.
	for _, fd := range delta.Files {
		fd := fd
		if err := s.WithTransaction(func(tx *Store) error {
			if err := tx.DeleteFileSubtree(fd.FilePath); err != nil {
				return err
			}
			return tx.upsertEntities(fd.Entities, nodeKinds, missing, report)
		}); err != nil {
			// Store I/O failure aborts the run; row-level problems were
			// already downgraded to report entries.
			return report, fmt.Errorf("apply %s: %w", fd.FilePath, err)
		}
	}

	// Phase 2: edges. Every endpoint resolved by pass 2 is now present
	// regardless of file ordering; the exists check only demotes
	// references the resolver could not have produced.
	for _, fd := range delta.Files {
		fd := fd
		if err := s.WithTransaction(func(tx *Store) error {
			return tx.insertEdges(&fd, relKinds, missing, report)
		}); err != nil {
			return report, fmt.Errorf("apply edges %s: %w", fd.FilePath, err)
		}
		report.FilesApplied++
	}

	if err := s.CleanupDanglingEdges(); err != nil {
		return report, fmt.Errorf("cleanup edges: %w", err)
	}
	if err := s.CollectExternals(); err != nil {
		return report, fmt.Errorf("gc externals: %w", err)
	}

	for k := range missing {
		report.MissingKinds = append(report.MissingKinds, k)
	}
	sort.Strings(report.MissingKinds)
	for _, k := range report.MissingKinds {
		slog.Warn("apply.missing_kind", "kind", k)
	}
	return report, nil
}

// upsertEntities writes entities as parameterized upserts keyed on
// identity, in chunks, retrying failed chunks row by row.
func (s *Store) upsertEntities(entities []*graph.Entity, declared map[string]bool, missing map[string]bool, report *Report) error {
	accepted := make([]*graph.Entity, 0, len(entities))
	for _, e := range entities {
		if !declared[string(e.Kind)] {
			// Refuse kinds absent from the schema; report the kind once
			// per run, the row always.
			missing[string(e.Kind)] = true
			report.Failures = append(report.Failures, RowFailure{
				FilePath: e.FilePath, Kind: string(e.Kind), ID: e.ID,
				Err: "entity kind not declared in schema",
			})
			continue
		}
		accepted = append(accepted, e)
	}

	chunkSize := s.nodeChunkSize()
	for i := 0; i < len(accepted); i += chunkSize {
		end := min(i+chunkSize, len(accepted))
		chunk := accepted[i:end]
		if err := s.upsertEntityChunk(chunk); err != nil {
			// Retry each row individually; the survivors commit.
			for _, e := range chunk {
				if rowErr := s.upsertEntityChunk([]*graph.Entity{e}); rowErr != nil {
					slog.Debug("apply.row_conflict", "id", e.ID, "err", rowErr)
					report.Failures = append(report.Failures, RowFailure{
						FilePath: e.FilePath, Kind: string(e.Kind), ID: e.ID, Err: rowErr.Error(),
					})
					continue
				}
				report.NodesWritten++
			}
			continue
		}
		report.NodesWritten += len(chunk)
	}
	return nil
}

func (s *Store) upsertEntityChunk(chunk []*graph.Entity) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO nodes (id, kind, name, qualified_name, file_path, start_line, end_line, properties) VALUES ")
	args := make([]any, 0, len(chunk)*8)
	for i, e := range chunk {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?)")
		args = append(args, e.ID, string(e.Kind), e.Name, e.QualifiedName, e.FilePath,
			e.StartLine, e.EndLine, marshalProps(e.Properties))
	}
	sb.WriteString(` ON CONFLICT(id) DO UPDATE SET
		kind=excluded.kind, name=excluded.name, qualified_name=excluded.qualified_name,
		file_path=excluded.file_path, start_line=excluded.start_line,
		end_line=excluded.end_line, properties=excluded.properties`)
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("upsert nodes: %w", err)
	}
	return nil
}

// insertEdges writes a file's edges after verifying both endpoints exist.
// A missing target demotes the edge to an interned External target; an edge
// whose source is missing is reported as a failure and not written.
func (s *Store) insertEdges(fd *extract.FileDelta, declared map[string]bool, missing map[string]bool, report *Report) error {
	idSet := make(map[string]bool)
	for _, e := range fd.Edges {
		idSet[e.SourceID] = true
		idSet[e.TargetID] = true
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	exists, err := s.NodeIDsExist(ids)
	if err != nil {
		return err
	}

	var rows []graph.Relationship
	for _, e := range fd.Edges {
		if !declared[string(e.Kind)] {
			missing[string(e.Kind)] = true
			report.Failures = append(report.Failures, RowFailure{
				FilePath: fd.FilePath, Kind: string(e.Kind), Err: "relationship kind not declared in schema",
			})
			continue
		}
		if !exists[e.SourceID] {
			report.Failures = append(report.Failures, RowFailure{
				FilePath: fd.FilePath, Kind: string(e.Kind), ID: e.SourceID, Err: "edge source missing",
			})
			continue
		}
		if !exists[e.TargetID] {
			ext := graph.NewExternal("unresolved:" + shortID(e.TargetID))
			if err := s.upsertEntityChunk([]*graph.Entity{ext}); err != nil {
				return err
			}
			exists[ext.ID] = true
			e.TargetID = ext.ID
			report.EdgesDemoted++
		}
		rows = append(rows, e)
	}

	chunkSize := s.edgeChunkSize()
	for i := 0; i < len(rows); i += chunkSize {
		end := min(i+chunkSize, len(rows))
		chunk := rows[i:end]
		if err := s.insertEdgeChunk(chunk); err != nil {
			for _, e := range chunk {
				if rowErr := s.insertEdgeChunk([]graph.Relationship{e}); rowErr != nil {
					slog.Debug("apply.edge_conflict", "source", e.SourceID, "kind", e.Kind, "err", rowErr)
					report.Failures = append(report.Failures, RowFailure{
						FilePath: fd.FilePath, Kind: string(e.Kind), ID: e.SourceID, Err: rowErr.Error(),
					})
					continue
				}
				report.EdgesWritten++
			}
			continue
		}
		report.EdgesWritten += len(chunk)
	}
	return nil
}

func (s *Store) insertEdgeChunk(chunk []graph.Relationship) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO edges (source_id, target_id, kind, properties) VALUES ")
	args := make([]any, 0, len(chunk)*4)
	for i, e := range chunk {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?)")
		args = append(args, e.SourceID, e.TargetID, string(e.Kind), marshalProps(e.Properties))
	}
	sb.WriteString(" ON CONFLICT(source_id, target_id, kind) DO UPDATE SET properties=excluded.properties")
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert edges: %w", err)
	}
	return nil
}

// DeleteFileSubtree detach-deletes a File entity and every entity it owns.
// Outgoing edges of the subtree go with it; incoming edges from other files
// are left for CleanupDanglingEdges so identity-stable re-inserts keep them.
func (s *Store) DeleteFileSubtree(filePath string) error {
	if _, err := s.q.Exec(`DELETE FROM edges WHERE source_id IN (SELECT id FROM nodes WHERE file_path=?)`, filePath); err != nil {
		return err
	}
	_, err := s.q.Exec("DELETE FROM nodes WHERE file_path=?", filePath)
	return err
}

// CleanupDanglingEdges removes edges with a missing endpoint. Run after a
// batch of file deltas has been applied.
func (s *Store) CleanupDanglingEdges() error {
	_, err := s.q.Exec(`DELETE FROM edges WHERE
		source_id NOT IN (SELECT id FROM nodes) OR
		target_id NOT IN (SELECT id FROM nodes)`)
	return err
}

// CollectExternals garbage-collects External entities no edge targets.
func (s *Store) CollectExternals() error {
	_, err := s.q.Exec(`DELETE FROM nodes WHERE kind='External'
		AND id NOT IN (SELECT target_id FROM edges)
		AND id NOT IN (SELECT source_id FROM edges)`)
	return err
}

// Clear drops all graph contents, preserving the schema.
func (s *Store) Clear() error {
	if _, err := s.q.Exec("DELETE FROM edges"); err != nil {
		return err
	}
	_, err := s.q.Exec("DELETE FROM nodes")
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
