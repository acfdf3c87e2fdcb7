// Package incremental reconciles the graph store with the filesystem:
// files are hashed, diffed against the journal, classified as
// added/modified/deleted/unchanged, and only the changed subset is
// re-extracted.
package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/discover"
	"github.com/codeatlas/codeatlas/internal/extract"
	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/registry"
	"github.com/codeatlas/codeatlas/internal/store"
)

// Summary reports one update run. Parse errors never fail the run; they are
// carried here. Store I/O failures surface as the returned error.
type Summary struct {
	Added     int
	Modified  int
	Deleted   int
	Unchanged int

	EntityCount int
	EdgeCount   int
	ParseErrors []graph.ParseError
	Report      *store.Report
	Duration    time.Duration
}

// Engine orchestrates the extractor over changed path subsets.
type Engine struct {
	cfg    *config.Config
	store  *store.Store
	driver *extract.Driver
}

// New creates an incremental engine.
func New(cfg *config.Config, s *store.Store) *Engine {
	return &Engine{cfg: cfg, store: s, driver: extract.New(cfg)}
}

// Update runs the incremental cycle over root. full short-circuits the
// classifier: the store contents and the journal are dropped first and
// everything on disk is treated as added. An initial run on an empty
// journal behaves identically.
func (e *Engine) Update(ctx context.Context, root string, full bool) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	journal, err := LoadJournal(e.cfg.JournalPath())
	if err != nil {
		return nil, err
	}

	if full {
		slog.Info("update.full", "root", root)
		if err := e.store.WithTransaction(func(tx *store.Store) error {
			return tx.Clear()
		}); err != nil {
			return nil, fmt.Errorf("clear store: %w", err)
		}
		if err := journal.Reset(); err != nil {
			return nil, fmt.Errorf("reset journal: %w", err)
		}
	}

	// Enumerate the on-disk set.
	disc, err := discover.Discover(ctx, root, &discover.Options{
		IncludePatterns: e.cfg.Parsing.IncludePatterns,
		ExcludePatterns: e.cfg.Parsing.ExcludePatterns,
		MaxFileSize:     e.cfg.Parsing.MaxFileSize,
		FollowSymlinks:  e.cfg.Parsing.FollowSymlinks,
	})
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	present := make(map[string]discover.FileInfo, len(disc.Files)+len(disc.Skipped))
	for _, f := range disc.Files {
		present[f.Path] = f
	}
	skippedSet := make(map[string]bool, len(disc.Skipped))
	for _, f := range disc.Skipped {
		present[f.Path] = f
		skippedSet[f.Path] = true
	}

	// The tracked set is what the store knows, not what the journal
	// remembers: a journal lost mid-run must not orphan graph contents.
	tracked := make(map[string]bool)
	trackedPaths, err := e.store.ListFilePaths()
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	for _, p := range trackedPaths {
		tracked[p] = true
	}

	hashes := hashAll(ctx, present)

	var added, modified []discover.FileInfo
	var deleted []string
	for path, fi := range present {
		if !tracked[path] {
			added = append(added, fi)
			continue
		}
		if prev, ok := journal.Hashes[path]; !ok || prev != hashes[path] {
			modified = append(modified, fi)
		} else {
			summary.Unchanged++
		}
	}
	for path := range tracked {
		if _, onDisk := present[path]; !onDisk {
			deleted = append(deleted, path)
		}
	}
	summary.Added = len(added)
	summary.Modified = len(modified)
	summary.Deleted = len(deleted)

	// Files holding edges into changed or deleted files must re-resolve:
	// their targets may have moved identity or vanished.
	reparse := make(map[string]bool, len(added)+len(modified))
	for _, f := range added {
		reparse[f.Path] = true
	}
	for _, f := range modified {
		reparse[f.Path] = true
	}
	var changedPaths []string
	for _, f := range modified {
		changedPaths = append(changedPaths, f.Path)
	}
	changedPaths = append(changedPaths, deleted...)
	dependents, err := e.store.FindDependentFiles(changedPaths)
	if err != nil {
		return nil, fmt.Errorf("find dependents: %w", err)
	}
	// A new file may satisfy references that previously demoted to
	// External under one of its module names.
	if names := moduleNames(root, added, e.cfg.Parsing.SourceRoots); len(names) > 0 {
		promoted, pErr := e.store.FindFilesReferencingExternals(names)
		if pErr != nil {
			return nil, fmt.Errorf("find promoted: %w", pErr)
		}
		dependents = append(dependents, promoted...)
	}
	for _, dep := range dependents {
		fi, onDisk := present[dep]
		if !onDisk || reparse[dep] {
			continue
		}
		reparse[dep] = true
		modified = append(modified, fi)
		summary.Unchanged--
	}

	slog.Info("update.classify",
		"added", summary.Added, "modified", summary.Modified,
		"deleted", summary.Deleted, "dependents", len(dependents),
		"unchanged", summary.Unchanged)

	// Delete: detach-delete each removed File subtree in one transaction,
	// then drop edges left dangling and Externals nothing references.
	for _, path := range deleted {
		if err := e.store.WithTransaction(func(tx *store.Store) error {
			return tx.DeleteFileSubtree(path)
		}); err != nil {
			return nil, fmt.Errorf("delete %s: %w", path, err)
		}
		delete(journal.Hashes, path)
		slog.Info("update.removed", "path", path)
	}
	if len(deleted) > 0 {
		if err := e.store.WithTransaction(func(tx *store.Store) error {
			if err := tx.CleanupDanglingEdges(); err != nil {
				return err
			}
			return tx.CollectExternals()
		}); err != nil {
			return nil, fmt.Errorf("delete cleanup: %w", err)
		}
	}

	// Re-parse added ∪ modified ∪ dependents. Unchanged files contribute
	// their symbols from persisted state so partial resolution matches a
	// full run.
	changed := append(added, modified...)
	if len(changed) > 0 {
		var parseable, skipped []discover.FileInfo
		for _, f := range changed {
			if skippedSet[f.Path] {
				skipped = append(skipped, f)
			} else {
				parseable = append(parseable, f)
			}
		}
		preseed, err := e.storedSeed(root, present, reparse)
		if err != nil {
			return nil, fmt.Errorf("stored seed: %w", err)
		}
		delta, err := e.driver.ExtractSeeded(ctx, root, parseable, skipped, preseed)
		if err != nil {
			return nil, err
		}
		summary.EntityCount = delta.EntityCount()
		summary.EdgeCount = delta.EdgeCount()
		summary.ParseErrors = delta.Errors()

		report, err := e.store.Apply(delta)
		if err != nil {
			return nil, err
		}
		summary.Report = report

		for _, f := range changed {
			if h, ok := hashes[f.Path]; ok {
				journal.Hashes[f.Path] = h
			}
		}
	}

	if err := journal.Save(); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	slog.Info("update.done",
		"entities", summary.EntityCount, "edges", summary.EdgeCount,
		"errors", len(summary.ParseErrors), "elapsed", summary.Duration)
	return summary, nil
}

// moduleNames lists the external names an added file could have been
// referenced under before it existed: its stem and its source-root-relative
// path in slash and dotted forms.
func moduleNames(root string, added []discover.FileInfo, sourceRoots []string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, f := range added {
		noExt := strings.TrimSuffix(f.RelPath, filepath.Ext(f.RelPath))
		add(filepath.Base(noExt))
		for _, sr := range sourceRoots {
			prefix := filepath.ToSlash(filepath.Clean(sr))
			if prefix == "." {
				add(noExt)
				add(strings.ReplaceAll(noExt, "/", "."))
				continue
			}
			if rel, ok := strings.CutPrefix(noExt, prefix+"/"); ok {
				add(rel)
				add(strings.ReplaceAll(rel, "/", "."))
				add("./" + rel)
			}
		}
		add("./" + noExt)
	}
	return names
}

// storedSeed rebuilds registry entries for every tracked file that is not
// being re-parsed, from the persisted nodes and containment edges.
func (e *Engine) storedSeed(root string, present map[string]discover.FileInfo, reparse map[string]bool) ([]registry.Entry, error) {
	var files []extract.StoredFile
	for path := range present {
		if reparse[path] {
			continue
		}
		sf, ok, err := e.storedFile(path)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, sf)
		}
	}
	return extract.StoredSeedEntries(files, root, e.cfg.Parsing.SourceRoots), nil
}

// storedFile reconstructs one file's seed material from the store.
func (e *Engine) storedFile(path string) (extract.StoredFile, bool, error) {
	nodes, err := e.store.FindNodesByFile(path)
	if err != nil {
		return extract.StoredFile{}, false, err
	}
	var file *store.Node
	for _, n := range nodes {
		if n.Kind == string(graph.KindFile) {
			file = n
			break
		}
	}
	if file == nil {
		return extract.StoredFile{}, false, nil
	}

	fileLevel := make(map[string]bool)
	classOf := make(map[string]string)
	for _, n := range nodes {
		edges, err := e.store.FindEdgesBySource(n.ID, "")
		if err != nil {
			return extract.StoredFile{}, false, err
		}
		for _, edge := range edges {
			if !graph.IsContainment(graph.RelKind(edge.Kind)) {
				continue
			}
			switch {
			case n.ID == file.ID:
				fileLevel[edge.TargetID] = true
			case strings.HasPrefix(edge.Kind, "MODULE_CONTAINS_"):
				fileLevel[edge.TargetID] = true
			case strings.HasPrefix(edge.Kind, "CLASS_CONTAINS_"):
				classOf[edge.TargetID] = n.Name
			}
		}
	}

	sf := extract.StoredFile{ID: file.ID, AbsPath: file.FilePath}
	for _, n := range nodes {
		if n.ID == file.ID {
			continue
		}
		m := extract.StoredMember{
			ID:        n.ID,
			Kind:      graph.EntityKind(n.Kind),
			Name:      n.Name,
			FileLevel: fileLevel[n.ID],
			ClassName: classOf[n.ID],
		}
		if exported, _ := n.Properties["is_exported"].(bool); exported {
			m.Exported = true
		}
		if sel, _ := n.Properties["selector"].(string); sel != "" {
			m.Selector = sel
		}
		sf.Members = append(sf.Members, m)
	}
	return sf, true, nil
}

// hashAll computes content hashes across CPU cores. Unreadable files hash
// to "" and classify as modified on the next run.
func hashAll(ctx context.Context, files map[string]discover.FileInfo) map[string]string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	results := make([]string, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			h, err := hashFile(p)
			if err == nil {
				results[i] = h
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(paths))
	for i, p := range paths {
		out[p] = results[i]
	}
	return out
}
