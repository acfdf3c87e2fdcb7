// Package extract implements the two-pass extraction driver: parallel
// front-end parsing with registry accumulation (pass 1), then parallel
// reference resolution against the frozen registry (pass 2), producing an
// extraction delta for the store adapter.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/discover"
	"github.com/codeatlas/codeatlas/internal/frontend"
	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/registry"
)

// FileDelta is the extraction output for one file: its entities and the
// edges whose source lives in the file.
type FileDelta struct {
	FilePath string // absolute
	Entities []*graph.Entity
	Edges    []graph.Relationship
	Errors   []graph.ParseError
}

// Delta is the ordered output of one driver run. Externals are interned
// across files; everything else is file-scoped.
type Delta struct {
	Files     []FileDelta
	Externals []*graph.Entity
}

// EntityCount returns the total number of entities in the delta.
func (d *Delta) EntityCount() int {
	n := len(d.Externals)
	for _, f := range d.Files {
		n += len(f.Entities)
	}
	return n
}

// EdgeCount returns the total number of edges in the delta.
func (d *Delta) EdgeCount() int {
	n := 0
	for _, f := range d.Files {
		n += len(f.Edges)
	}
	return n
}

// Errors flattens every per-file error list.
func (d *Delta) Errors() []graph.ParseError {
	var all []graph.ParseError
	for _, f := range d.Files {
		all = append(all, f.Errors...)
	}
	return all
}

// Driver discovers files, invokes front-ends in parallel, runs the two
// passes, and emits the delta.
type Driver struct {
	cfg *config.Config
}

// New creates a driver over the given configuration.
func New(cfg *config.Config) *Driver {
	return &Driver{cfg: cfg}
}

// Extract runs both passes over an already-discovered file set.
// Cancellation is cooperative: workers check ctx between files.
func (d *Driver) Extract(ctx context.Context, root string, files, skipped []discover.FileInfo) (*Delta, error) {
	return d.ExtractSeeded(ctx, root, files, skipped, nil)
}

// ExtractSeeded additionally pre-seeds the registry, letting the
// incremental engine contribute unchanged files' symbols from persisted
// state so a partial re-parse resolves like a full one.
func (d *Driver) ExtractSeeded(ctx context.Context, root string, files, skipped []discover.FileInfo, preseed []registry.Entry) (*Delta, error) {
	start := time.Now()
	reg := registry.New()
	reg.AddBatch(preseed)
	opts := frontend.Options{IncludeDocstrings: d.cfg.Parsing.IncludeDocstrings}

	workers := d.cfg.Parsing.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(files) && len(files) > 0 {
		workers = len(files)
	}

	// Pass 1: parallel parse. Each worker owns its parse state; the shared
	// registry takes one batched insert per finished file.
	slog.Info("pass1.parse", "files", len(files), "workers", workers)
	results := make([]*graph.ParseResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = parseOne(f, opts)
			reg.AddBatch(seedEntries(results[i], root, d.cfg.Parsing.SourceRoots))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Skipped files still produce File entities so links to them resolve.
	for _, f := range skipped {
		res := frontend.SkippedFileResult(f.Path, f.RelPath, f.Size)
		results = append(results, res)
		reg.AddBatch(seedEntries(res, root, d.cfg.Parsing.SourceRoots))
	}

	slog.Info("pass1.done", "symbols", reg.Size(), "elapsed", time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Coalesce: dedupe entities with identical identity within each file.
	for _, r := range results {
		if r != nil {
			dedupeEntities(r)
		}
	}

	// Pass 2: resolution is a pure function on the frozen registry plus
	// the pending edges; parallel per file.
	t := time.Now()
	res := newResolver(reg, root, d.cfg.Parsing.ExternalGranularity)
	deltas := make([]FileDelta, len(results))

	g2, g2ctx := errgroup.WithContext(ctx)
	g2.SetLimit(workers)
	for i, r := range results {
		g2.Go(func() error {
			if err := g2ctx.Err(); err != nil {
				return err
			}
			if r == nil {
				return nil
			}
			deltas[i] = FileDelta{
				FilePath: r.FilePath,
				Entities: r.Entities,
				Edges:    res.resolveFile(r),
				Errors:   r.Errors,
			}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}
	slog.Info("pass2.done", "elapsed", time.Since(t))

	delta := &Delta{Externals: res.externals()}
	for _, fd := range deltas {
		if fd.FilePath != "" {
			delta.Files = append(delta.Files, fd)
		}
	}
	sort.Slice(delta.Files, func(i, j int) bool {
		return delta.Files[i].FilePath < delta.Files[j].FilePath
	})

	slog.Info("extract.done",
		"files", len(delta.Files),
		"entities", delta.EntityCount(),
		"edges", delta.EdgeCount(),
		"externals", len(delta.Externals),
		"elapsed", time.Since(start))
	return delta, nil
}

// ExtractTree discovers under root and extracts everything found.
func (d *Driver) ExtractTree(ctx context.Context, root string) (*Delta, error) {
	disc, err := discover.Discover(ctx, root, d.discoverOptions())
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	return d.Extract(ctx, root, disc.Files, disc.Skipped)
}

// ExtractPaths extracts an explicit path set.
func (d *Driver) ExtractPaths(ctx context.Context, root string, paths []string) (*Delta, error) {
	disc, err := discover.Enumerate(ctx, root, paths, d.discoverOptions())
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	return d.Extract(ctx, root, disc.Files, disc.Skipped)
}

func (d *Driver) discoverOptions() *discover.Options {
	return &discover.Options{
		IncludePatterns: d.cfg.Parsing.IncludePatterns,
		ExcludePatterns: d.cfg.Parsing.ExcludePatterns,
		MaxFileSize:     d.cfg.Parsing.MaxFileSize,
		FollowSymlinks:  d.cfg.Parsing.FollowSymlinks,
	}
}

// parseOne reads and parses a single file, degrading to a File-entity-only
// result on read failure. Parse state is released when this returns; only
// entities and pendings survive.
func parseOne(f discover.FileInfo, opts frontend.Options) *graph.ParseResult {
	fe := frontend.ForLanguage(f.Language, opts)
	if fe == nil {
		return nil
	}
	source, err := os.ReadFile(f.Path)
	if err != nil {
		res := frontend.SkippedFileResult(f.Path, f.RelPath, 0)
		res.Errors = []graph.ParseError{{FilePath: f.Path, Line: 1, Message: err.Error()}}
		return res
	}
	source = stripBOM(source)
	return fe.ParseFile(f.Path, f.RelPath, source)
}

func stripBOM(source []byte) []byte {
	if len(source) >= 3 && source[0] == 0xEF && source[1] == 0xBB && source[2] == 0xBF {
		return source[3:]
	}
	return source
}

// dedupeEntities coalesces entities with identical identity from the same
// file, keeping the first occurrence.
func dedupeEntities(r *graph.ParseResult) {
	seen := make(map[string]bool, len(r.Entities))
	out := r.Entities[:0]
	for _, e := range r.Entities {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	r.Entities = out
}
