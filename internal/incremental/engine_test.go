package incremental

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/store"
)

type fixture struct {
	root   string
	cfg    *config.Config
	store  *store.Store
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default(root)
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return &fixture{root: root, cfg: cfg, store: s, engine: New(cfg, s)}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(f.root, rel)); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) update(t *testing.T) *Summary {
	t.Helper()
	s, err := f.engine.Update(context.Background(), f.root, false)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// snapshot captures the graph as a multiset of entity and edge signatures,
// path-relativized so two stores over different roots compare equal.
func snapshot(t *testing.T, s *store.Store, root string) []string {
	t.Helper()
	nodes, err := s.AllNodes()
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]string, len(nodes))
	var sigs []string
	for _, n := range nodes {
		rel := n.FilePath
		if r, err := filepath.Rel(root, n.FilePath); err == nil && n.FilePath != "" {
			rel = r
		}
		sig := fmt.Sprintf("node|%s|%s|%s|%d|%d", n.Kind, rel, n.QualifiedName, n.StartLine, n.EndLine)
		byID[n.ID] = sig
		sigs = append(sigs, sig)
	}
	edges, err := s.AllEdges()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		sigs = append(sigs, fmt.Sprintf("edge|%s|%s|%s", e.Kind, byID[e.SourceID], byID[e.TargetID]))
	}
	sort.Strings(sigs)
	return sigs
}

func equalSnapshots(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nodeID(t *testing.T, s *store.Store, kind, name string) string {
	t.Helper()
	nodes, err := s.FindNodesByName(name)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		if n.Kind == kind {
			return n.ID
		}
	}
	return ""
}

func TestInitialRunIndexesEverything(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "import b\n\ndef f():\n    g()\n")
	f.write(t, "b.py", "def g():\n    pass\n")

	sum := f.update(t)
	if sum.Added != 2 {
		t.Errorf("added: %d", sum.Added)
	}
	if n, _ := f.store.CountNodes(); n == 0 {
		t.Fatal("nothing written")
	}

	// The forward cross-file edge survives application order: a.py sorts
	// before b.py, yet CALLS(f, g) lands on b.py's real g, not a demoted
	// External.
	idF := nodeID(t, f.store, "Function", "f")
	idG := nodeID(t, f.store, "Function", "g")
	if idF == "" || idG == "" {
		t.Fatal("functions missing")
	}
	calls, err := f.store.FindEdgesBySource(idF, "CALLS")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].TargetID != idG {
		t.Errorf("CALLS(f, g) not written: %+v", calls)
	}
	if nodes, _ := f.store.FindNodesByKind("External"); len(nodes) != 0 {
		t.Errorf("resolved references were demoted: %v", nodes)
	}
}

func TestNoopRunSkipsEverything(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    pass\n")
	f.update(t)

	sum := f.update(t)
	if sum.Added != 0 || sum.Modified != 0 || sum.Deleted != 0 {
		t.Errorf("unexpected work: %+v", sum)
	}
	if sum.Unchanged != 1 {
		t.Errorf("unchanged: %d", sum.Unchanged)
	}
}

// Incremental add: existing entities keep their IDs; the new file's call
// resolves through the import registry.
func TestIncrementalAdd(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "import b\n\ndef f():\n    g()\n")
	f.write(t, "b.py", "def g():\n    pass\n")
	f.update(t)

	idF := nodeID(t, f.store, "Function", "f")
	idG := nodeID(t, f.store, "Function", "g")
	if idF == "" || idG == "" {
		t.Fatal("baseline functions missing")
	}

	f.write(t, "c.py", "import a\n\ndef h():\n    a.f()\n")
	sum := f.update(t)
	if sum.Added != 1 || sum.Unchanged != 2 {
		t.Errorf("classification: %+v", sum)
	}

	if nodeID(t, f.store, "Function", "f") != idF {
		t.Error("f lost its identity on incremental add")
	}
	if nodeID(t, f.store, "Function", "g") != idG {
		t.Error("g lost its identity on incremental add")
	}

	idH := nodeID(t, f.store, "Function", "h")
	if idH == "" {
		t.Fatal("h missing")
	}
	calls, err := f.store.FindEdgesBySource(idH, "CALLS")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range calls {
		if e.TargetID == idF {
			found = true
		}
	}
	if !found {
		t.Error("CALLS(h, f) not resolved via the import registry")
	}
}

// Incremental delete: the c.py subtree and its outgoing edges disappear; f
// survives with its identity intact.
func TestIncrementalDelete(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "import b\n\ndef f():\n    g()\n")
	f.write(t, "b.py", "def g():\n    pass\n")
	f.write(t, "c.py", "import a\n\ndef h():\n    a.f()\n")
	f.update(t)

	idF := nodeID(t, f.store, "Function", "f")
	idH := nodeID(t, f.store, "Function", "h")
	if idF == "" || idH == "" {
		t.Fatal("baseline missing")
	}

	f.remove(t, "c.py")
	sum := f.update(t)
	if sum.Deleted != 1 {
		t.Errorf("deleted: %d", sum.Deleted)
	}

	if nodeID(t, f.store, "Function", "h") != "" {
		t.Error("h survived file deletion")
	}
	if calls, _ := f.store.FindEdgesByTarget(idF, "CALLS"); len(calls) != 0 {
		t.Error("CALLS(h, f) survived deletion")
	}
	if nodeID(t, f.store, "Function", "f") != idF {
		t.Error("f identity changed on unrelated delete")
	}
}

func TestDeleteCollectsOrphanedExternals(t *testing.T) {
	f := newFixture(t)
	f.write(t, "only.py", "import numpy as np\n\ndef use():\n    np.array([1])\n")
	f.update(t)

	if nodeID(t, f.store, "External", "numpy") == "" {
		t.Fatal("external missing after first run")
	}

	f.remove(t, "only.py")
	f.update(t)

	if nodeID(t, f.store, "External", "numpy") != "" {
		t.Error("External with zero incoming edges survived delete")
	}
}

func TestModifiedFileReparsed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    pass\n")
	f.update(t)

	f.write(t, "a.py", "def f():\n    pass\n\ndef extra():\n    pass\n")
	sum := f.update(t)
	if sum.Modified != 1 {
		t.Errorf("modified: %d", sum.Modified)
	}
	if nodeID(t, f.store, "Function", "extra") == "" {
		t.Error("new function not extracted")
	}
}

// Property: after a sequence of edits, the incremental store equals a full
// rebuild of the final filesystem state.
func TestIncrementalEquivalence(t *testing.T) {
	inc := newFixture(t)
	inc.write(t, "a.py", "import b\n\ndef f():\n    g()\n")
	inc.write(t, "b.py", "def g():\n    pass\n")
	inc.update(t)

	inc.write(t, "c.py", "import a\n\ndef h():\n    a.f()\n")
	inc.update(t)
	inc.write(t, "b.py", "def g():\n    return 1\n\ndef g2():\n    pass\n")
	inc.update(t)
	inc.remove(t, "a.py")
	inc.update(t)

	// Rebuild the identical final tree from scratch in a fresh fixture.
	full := newFixture(t)
	full.write(t, "b.py", "def g():\n    return 1\n\ndef g2():\n    pass\n")
	full.write(t, "c.py", "import a\n\ndef h():\n    a.f()\n")
	full.update(t)

	a := snapshot(t, inc.store, inc.root)
	b := snapshot(t, full.store, full.root)
	if !equalSnapshots(a, b) {
		t.Errorf("incremental and full stores diverge:\nincremental: %v\nfull: %v", a, b)
	}
}

func TestFullModeResetsJournal(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    pass\n")
	f.update(t)

	j, err := LoadJournal(f.cfg.JournalPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(j.Hashes) != 1 {
		t.Fatalf("journal entries: %d", len(j.Hashes))
	}

	if _, err := f.engine.Update(context.Background(), f.root, true); err != nil {
		t.Fatal(err)
	}
	sum := f.update(t)
	if sum.Added != 0 || sum.Modified != 0 {
		t.Errorf("post-full noop expected, got %+v", sum)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hashes.json")
	j, err := LoadJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	j.Hashes["/p/a.py"] = "abc"
	if err := j.Save(); err != nil {
		t.Fatal(err)
	}

	j2, err := LoadJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if j2.Hashes["/p/a.py"] != "abc" {
		t.Error("journal round-trip lost data")
	}

	if err := j2.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("reset left the journal file behind")
	}
}
