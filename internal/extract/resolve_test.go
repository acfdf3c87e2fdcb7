package extract

import (
	"testing"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/registry"
)

func TestResolveModuleRelative(t *testing.T) {
	reg := registry.New()
	reg.AddBatch([]registry.Entry{
		{Key: registry.ModuleKey("/p/base"), Candidate: registry.Candidate{ID: "base-file", FilePath: "/p/base.ts"}},
	})
	r := newResolver(reg, "/p", "name")

	id, ok := r.resolveModule("./base", "/p/child.ts")
	if !ok || id != "base-file" {
		t.Errorf("relative specifier not resolved: %v %v", id, ok)
	}
	if _, ok := r.resolveModule("./nope", "/p/child.ts"); ok {
		t.Error("missing module resolved")
	}
}

func TestResolveModuleDottedPython(t *testing.T) {
	reg := registry.New()
	reg.AddBatch([]registry.Entry{
		{Key: registry.ModuleKey("pkg/mod"), Candidate: registry.Candidate{ID: "mod-file", FilePath: "/p/pkg/mod.py"}},
	})
	r := newResolver(reg, "/p", "name")

	id, ok := r.resolveModule("pkg.mod", "/p/main.py")
	if !ok || id != "mod-file" {
		t.Errorf("dotted specifier not resolved: %v %v", id, ok)
	}
}

func TestExternalGranularityName(t *testing.T) {
	r := newResolver(registry.New(), "/p", "name")
	if got := r.externalModuleName("@angular/core"); got != "@angular/core" {
		t.Errorf("per-name should keep the specifier: %s", got)
	}
}

func TestExternalGranularityPackage(t *testing.T) {
	r := newResolver(registry.New(), "/p", "package")
	cases := map[string]string{
		"@angular/core":   "@angular/core",
		"lodash/debounce": "lodash",
		"os.path":         "os",
		"numpy":           "numpy",
	}
	for in, want := range cases {
		if got := r.externalModuleName(in); got != want {
			t.Errorf("externalModuleName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInternCollapses(t *testing.T) {
	r := newResolver(registry.New(), "/p", "name")
	a := r.intern("numpy")
	b := r.intern("numpy")
	if a != b {
		t.Error("same name interned twice")
	}
	if len(r.externals()) != 1 {
		t.Errorf("externals: %d", len(r.externals()))
	}
}

func TestDecoratesFlipsDirection(t *testing.T) {
	reg := registry.New()
	reg.AddBatch([]registry.Entry{
		{Key: registry.SymbolKey("file-1", "cached"), Candidate: registry.Candidate{ID: "dec-fn", FilePath: "/p/a.py"}},
	})
	r := newResolver(reg, "/p", "name")

	res := &graph.ParseResult{
		FilePath: "/p/a.py",
		Entities: []*graph.Entity{{ID: "file-1", Kind: graph.KindFile, FilePath: "/p/a.py"}},
		Pending: []graph.PendingRelationship{{
			SourceID:   "target-fn",
			Kind:       graph.RelDecorates,
			Target:     "cached",
			TargetKind: graph.PendingSymbol,
			Scope:      graph.RefScope{FilePath: "/p/a.py"},
		}},
	}
	edges := r.resolveFile(res)
	if len(edges) != 1 {
		t.Fatalf("edges: %d", len(edges))
	}
	if edges[0].SourceID != "dec-fn" || edges[0].TargetID != "target-fn" {
		t.Errorf("DECORATES direction wrong: %+v", edges[0])
	}
}

func TestUnresolvedSymbolDemotesToExternal(t *testing.T) {
	r := newResolver(registry.New(), "/p", "name")
	res := &graph.ParseResult{
		FilePath: "/p/a.py",
		Entities: []*graph.Entity{{ID: "file-1", Kind: graph.KindFile, FilePath: "/p/a.py"}},
		Pending: []graph.PendingRelationship{{
			SourceID:   "fn-1",
			Kind:       graph.RelCalls,
			Target:     "mystery",
			TargetKind: graph.PendingSymbol,
			Scope:      graph.RefScope{FilePath: "/p/a.py"},
		}},
	}
	edges := r.resolveFile(res)
	if len(edges) != 1 {
		t.Fatalf("edges: %d", len(edges))
	}
	ext := r.externals()
	if len(ext) != 1 || ext[0].Name != "mystery" {
		t.Errorf("externals: %v", ext)
	}
	if edges[0].TargetID != ext[0].ID {
		t.Error("edge does not target the interned External")
	}
}

func TestDedupeEdges(t *testing.T) {
	edges := []graph.Relationship{
		{SourceID: "a", TargetID: "b", Kind: graph.RelCalls},
		{SourceID: "a", TargetID: "b", Kind: graph.RelCalls},
		{SourceID: "a", TargetID: "b", Kind: graph.RelUses},
	}
	out := dedupeEdges(edges)
	if len(out) != 2 {
		t.Errorf("deduped to %d, want 2", len(out))
	}
}
