package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/graph"
)

// writeTree lays a fixture project under a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func extractTree(t *testing.T, root string) *Delta {
	t.Helper()
	cfg := config.Default(root)
	delta, err := New(cfg).ExtractTree(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	return delta
}

func deltaEntity(d *Delta, kind graph.EntityKind, name string) *graph.Entity {
	for _, f := range d.Files {
		for _, e := range f.Entities {
			if e.Kind == kind && e.Name == name {
				return e
			}
		}
	}
	for _, e := range d.Externals {
		if e.Kind == kind && e.Name == name {
			return e
		}
	}
	return nil
}

func deltaEdges(d *Delta, kind graph.RelKind) []graph.Relationship {
	var out []graph.Relationship
	for _, f := range d.Files {
		for _, e := range f.Edges {
			if e.Kind == kind {
				out = append(out, e)
			}
		}
	}
	return out
}

func hasEdge(d *Delta, kind graph.RelKind, sourceID, targetID string) bool {
	for _, e := range deltaEdges(d, kind) {
		if e.SourceID == sourceID && e.TargetID == targetID {
			return true
		}
	}
	return false
}

// Scenario: a.py calls g() declared in b.py and imports b.
func TestSimpleCallGraph(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "import b\n\ndef f():\n    g()\n",
		"b.py": "def g():\n    pass\n",
	})
	delta := extractTree(t, root)

	fileA := deltaEntity(delta, graph.KindFile, "a.py")
	fileB := deltaEntity(delta, graph.KindFile, "b.py")
	f := deltaEntity(delta, graph.KindFunction, "f")
	g := deltaEntity(delta, graph.KindFunction, "g")
	impB := deltaEntity(delta, graph.KindImport, "b")
	if fileA == nil || fileB == nil || f == nil || g == nil || impB == nil {
		t.Fatal("missing expected entities")
	}

	if !hasEdge(delta, graph.RelFileContainsFunction, fileA.ID, f.ID) {
		t.Error("missing FILE_CONTAINS_FUNCTION(a, f)")
	}
	if !hasEdge(delta, graph.RelFileContainsFunction, fileB.ID, g.ID) {
		t.Error("missing FILE_CONTAINS_FUNCTION(b, g)")
	}
	if !hasEdge(delta, graph.RelFileContainsImport, fileA.ID, impB.ID) {
		t.Error("missing FILE_CONTAINS_IMPORT(a, import_b)")
	}
	if !hasEdge(delta, graph.RelImports, impB.ID, fileB.ID) {
		t.Error("missing IMPORTS(import_b, b)")
	}
	if !hasEdge(delta, graph.RelCalls, f.ID, g.ID) {
		t.Error("missing CALLS(f, g)")
	}
}

// Scenario: Child extends Base across files via a named import.
func TestCrossFileInheritance(t *testing.T) {
	root := writeTree(t, map[string]string{
		"base.ts":  "export class Base {}\n",
		"child.ts": "import { Base } from './base';\nexport class Child extends Base {}\n",
	})
	delta := extractTree(t, root)

	base := deltaEntity(delta, graph.KindClass, "Base")
	child := deltaEntity(delta, graph.KindClass, "Child")
	if base == nil || child == nil {
		t.Fatal("missing classes")
	}
	if !hasEdge(delta, graph.RelInherits, child.ID, base.ID) {
		t.Error("INHERITS(Child, Base) not resolved by the registry")
	}
	if !hasEdge(delta, graph.RelImports,
		deltaEntity(delta, graph.KindImport, "Base").ID,
		deltaEntity(delta, graph.KindFile, "base.ts").ID) {
		t.Error("import edge not resolved to base.ts")
	}
}

// Scenario: a component resolves templateUrl/styleUrls to sibling files.
func TestComponentSideFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x.component.ts": `import { Component } from '@angular/core';

@Component({
  selector: 'app-x',
  templateUrl: './x.component.html',
  styleUrls: ['./x.component.scss']
})
export class X {}
`,
		"x.component.html": "<div>{{ title }}</div>\n",
		"x.component.scss": ".x { color: red; }\n",
	})
	delta := extractTree(t, root)

	comp := deltaEntity(delta, graph.KindComponent, "X")
	if comp == nil {
		t.Fatal("missing Component X")
	}
	if deltaEntity(delta, graph.KindClass, "X") != nil {
		t.Error("plain Class shadow present after rekind")
	}
	html := deltaEntity(delta, graph.KindFile, "x.component.html")
	scss := deltaEntity(delta, graph.KindFile, "x.component.scss")
	if !hasEdge(delta, graph.RelUsesTemplate, comp.ID, html.ID) {
		t.Error("USES_TEMPLATE not resolved to the sibling html file")
	}
	if !hasEdge(delta, graph.RelUsesStyles, comp.ID, scss.ID) {
		t.Error("USES_STYLES not resolved to the sibling scss file")
	}
}

// A templateUrl with no file on disk drops the edge; it is not demoted.
func TestMissingTemplateDropsEdge(t *testing.T) {
	root := writeTree(t, map[string]string{
		"y.component.ts": `import { Component } from '@angular/core';

@Component({ selector: 'app-y', templateUrl: './missing.html' })
export class Y {}
`,
	})
	delta := extractTree(t, root)

	if edges := deltaEdges(delta, graph.RelUsesTemplate); len(edges) != 0 {
		t.Errorf("expected no USES_TEMPLATE edges, got %d", len(edges))
	}
	for _, e := range delta.Externals {
		if e.Name == "./missing.html" {
			t.Error("missing template must not be interned as External")
		}
	}
}

// Scenario: two files referencing numpy collapse onto one External.
func TestExternalCollapsing(t *testing.T) {
	src := "import numpy as np\n\ndef use():\n    np.array([1])\n"
	root := writeTree(t, map[string]string{
		"one.py": src,
		"two.py": src,
	})
	delta := extractTree(t, root)

	var numpyCount int
	var numpyID string
	for _, e := range delta.Externals {
		if e.Name == "numpy" {
			numpyCount++
			numpyID = e.ID
		}
	}
	if numpyCount != 1 {
		t.Fatalf("expected exactly one External for numpy, got %d", numpyCount)
	}

	if n := len(deltaEdges(delta, graph.RelImports)); n != 2 {
		t.Errorf("expected 2 IMPORTS edges, got %d", n)
	}
	uses := deltaEdges(delta, graph.RelUses)
	if len(uses) != 2 {
		t.Fatalf("expected 2 USES edges, got %d", len(uses))
	}
	for _, u := range uses {
		if u.TargetID != numpyID {
			t.Error("USES edge does not target the shared External")
		}
		if path, _ := u.Properties["access_path"].(string); path != "array" {
			t.Errorf("access_path: got %q", path)
		}
	}
}

// Containment forms a forest rooted at File nodes.
func TestContainmentForest(t *testing.T) {
	root := writeTree(t, map[string]string{
		"m.py": "class C:\n    def m(self):\n        pass\n\ndef top():\n    x = 1\n",
	})
	delta := extractTree(t, root)

	parents := make(map[string]int)
	for _, f := range delta.Files {
		for _, e := range f.Edges {
			if graph.IsContainment(e.Kind) {
				parents[e.TargetID]++
			}
		}
	}
	for _, f := range delta.Files {
		for _, e := range f.Entities {
			if e.Kind == graph.KindFile {
				if parents[e.ID] != 0 {
					t.Errorf("File %s has a container", e.Name)
				}
				continue
			}
			if parents[e.ID] != 1 {
				t.Errorf("%s %s has %d container edges, want 1", e.Kind, e.Name, parents[e.ID])
			}
		}
	}
}

// Processing order cannot change the output graph.
func TestOrderIndependence(t *testing.T) {
	files := map[string]string{
		"a.py": "import b\n\ndef f():\n    g()\n",
		"b.py": "def g():\n    pass\n",
		"c.py": "import a\n\ndef h():\n    a.f()\n",
	}
	d1 := extractTree(t, writeTree(t, files))
	d2 := extractTree(t, writeTree(t, files))

	if d1.EntityCount() != d2.EntityCount() || d1.EdgeCount() != d2.EdgeCount() {
		t.Errorf("runs differ: %d/%d entities, %d/%d edges",
			d1.EntityCount(), d2.EntityCount(), d1.EdgeCount(), d2.EdgeCount())
	}
}

func TestCancellation(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "def f():\n    pass\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(config.Default(root)).ExtractTree(ctx, root); err == nil {
		t.Error("expected cancellation error")
	}
}
