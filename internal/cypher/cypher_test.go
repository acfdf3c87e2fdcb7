package cypher

import (
	"context"
	"testing"

	"github.com/codeatlas/codeatlas/internal/extract"
	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	file := &graph.Entity{
		ID: graph.Identity(graph.KindFile, "/p/a.py", "a.py", 1, 9), Kind: graph.KindFile,
		Name: "a.py", QualifiedName: "a.py", FilePath: "/p/a.py", StartLine: 1, EndLine: 9,
	}
	f := &graph.Entity{
		ID: graph.Identity(graph.KindFunction, "/p/a.py", "a.f", 1, 4), Kind: graph.KindFunction,
		Name: "f", QualifiedName: "a.f", FilePath: "/p/a.py", StartLine: 1, EndLine: 4,
		Properties: map[string]any{"complexity": 3},
	}
	g := &graph.Entity{
		ID: graph.Identity(graph.KindFunction, "/p/a.py", "a.g", 5, 9), Kind: graph.KindFunction,
		Name: "g", QualifiedName: "a.g", FilePath: "/p/a.py", StartLine: 5, EndLine: 9,
		Properties: map[string]any{"complexity": 1},
	}
	delta := &extract.Delta{Files: []extract.FileDelta{{
		FilePath: "/p/a.py",
		Entities: []*graph.Entity{file, f, g},
		Edges: []graph.Relationship{
			{SourceID: file.ID, TargetID: f.ID, Kind: graph.RelFileContainsFunction},
			{SourceID: file.ID, TargetID: g.ID, Kind: graph.RelFileContainsFunction},
			{SourceID: f.ID, TargetID: g.ID, Kind: graph.RelCalls},
		},
	}}}
	if _, err := s.Apply(delta); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestValidateReadOnlyRejectsWrites(t *testing.T) {
	bad := []string{
		"CREATE (n:Function {name: \"x\"})",
		"MATCH (n) DELETE n",
		"MATCH (n) SET n.name = \"y\"",
		"MERGE (n:File)",
		"DROP TABLE nodes",
		"MATCH (n) CALL something()",
	}
	for _, q := range bad {
		if err := ValidateReadOnly(q); err == nil {
			t.Errorf("write query accepted: %s", q)
		}
	}
	if err := ValidateReadOnly("MATCH (f:Function) RETURN f.name"); err != nil {
		t.Errorf("read query rejected: %v", err)
	}
}

func TestParseBasicMatch(t *testing.T) {
	q, err := Parse(`MATCH (f:Function)-[:CALLS]->(g:Function) WHERE f.name = "f" RETURN g.name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Match.Pattern.Elements) != 3 {
		t.Fatalf("pattern elements: %d", len(q.Match.Pattern.Elements))
	}
	rel, ok := q.Match.Pattern.Elements[1].(*RelPattern)
	if !ok || rel.Direction != "outbound" || rel.Kinds[0] != "CALLS" {
		t.Errorf("rel pattern: %+v", rel)
	}
	if q.Where == nil || q.Where.Conditions[0].Value != "f" {
		t.Error("where clause not parsed")
	}
}

func TestParseParamSubstitution(t *testing.T) {
	q, err := Parse("MATCH (f:Function) WHERE f.name = $fname RETURN f.name", map[string]string{"fname": "f"})
	if err != nil {
		t.Fatal(err)
	}
	if q.Where.Conditions[0].Value != "f" {
		t.Errorf("param not substituted: %+v", q.Where.Conditions[0])
	}

	if _, err := Parse("MATCH (f:Function) WHERE f.name = $missing RETURN f", nil); err == nil {
		t.Error("unbound parameter accepted")
	}
}

func TestQueryScanAndFilter(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (f:Function) WHERE f.name = "f" RETURN f.name, f.qualified_name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows: %d", len(res.Rows))
	}
	if res.Rows[0]["f.qualified_name"] != "a.f" {
		t.Errorf("row: %v", res.Rows[0])
	}
}

func TestQueryExpand(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (f:Function)-[:CALLS]->(g:Function) RETURN f.name, g.name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows: %d", len(res.Rows))
	}
	if res.Rows[0]["f.name"] != "f" || res.Rows[0]["g.name"] != "g" {
		t.Errorf("row: %v", res.Rows[0])
	}
}

func TestQueryInbound(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (g:Function)<-[:CALLS]-(f) RETURN g.name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["g.name"] != "g" {
		t.Errorf("rows: %v", res.Rows)
	}
}

func TestQueryCount(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (f:Function) RETURN COUNT(f) AS total`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["total"] != 2 {
		t.Errorf("count rows: %v", res.Rows)
	}
}

func TestQueryNumericComparison(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (f:Function) WHERE f.complexity > 2 RETURN f.name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["f.name"] != "f" {
		t.Errorf("rows: %v", res.Rows)
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (f:Function) RETURN f.name ORDER BY f.name DESC LIMIT 1`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["f.name"] != "g" {
		t.Errorf("rows: %v", res.Rows)
	}
}

func TestQueryVariableLength(t *testing.T) {
	s := seededStore(t)
	exec := &Executor{Store: s}

	res, err := exec.Query(context.Background(), `MATCH (file:File)-[*1..2]->(n) RETURN DISTINCT n.name ORDER BY n.name`, nil)
	if err != nil {
		t.Fatal(err)
	}
	// one hop reaches f and g; the walk visits each node once, so the second
	// hop adds nothing
	if len(res.Rows) != 2 {
		t.Errorf("rows: %v", res.Rows)
	}
}
