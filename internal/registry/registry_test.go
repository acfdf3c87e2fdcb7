package registry

import "testing"

func TestLookupSingleCandidate(t *testing.T) {
	r := New()
	r.AddBatch([]Entry{
		{Key: SymbolKey("f1", "g"), Candidate: Candidate{ID: "id-g", FilePath: "/src/b.py"}},
	})
	c, ok := r.Lookup(SymbolKey("f1", "g"), "/src/a.py")
	if !ok || c.ID != "id-g" {
		t.Fatalf("lookup failed: %v %v", c, ok)
	}
}

func TestLookupMiss(t *testing.T) {
	r := New()
	if _, ok := r.Lookup(SymbolKey("f1", "missing"), "/src/a.py"); ok {
		t.Fatal("expected miss")
	}
}

func TestCollisionPrefersSameFile(t *testing.T) {
	r := New()
	r.AddBatch([]Entry{
		{Key: ModuleKey("util"), Candidate: Candidate{ID: "far", FilePath: "/src/lib/util.py"}},
		{Key: ModuleKey("util"), Candidate: Candidate{ID: "here", FilePath: "/src/app.py"}},
	})
	c, ok := r.Lookup(ModuleKey("util"), "/src/app.py")
	if !ok || c.ID != "here" {
		t.Errorf("expected same-file winner, got %v", c)
	}
}

func TestCollisionPrefersSameDirectory(t *testing.T) {
	r := New()
	r.AddBatch([]Entry{
		{Key: ModuleKey("helpers"), Candidate: Candidate{ID: "deep", FilePath: "/src/vendor/x/helpers.ts"}},
		{Key: ModuleKey("helpers"), Candidate: Candidate{ID: "near", FilePath: "/src/app/helpers.ts"}},
	})
	c, _ := r.Lookup(ModuleKey("helpers"), "/src/app/main.ts")
	if c.ID != "near" {
		t.Errorf("expected same-directory winner, got %v", c)
	}
}

func TestCollisionTotalOrderIsDeterministic(t *testing.T) {
	// Equal distance: lexicographic on absolute path decides, regardless of
	// insertion order.
	a := Entry{Key: ModuleKey("m"), Candidate: Candidate{ID: "a", FilePath: "/src/a/m.ts"}}
	b := Entry{Key: ModuleKey("m"), Candidate: Candidate{ID: "b", FilePath: "/src/b/m.ts"}}

	r1 := New()
	r1.AddBatch([]Entry{a, b})
	r2 := New()
	r2.AddBatch([]Entry{b, a})

	c1, _ := r1.Lookup(ModuleKey("m"), "/src/main.ts")
	c2, _ := r2.Lookup(ModuleKey("m"), "/src/main.ts")
	if c1.ID != c2.ID {
		t.Errorf("resolution depends on insertion order: %s vs %s", c1.ID, c2.ID)
	}
	if c1.ID != "a" {
		t.Errorf("expected lexicographic winner a, got %s", c1.ID)
	}
}

func TestAddBatchConcurrent(t *testing.T) {
	r := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			r.AddBatch([]Entry{
				{Key: SymbolKey("f", "shared"), Candidate: Candidate{ID: "x", FilePath: "/src/x.py"}},
			})
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if _, ok := r.Lookup(SymbolKey("f", "shared"), "/src/y.py"); !ok {
		t.Fatal("concurrent inserts lost")
	}
}
