package graph

import (
	"strings"
	"testing"
)

func TestIdentityDeterministic(t *testing.T) {
	a := Identity(KindFunction, "/src/a.py", "a.f", 1, 3)
	b := Identity(KindFunction, "/src/a.py", "a.f", 1, 3)
	if a != b {
		t.Errorf("identity not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestIdentityTupleSensitivity(t *testing.T) {
	base := Identity(KindFunction, "/src/a.py", "a.f", 1, 3)
	cases := map[string]string{
		"kind":  Identity(KindMethod, "/src/a.py", "a.f", 1, 3),
		"path":  Identity(KindFunction, "/src/b.py", "a.f", 1, 3),
		"qname": Identity(KindFunction, "/src/a.py", "a.g", 1, 3),
		"start": Identity(KindFunction, "/src/a.py", "a.f", 2, 3),
		"end":   Identity(KindFunction, "/src/a.py", "a.f", 1, 4),
	}
	for field, id := range cases {
		if id == base {
			t.Errorf("changing %s did not change identity", field)
		}
	}
}

func TestIdentityLengthPrefixing(t *testing.T) {
	// Without length prefixes these two tuples would serialize identically.
	a := Identity(KindFunction, "/src/ab", "c.f", 1, 1)
	b := Identity(KindFunction, "/src/a", "bc.f", 1, 1)
	if a == b {
		t.Error("ambiguous serialization: shifted field boundary collided")
	}
}

func TestSanitizeExternalNameShort(t *testing.T) {
	if got := SanitizeExternalName("numpy"); got != "numpy" {
		t.Errorf("short name altered: %s", got)
	}
	if got := SanitizeExternalName(""); got != "unknown" {
		t.Errorf("empty name: got %s", got)
	}
}

func TestSanitizeExternalNameLong(t *testing.T) {
	long := strings.Repeat("d3.select", 30) // 270 chars
	got := SanitizeExternalName(long)
	if len(got) > 99 {
		t.Errorf("sanitized name too long: %d chars", len(got))
	}
	if !strings.Contains(got, "...") {
		t.Errorf("missing truncation marker: %s", got)
	}

	// A name with no dot near the truncation point keeps the full prefix
	// budget and still lands under the bound.
	noDots := SanitizeExternalName(strings.Repeat("x", 200))
	if len(noDots) > 99 {
		t.Errorf("dotless name exceeds bound: %d chars", len(noDots))
	}

	other := long + "X"
	if SanitizeExternalName(long) == SanitizeExternalName(other) {
		t.Error("two distinct long names collided after sanitization")
	}
}

func TestSanitizeExternalNameFixedPoint(t *testing.T) {
	long := strings.Repeat("a", 200)
	once := SanitizeExternalName(long)
	twice := SanitizeExternalName(once)
	if once != twice {
		t.Errorf("sanitization not a fixed point: %q vs %q", once, twice)
	}
}

func TestExternalCollapsing(t *testing.T) {
	a := NewExternal("numpy")
	b := NewExternal("numpy")
	if a.ID != b.ID {
		t.Error("same external name produced different identities")
	}
	if a.Kind != KindExternal {
		t.Errorf("unexpected kind %s", a.Kind)
	}
}

func TestRekindPreservesTuple(t *testing.T) {
	e := &Entity{
		Kind:          KindClass,
		Name:          "XComponent",
		QualifiedName: "app.x.component.XComponent",
		FilePath:      "/src/app/x.component.ts",
		StartLine:     5,
		EndLine:       20,
	}
	e.ID = Identity(e.Kind, e.FilePath, e.QualifiedName, e.StartLine, e.EndLine)
	e.Rekind(KindComponent)
	want := Identity(KindComponent, e.FilePath, e.QualifiedName, 5, 20)
	if e.ID != want {
		t.Errorf("rekind did not recompute identity over the same tuple")
	}
	// Rekinding twice is idempotent.
	e.Rekind(KindComponent)
	if e.ID != want {
		t.Error("rekind not idempotent")
	}
}

func TestFileContainment(t *testing.T) {
	if FileContainment(KindComponent) != RelFileContainsComponent {
		t.Error("component containment edge wrong")
	}
	if FileContainment(KindFile) != "" {
		t.Error("File must not be file-contained")
	}
	if FileContainment(KindExternal) != "" {
		t.Error("External must not be file-contained")
	}
}
