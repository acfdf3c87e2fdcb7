package lang

import "testing"

func TestForExtension(t *testing.T) {
	cases := map[string]Language{
		".py":   Python,
		".ts":   TypeScript,
		".tsx":  TSX,
		".js":   JavaScript,
		".html": HTML,
		".css":  CSS,
		".scss": CSS,
	}
	for ext, want := range cases {
		got, ok := LanguageForExtension(ext)
		if !ok || got != want {
			t.Errorf("LanguageForExtension(%q) = %q, %v", ext, got, ok)
		}
	}
	if _, ok := LanguageForExtension(".rb"); ok {
		t.Error("unclaimed extension resolved")
	}
}

func TestClaimPriority(t *testing.T) {
	Register(&LanguageSpec{Language: "test-low", FileExtensions: []string{".prio"}, ClaimPriority: 1})
	Register(&LanguageSpec{Language: "test-high", FileExtensions: []string{".prio"}, ClaimPriority: 2})
	Register(&LanguageSpec{Language: "test-late-low", FileExtensions: []string{".prio"}, ClaimPriority: 1})

	got, _ := LanguageForExtension(".prio")
	if got != "test-high" {
		t.Errorf("priority tiebreak: got %q", got)
	}
}

func TestEverySpecHasModuleNode(t *testing.T) {
	for _, l := range AllLanguages() {
		spec := ForLanguage(l)
		if spec == nil {
			t.Fatalf("no spec registered for %s", l)
		}
		if len(spec.FileExtensions) == 0 {
			t.Errorf("%s claims no extensions", l)
		}
		if len(spec.ModuleNodeTypes) == 0 {
			t.Errorf("%s declares no module node type", l)
		}
	}
}
