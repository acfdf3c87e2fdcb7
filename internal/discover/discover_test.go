package discover

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codeatlas/codeatlas/internal/lang"
)

func writeFiles(t *testing.T, files map[string]string) string {
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

func relPaths(files []FileInfo) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestDiscoverClaimsByExtension(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py":       "x = 1\n",
		"b.ts":       "const b = 1;\n",
		"c.html":     "<div></div>\n",
		"d.scss":     ".d {}\n",
		"readme.md":  "docs\n",
		"binary.pyc": "\x00",
	})
	res, err := Discover(context.Background(), root, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(relPaths(res.Files), ",")
	for _, want := range []string{"a.py", "b.ts", "c.html", "d.scss"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in %s", want, got)
		}
	}
	if strings.Contains(got, "readme.md") {
		t.Error("unclaimed extension discovered")
	}

	for _, f := range res.Files {
		if f.RelPath == "a.py" && f.Language != lang.Python {
			t.Error("wrong language claim for a.py")
		}
	}
}

func TestDiscoverSkipsDefaultDirs(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"src/main.py":             "x = 1\n",
		"node_modules/dep/idx.js": "x\n",
		".git/hook.py":            "x\n",
	})
	res, err := Discover(context.Background(), root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 || res.Files[0].RelPath != "src/main.py" {
		t.Errorf("files: %v", relPaths(res.Files))
	}
}

func TestDiscoverExcludePatterns(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"keep.py":         "x = 1\n",
		"skip_me.py":      "x = 1\n",
		"generated/g.py":  "x = 1\n",
	})
	res, err := Discover(context.Background(), root, &Options{
		ExcludePatterns: []string{"skip_*.py", "generated"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 || res.Files[0].RelPath != "keep.py" {
		t.Errorf("files: %v", relPaths(res.Files))
	}
}

func TestDiscoverIgnoreFile(t *testing.T) {
	root := writeFiles(t, map[string]string{
		IgnoreFileName: "vendor/\n*.gen.py\n",
		"app.py":       "x = 1\n",
		"x.gen.py":     "x = 1\n",
		"vendor/v.py":  "x = 1\n",
	})
	res, err := Discover(context.Background(), root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 || res.Files[0].RelPath != "app.py" {
		t.Errorf("files: %v", relPaths(res.Files))
	}
}

func TestDiscoverSizeCap(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"small.py": "x = 1\n",
		"big.py":   strings.Repeat("# padding\n", 200),
	})
	res, err := Discover(context.Background(), root, &Options{MaxFileSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 || res.Files[0].RelPath != "small.py" {
		t.Errorf("files: %v", relPaths(res.Files))
	}
	if len(res.Skipped) != 1 || res.Skipped[0].RelPath != "big.py" {
		t.Errorf("skipped: %v", relPaths(res.Skipped))
	}
}

func TestEnumerateDedupes(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": "x = 1\n"})
	res, err := Enumerate(context.Background(), root, []string{"a.py", "a.py", "./a.py"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("each path must be parsed exactly once, got %d", len(res.Files))
	}
}
