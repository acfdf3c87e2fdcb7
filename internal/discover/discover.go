package discover

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/codeatlas/codeatlas/internal/lang"
)

// IgnoreFileName holds extra exclusion patterns, one per line, gitignore
// syntax.
const IgnoreFileName = ".atlasignore"

// defaultSkipDirs are directory names skipped regardless of configuration.
var defaultSkipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".idea": true, ".vscode": true,
	"__pycache__": true, ".mypy_cache": true, ".pytest_cache": true,
	"node_modules": true, "bower_components": true, ".venv": true,
	"venv": true, "env": true, "dist": true, "build": true,
	"coverage": true, ".angular": true, ".cache": true,
}

// FileInfo represents a discovered source file.
type FileInfo struct {
	Path     string // absolute path
	RelPath  string // relative to the walk root, slash-separated
	Size     int64
	Language lang.Language
}

// Options configures discovery.
type Options struct {
	IncludePatterns []string // glob patterns; empty means include everything
	ExcludePatterns []string // glob patterns matched against names and rel paths
	MaxFileSize     int64    // files above the cap are reported, not parsed
	FollowSymlinks  bool
}

// Result separates parseable files from files skipped for size.
type Result struct {
	Files   []FileInfo
	Skipped []FileInfo // over the size cap; still get a File entity
}

type matcher struct {
	include []glob.Glob
	exclude []glob.Glob
	ignore  *gitignore.GitIgnore
}

func newMatcher(root string, opts *Options) *matcher {
	m := &matcher{}
	for _, p := range opts.IncludePatterns {
		if g, err := glob.Compile(p, '/'); err == nil {
			m.include = append(m.include, g)
		} else {
			slog.Warn("discover.bad_pattern", "pattern", p, "err", err)
		}
	}
	for _, p := range opts.ExcludePatterns {
		if g, err := glob.Compile(p, '/'); err == nil {
			m.exclude = append(m.exclude, g)
		} else {
			slog.Warn("discover.bad_pattern", "pattern", p, "err", err)
		}
	}
	if ign, err := gitignore.CompileIgnoreFile(filepath.Join(root, IgnoreFileName)); err == nil {
		m.ignore = ign
	}
	return m
}

func (m *matcher) excluded(name, rel string) bool {
	for _, g := range m.exclude {
		if g.Match(name) || g.Match(rel) {
			return true
		}
	}
	if m.ignore != nil && m.ignore.MatchesPath(rel) {
		return true
	}
	return false
}

func (m *matcher) included(rel string) bool {
	if len(m.include) == 0 {
		return true
	}
	for _, g := range m.include {
		if g.Match(rel) || g.Match(filepath.Base(rel)) {
			return true
		}
	}
	return false
}

// Discover walks root and returns every file a front-end claims.
// Each absolute path appears exactly once; extension claims are resolved by
// the lang registry's priority rules.
func Discover(ctx context.Context, root string, opts *Options) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	m := newMatcher(root, opts)

	res := &Result{}
	seen := make(map[string]bool)

	walkFn := func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if path != root && (defaultSkipDirs[info.Name()] || m.excluded(info.Name(), rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if m.excluded(info.Name(), rel) || !m.included(rel) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		l, ok := lang.LanguageForExtension(ext)
		if !ok {
			return nil
		}

		abs := filepath.ToSlash(path)
		if seen[abs] {
			return nil
		}
		seen[abs] = true

		fi := FileInfo{Path: abs, RelPath: rel, Size: info.Size(), Language: l}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			slog.Warn("discover.size_cap", "path", rel, "size", info.Size())
			res.Skipped = append(res.Skipped, fi)
			return nil
		}
		res.Files = append(res.Files, fi)
		return nil
	}

	if opts.FollowSymlinks {
		err = walkFollowingSymlinks(root, walkFn)
	} else {
		err = filepath.Walk(root, walkFn)
	}
	return res, err
}

// walkFollowingSymlinks is filepath.Walk with symlink targets resolved.
func walkFollowingSymlinks(root string, fn filepath.WalkFunc) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, rErr := os.Stat(path)
			if rErr == nil {
				info = resolved
			}
		}
		return fn(path, info, err)
	})
}

// Enumerate stats an explicit path list instead of walking a tree, applying
// the same exclusion and claim rules.
func Enumerate(ctx context.Context, root string, paths []string, opts *Options) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	m := newMatcher(root, opts)

	res := &Result{}
	seen := make(map[string]bool)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, p)
		}
		abs = filepath.ToSlash(filepath.Clean(abs))
		if seen[abs] {
			continue
		}
		seen[abs] = true

		info, statErr := os.Stat(abs)
		if statErr != nil {
			continue
		}
		rel, _ := filepath.Rel(root, abs)
		rel = filepath.ToSlash(rel)
		if m.excluded(filepath.Base(abs), rel) || !m.included(rel) {
			continue
		}
		l, ok := lang.LanguageForExtension(strings.ToLower(filepath.Ext(abs)))
		if !ok {
			continue
		}
		fi := FileInfo{Path: abs, RelPath: rel, Size: info.Size(), Language: l}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			res.Skipped = append(res.Skipped, fi)
			continue
		}
		res.Files = append(res.Files, fi)
	}
	return res, nil
}
