package extract

import (
	"path/filepath"
	"strings"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/registry"
)

// seedEntries builds the registry insertions for one parsed file. All keys
// for a file land in a single batch so the registry lock is taken once per
// file.
func seedEntries(res *graph.ParseResult, root string, sourceRoots []string) []registry.Entry {
	if res == nil || len(res.Entities) == 0 {
		return nil
	}
	file := res.Entities[0]
	if file.Kind != graph.KindFile {
		return nil
	}

	var entries []registry.Entry
	add := func(key, id string) {
		entries = append(entries, registry.Entry{
			Key:       key,
			Candidate: registry.Candidate{ID: id, FilePath: file.FilePath},
		})
	}

	entries = append(entries, fileKeyEntries(file.ID, file.FilePath, root, sourceRoots)...)

	// Declaration keys. File-level members get symbol keys; class members
	// get member keys; exported names get export keys; callables and types
	// additionally get project-wide name keys for bare-reference fallback.
	byID := make(map[string]*graph.Entity, len(res.Entities))
	for _, e := range res.Entities {
		byID[e.ID] = e
	}
	for _, p := range res.Pending {
		if p.TargetKind != "" {
			continue // only containment pendings carry resolved member IDs
		}
		member := byID[p.Target]
		if member == nil {
			continue
		}
		container := byID[p.SourceID]
		if container == nil {
			continue
		}
		switch {
		case container.Kind == graph.KindFile || container.Kind == graph.KindModule:
			if member.Kind != graph.KindImport {
				add(registry.SymbolKey(file.ID, member.Name), member.ID)
			}
		case container.Kind == graph.KindClass || container.Kind == graph.KindInterface || graph.IsDecoratorKind(container.Kind):
			add(registry.MemberKey(file.ID, container.Name, member.Name), member.ID)
		}
	}
	for _, e := range res.Entities {
		if exported, _ := e.Properties["is_exported"].(bool); exported {
			add(registry.ExportKey(file.ID, e.Name), e.ID)
		}
		if sel, _ := e.Properties["selector"].(string); sel != "" {
			add(registry.SelectorKey(sel), e.ID)
		}
		if graph.IsCallable(e.Kind) || e.Kind == graph.KindClass || e.Kind == graph.KindInterface ||
			graph.IsDecoratorKind(e.Kind) {
			add(nameKey(e.Name), e.ID)
		}
	}
	return entries
}

// nameKey is the project-wide simple-name fallback index.
func nameKey(name string) string { return "name:" + name }

// fileKeyEntries pre-seeds every specifier a sibling file could write to
// refer to this file: its absolute path (with and without extension), the
// path relative to each configured source root, the directory entry for
// index/__init__ files, and the template/style keys for asset files.
func fileKeyEntries(fileID, abs, root string, sourceRoots []string) []registry.Entry {
	var entries []registry.Entry
	add := func(key string) {
		entries = append(entries, registry.Entry{
			Key:       key,
			Candidate: registry.Candidate{ID: fileID, FilePath: abs},
		})
	}
	addSpec := func(spec string) {
		if spec != "" {
			add(registry.ModuleKey(spec))
		}
	}

	noExt := strings.TrimSuffix(abs, filepath.Ext(abs))
	addSpec(abs)
	addSpec(noExt)

	baseNoExt := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	isIndex := baseNoExt == "index" || baseNoExt == "__init__"
	if isIndex {
		addSpec(filepath.ToSlash(filepath.Dir(abs)))
	}

	for _, sr := range sourceRoots {
		srAbs := filepath.ToSlash(filepath.Join(root, sr))
		if !strings.HasPrefix(abs, srAbs+"/") {
			continue
		}
		rel := strings.TrimPrefix(noExt, srAbs+"/")
		addSpec(rel)
		if isIndex {
			addSpec(filepath.ToSlash(filepath.Dir(strings.TrimPrefix(abs, srAbs+"/"))))
		}
	}

	// Template/style keys: absolute form and filename form; pass 2 tries
	// the absolute form first.
	base := filepath.Base(abs)
	switch strings.ToLower(filepath.Ext(base)) {
	case ".html", ".htm":
		add(registry.TemplateKey(abs))
		add(registry.TemplateKey(base))
	case ".css", ".scss", ".sass":
		add(registry.StyleKey(abs))
		add(registry.StyleKey(base))
	}
	return entries
}

// StoredMember describes one declaration recovered from the store when a
// file is not being re-parsed.
type StoredMember struct {
	ID        string
	Kind      graph.EntityKind
	Name      string
	FileLevel bool   // contained directly by the File node
	ClassName string // owning class, when class-contained
	Exported  bool
	Selector  string
}

// StoredFile describes an unchanged file whose registry keys are rebuilt
// from persisted state instead of a fresh parse.
type StoredFile struct {
	ID      string
	AbsPath string
	Members []StoredMember
}

// StoredSeedEntries rebuilds the registry contribution of unchanged files
// from the store, mirroring the key grammar of a fresh parse so changed
// files resolve against them with the same precedence.
func StoredSeedEntries(files []StoredFile, root string, sourceRoots []string) []registry.Entry {
	var entries []registry.Entry
	for _, f := range files {
		add := func(key, id string) {
			entries = append(entries, registry.Entry{
				Key:       key,
				Candidate: registry.Candidate{ID: id, FilePath: f.AbsPath},
			})
		}
		entries = append(entries, fileKeyEntries(f.ID, f.AbsPath, root, sourceRoots)...)
		for _, m := range f.Members {
			if m.ClassName != "" {
				add(registry.MemberKey(f.ID, m.ClassName, m.Name), m.ID)
			} else if m.FileLevel && m.Kind != graph.KindImport {
				add(registry.SymbolKey(f.ID, m.Name), m.ID)
			}
			if m.Exported {
				add(registry.ExportKey(f.ID, m.Name), m.ID)
			}
			if m.Selector != "" {
				add(registry.SelectorKey(m.Selector), m.ID)
			}
			if graph.IsCallable(m.Kind) || m.Kind == graph.KindClass || m.Kind == graph.KindInterface ||
				graph.IsDecoratorKind(m.Kind) {
				add(nameKey(m.Name), m.ID)
			}
		}
	}
	return entries
}
