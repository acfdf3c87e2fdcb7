package extract

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/registry"
)

// resolver turns pending edges into resolved edges against the frozen
// registry. It creates no entities except interned External placeholders.
type resolver struct {
	reg         *registry.Registry
	root        string
	granularity string // "name" or "package"

	mu  sync.Mutex
	ext map[string]*graph.Entity // sanitized name → interned External
}

func newResolver(reg *registry.Registry, root, granularity string) *resolver {
	return &resolver{
		reg:         reg,
		root:        root,
		granularity: granularity,
		ext:         make(map[string]*graph.Entity),
	}
}

// externals returns the interned External entities in deterministic order.
func (r *resolver) externals() []*graph.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*graph.Entity, 0, len(r.ext))
	for _, e := range r.ext {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// intern returns the single External entity for a raw name.
func (r *resolver) intern(rawName string) *graph.Entity {
	name := graph.SanitizeExternalName(rawName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.ext[name]; ok {
		return e
	}
	e := graph.NewExternal(rawName)
	r.ext[name] = e
	return e
}

// externalModuleName applies the interning granularity to a module
// specifier: per-name keeps the full specifier, per-package keeps the first
// path segment.
func (r *resolver) externalModuleName(specifier string) string {
	if r.granularity != "package" {
		return specifier
	}
	s := strings.TrimLeft(specifier, "./")
	// scoped npm packages keep both segments
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(s, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return s
	}
	for _, sep := range []string{"/", "."} {
		if idx := strings.Index(s, sep); idx > 0 {
			return s[:idx]
		}
	}
	return s
}

// resolveFile resolves every pending edge of one file. Each pending is
// either emitted with a concrete target identity, demoted to an edge onto
// an interned External, or dropped: template/style links whose side-file is
// absent, and this/self or imported-module member references whose member
// is not found.
func (r *resolver) resolveFile(res *graph.ParseResult) []graph.Relationship {
	if res == nil {
		return nil
	}
	var fileID string
	if len(res.Entities) > 0 && res.Entities[0].Kind == graph.KindFile {
		fileID = res.Entities[0].ID
	}

	var edges []graph.Relationship
	emit := func(rel graph.Relationship) {
		edges = append(edges, rel)
	}

	for _, p := range res.Pending {
		switch p.TargetKind {
		case "": // containment and other pre-resolved edges
			emit(graph.Relationship{SourceID: p.SourceID, TargetID: p.Target, Kind: p.Kind, Properties: p.Properties})

		case graph.PendingModule:
			if id, ok := r.resolveModule(p.Target, p.Scope.FilePath); ok {
				emit(graph.Relationship{SourceID: p.SourceID, TargetID: id, Kind: p.Kind, Properties: p.Properties})
			} else {
				ext := r.intern(r.externalModuleName(p.Target))
				emit(graph.Relationship{SourceID: p.SourceID, TargetID: ext.ID, Kind: p.Kind, Properties: p.Properties})
			}

		case graph.PendingTemplate, graph.PendingStyle:
			// Absent side-files drop the edge rather than demoting: a
			// dangling templateUrl is a project defect, not an external
			// dependency.
			if id, ok := r.resolveSideFile(p); ok {
				emit(graph.Relationship{SourceID: p.SourceID, TargetID: id, Kind: p.Kind, Properties: p.Properties})
			}

		case graph.PendingExport:
			if c, ok := r.reg.Lookup(registry.SymbolKey(fileID, p.Target), p.Scope.FilePath); ok {
				emit(graph.Relationship{SourceID: p.SourceID, TargetID: c.ID, Kind: p.Kind, Properties: p.Properties})
			} else {
				ext := r.intern(p.Target)
				emit(graph.Relationship{SourceID: p.SourceID, TargetID: ext.ID, Kind: p.Kind, Properties: p.Properties})
			}

		case graph.PendingSymbol:
			if rel, ok := r.resolveSymbol(p, fileID, res.Imports); ok {
				emit(rel)
			}
		}
	}
	return dedupeEdges(edges)
}

// resolveModule resolves an import specifier to a File entity identity.
// Relative specifiers are joined onto the importer's directory; bare
// specifiers walk the source-root-relative keys. The first hit wins.
func (r *resolver) resolveModule(specifier, fromFile string) (string, bool) {
	for _, key := range r.moduleLookupKeys(specifier, fromFile) {
		if c, ok := r.reg.Lookup(registry.ModuleKey(key), fromFile); ok {
			return c.ID, true
		}
	}
	return "", false
}

func (r *resolver) moduleLookupKeys(specifier, fromFile string) []string {
	var keys []string
	if strings.HasPrefix(specifier, ".") {
		joined := filepath.ToSlash(filepath.Clean(filepath.Join(filepath.Dir(fromFile), specifier)))
		keys = append(keys, joined, joined+"/index", joined+"/__init__")
		return keys
	}
	// Dotted python specifiers address the same tree as slashed ones.
	slashed := strings.ReplaceAll(specifier, ".", "/")
	keys = append(keys, specifier)
	if slashed != specifier {
		keys = append(keys, slashed)
	}
	keys = append(keys, slashed+"/index", slashed+"/__init__")
	// A bare specifier may also name a sibling of the importer.
	sibling := filepath.ToSlash(filepath.Join(filepath.Dir(fromFile), slashed))
	keys = append(keys, sibling)
	return keys
}

// resolveSideFile resolves templateUrl/styleUrls references: the absolute
// form (joined onto the component's directory) first, then the filename
// form.
func (r *resolver) resolveSideFile(p graph.PendingRelationship) (string, bool) {
	key := registry.TemplateKey
	if p.TargetKind == graph.PendingStyle {
		key = registry.StyleKey
	}
	abs := filepath.ToSlash(filepath.Clean(filepath.Join(filepath.Dir(p.Scope.FilePath), p.Target)))
	if c, ok := r.reg.Lookup(key(abs), p.Scope.FilePath); ok {
		return c.ID, true
	}
	if c, ok := r.reg.Lookup(key(filepath.Base(p.Target)), p.Scope.FilePath); ok {
		return c.ID, true
	}
	return "", false
}

// resolveSymbol resolves a dotted reference through the lexical chain:
// class members, file-level names, imports, then the project-wide simple
// name fallback (several candidates are ranked by the registry's order).
// Other unresolvable references demote to External, except a this/self
// member that is not found, which is dropped; a reference
// whose head resolves to an external module becomes a USES edge carrying
// the access path.
func (r *resolver) resolveSymbol(p graph.PendingRelationship, fileID string, imports map[string]graph.ImportRef) (graph.Relationship, bool) {
	head, tail := splitHead(p.Target)
	from := p.Scope.FilePath

	finish := func(targetID, accessPath string) (graph.Relationship, bool) {
		rel := graph.Relationship{SourceID: p.SourceID, TargetID: targetID, Kind: p.Kind, Properties: p.Properties}
		if accessPath != "" {
			if rel.Properties == nil {
				rel.Properties = make(map[string]any)
			}
			rel.Properties["access_path"] = accessPath
		}
		if p.Kind == graph.RelDecorates {
			// DECORATES points decorator → decorated.
			rel.SourceID, rel.TargetID = rel.TargetID, rel.SourceID
		}
		return rel, true
	}

	// this.member / self.member inside a class resolves against the class
	// scope.
	if (head == "this" || head == "self") && p.Scope.ClassName != "" && tail != "" {
		mHead, mTail := splitHead(tail)
		if c, ok := r.reg.Lookup(registry.MemberKey(fileID, p.Scope.ClassName, mHead), from); ok {
			return finish(c.ID, mTail)
		}
		return graph.Relationship{}, false // unknown instance state; not external
	}

	// 1. Enclosing class members.
	if p.Scope.ClassName != "" {
		if c, ok := r.reg.Lookup(registry.MemberKey(fileID, p.Scope.ClassName, head), from); ok {
			return finish(c.ID, tail)
		}
	}

	// 2. File-level names.
	if c, ok := r.reg.Lookup(registry.SymbolKey(fileID, head), from); ok {
		return finish(c.ID, tail)
	}

	// 3. Imports.
	if ref, ok := imports[head]; ok {
		return r.resolveThroughImport(p, ref, tail, finish)
	}

	// 4. Project-wide simple name (statically visible cross-file references
	// written without a qualifier); the registry's order picks among several.
	lookup := head
	if tail != "" {
		if idx := strings.LastIndex(p.Target, "."); idx >= 0 {
			lookup = p.Target[idx+1:]
		}
	}
	if c, ok := r.reg.Lookup(nameKey(lookup), from); ok {
		return finish(c.ID, "")
	}

	// Miss: silently demote to External.
	ext := r.intern(p.Target)
	return finish(ext.ID, "")
}

// resolveThroughImport chases an import binding: from-imports resolve the
// named symbol inside the target module; whole-module imports resolve the
// first tail segment there. Externally-rooted references land on the
// module's External entity as USES edges carrying the access path.
func (r *resolver) resolveThroughImport(
	p graph.PendingRelationship, ref graph.ImportRef, tail string,
	finish func(targetID, accessPath string) (graph.Relationship, bool),
) (graph.Relationship, bool) {
	from := p.Scope.FilePath
	targetFile, moduleResolved := r.resolveModule(ref.Module, from)

	if ref.Symbol != "" && ref.Symbol != "*" && ref.Symbol != "default" {
		if moduleResolved {
			if c, ok := r.reg.Lookup(registry.ExportKey(targetFile, ref.Symbol), from); ok {
				return finish(c.ID, tail)
			}
			if c, ok := r.reg.Lookup(registry.SymbolKey(targetFile, ref.Symbol), from); ok {
				return finish(c.ID, tail)
			}
		}
		ext := r.intern(r.externalName(ref.Module, ref.Symbol))
		return finish(ext.ID, tail)
	}

	if moduleResolved && tail != "" {
		tHead, tTail := splitHead(tail)
		if c, ok := r.reg.Lookup(registry.ExportKey(targetFile, tHead), from); ok {
			return finish(c.ID, tTail)
		}
		if c, ok := r.reg.Lookup(registry.SymbolKey(targetFile, tHead), from); ok {
			return finish(c.ID, tTail)
		}
		return graph.Relationship{}, false // module known, member private or absent
	}
	if moduleResolved {
		return finish(targetFile, "")
	}

	// External module: the reference collapses onto the module's External
	// entity; calls through it become USES with the member path retained.
	ext := r.intern(r.externalModuleName(ref.Module))
	rel, ok := finish(ext.ID, tail)
	if ok && rel.Kind == graph.RelCalls {
		rel.Kind = graph.RelUses
		if rel.Properties == nil {
			rel.Properties = make(map[string]any)
		}
		rel.Properties["usage_type"] = "external_call"
		delete(rel.Properties, "call_type")
	}
	return rel, ok
}

// externalName builds the interned name for a from-import of an external
// symbol, honoring the granularity switch.
func (r *resolver) externalName(module, symbol string) string {
	if r.granularity == "package" {
		return r.externalModuleName(module)
	}
	return module + "." + symbol
}

func splitHead(path string) (head, tail string) {
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		return path[:idx], path[idx+1:]
	}
	return path, ""
}

// dedupeEdges drops duplicate (source, target, kind) triples, keeping the
// first occurrence.
func dedupeEdges(edges []graph.Relationship) []graph.Relationship {
	seen := make(map[string]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		key := e.SourceID + "\x00" + e.TargetID + "\x00" + string(e.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
