// Package registry implements the run-scoped symbol index populated during
// pass 1 and consulted during pass 2. Keys identify a lookup context; values
// are entity identities. The registry never holds entity objects, only IDs,
// so resolved edges reference identities and survive incremental merges.
package registry

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Candidate is one entity registered under a key.
type Candidate struct {
	ID       string
	FilePath string // absolute path of the declaring file
}

// Entry is a single key → candidate insertion.
type Entry struct {
	Key       string
	Candidate Candidate
}

// Registry is a write-locked map accepting batched inserts at file
// granularity to minimize contention during parallel pass 1. Multiple
// candidates may share a key; resolution picks a winner by a total order.
type Registry struct {
	mu    sync.RWMutex
	exact map[string][]Candidate
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{exact: make(map[string][]Candidate)}
}

// AddBatch inserts all entries from one file under a single lock
// acquisition.
func (r *Registry) AddBatch(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.exact[e.Key] = append(r.exact[e.Key], e.Candidate)
	}
}

// Lookup resolves a key from the perspective of fromFile. When several
// candidates share the key the winner is chosen by: same file > same
// directory > shortest relative path from the referencing file >
// lexicographic on absolute path. The order is total, so resolution does not
// depend on registration or scheduling order.
func (r *Registry) Lookup(key, fromFile string) (Candidate, bool) {
	r.mu.RLock()
	candidates := r.exact[key]
	r.mu.RUnlock()

	switch len(candidates) {
	case 0:
		return Candidate{}, false
	case 1:
		return candidates[0], true
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	fromDir := filepath.Dir(fromFile)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if sf := a.FilePath == fromFile; sf != (b.FilePath == fromFile) {
			return sf
		}
		if sd := filepath.Dir(a.FilePath) == fromDir; sd != (filepath.Dir(b.FilePath) == fromDir) {
			return sd
		}
		da, db := relDepth(fromFile, a.FilePath), relDepth(fromFile, b.FilePath)
		if da != db {
			return da < db
		}
		return a.FilePath < b.FilePath
	})
	return ranked[0], true
}

// Size returns the number of distinct keys.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact)
}

// relDepth counts the path segments of the relative path from a to b; the
// proxy for "shortest relative specifier a sibling would write".
func relDepth(from, to string) int {
	rel, err := filepath.Rel(filepath.Dir(from), to)
	if err != nil {
		return 1 << 30
	}
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

// Key constructors. Keeping them here pins the key grammar in one place;
// both the pass-1 seeders and the pass-2 resolvers go through these.

// ModuleKey indexes a file under an import specifier (absolute path or a
// root-relative form, extension stripped).
func ModuleKey(specifier string) string { return "module:" + specifier }

// TemplateKey indexes an HTML file for templateUrl resolution.
func TemplateKey(path string) string { return "template:" + path }

// StyleKey indexes a stylesheet for styleUrls resolution.
func StyleKey(path string) string { return "style:" + path }

// SymbolKey indexes a file-scope declaration by simple name.
func SymbolKey(fileID, name string) string { return "sym:" + fileID + ":" + name }

// MemberKey indexes a class member.
func MemberKey(fileID, className, member string) string {
	return "member:" + fileID + ":" + className + ":" + member
}

// ExportKey indexes a named export of a file.
func ExportKey(fileID, name string) string { return "export:" + fileID + ":" + name }

// ImportAliasKey indexes a local import binding; the candidate ID carries
// the Import entity identity and the module specifier rides in a parallel
// alias table kept by the extractor.
func ImportAliasKey(fileID, alias string) string { return "import:" + fileID + ":" + alias }

// SelectorKey indexes a component by its selector string.
func SelectorKey(selector string) string { return "selector:" + selector }
