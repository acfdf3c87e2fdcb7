// Package frontend holds the per-language parsers. Each front-end turns one
// source file into entities, pending relationships, and error records; it
// never touches the store and never resolves cross-file references.
package frontend

import (
	"path/filepath"
	"strings"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/lang"
)

// Options carries the per-run front-end configuration.
type Options struct {
	IncludeDocstrings bool
}

// FrontEnd converts one source file into a uniform entity stream.
type FrontEnd interface {
	// Language names the variant this front-end parses.
	Language() lang.Language
	// ParseFile parses source read from absPath. Failures degrade: the File
	// entity and any entities extracted before the failure point are kept,
	// and errors are appended, never thrown out of band.
	ParseFile(absPath, relPath string, source []byte) *graph.ParseResult
}

// ForLanguage constructs the front-end claiming a language, or nil when the
// language is unsupported. The mapping is fixed configuration, built once
// per run — no mutable global parser registry.
func ForLanguage(l lang.Language, opts Options) FrontEnd {
	switch l {
	case lang.Python:
		return &PythonFrontEnd{opts: opts}
	case lang.TypeScript, lang.TSX, lang.JavaScript:
		return &ScriptFrontEnd{language: l, opts: opts}
	case lang.HTML:
		return &TemplateFrontEnd{}
	case lang.CSS:
		return &StylesheetFrontEnd{}
	}
	return nil
}

// newFileEntity builds the File node every front-end emits first. Skipped
// and failed files still get one so links to them resolve.
func newFileEntity(absPath, relPath string, source []byte) *graph.Entity {
	lines := countLines(source)
	e := &graph.Entity{
		Kind:          graph.KindFile,
		Name:          filepath.Base(absPath),
		QualifiedName: filepath.Base(absPath),
		FilePath:      absPath,
		StartLine:     1,
		EndLine:       lines,
	}
	e.ID = graph.Identity(e.Kind, absPath, e.QualifiedName, e.StartLine, e.EndLine)
	e.SetProp("path", absPath)
	e.SetProp("rel_path", relPath)
	e.SetProp("extension", strings.ToLower(filepath.Ext(absPath)))
	e.SetProp("size", len(source))
	e.SetProp("total_lines", lines)
	return e
}

// SkippedFileResult produces the degenerate result for a file over the size
// cap: the File entity alone, plus a skip record.
func SkippedFileResult(absPath, relPath string, size int64) *graph.ParseResult {
	file := &graph.Entity{
		Kind:          graph.KindFile,
		Name:          filepath.Base(absPath),
		QualifiedName: filepath.Base(absPath),
		FilePath:      absPath,
		StartLine:     1,
		EndLine:       1,
	}
	file.ID = graph.Identity(file.Kind, absPath, file.QualifiedName, 1, 1)
	file.SetProp("path", absPath)
	file.SetProp("rel_path", relPath)
	file.SetProp("extension", strings.ToLower(filepath.Ext(absPath)))
	file.SetProp("size", size)
	file.SetProp("skipped", true)
	return &graph.ParseResult{
		FilePath: absPath,
		Entities: []*graph.Entity{file},
		Errors: []graph.ParseError{{
			FilePath: absPath,
			Line:     1,
			Message:  "file exceeds size cap; declarations not extracted",
		}},
	}
}

func countLines(source []byte) int {
	if len(source) == 0 {
		return 1
	}
	n := 1
	for _, b := range source {
		if b == '\n' {
			n++
		}
	}
	return n
}

// newEntity fills the identity for a declaration entity.
func newEntity(kind graph.EntityKind, name, qn, absPath string, startLine, endLine int) *graph.Entity {
	return &graph.Entity{
		ID:            graph.Identity(kind, absPath, qn, startLine, endLine),
		Kind:          kind,
		Name:          name,
		QualifiedName: qn,
		FilePath:      absPath,
		StartLine:     startLine,
		EndLine:       endLine,
	}
}

// containEdge links an entity to its owning scope, choosing the edge kind by
// container and member kinds. Returns "" when no containment applies.
func containEdge(containerKind, memberKind graph.EntityKind) graph.RelKind {
	switch containerKind {
	case graph.KindFile:
		return graph.FileContainment(memberKind)
	case graph.KindModule:
		switch memberKind {
		case graph.KindClass, graph.KindInterface, graph.KindTypeAlias, graph.KindEnum:
			return graph.RelModuleContainsClass
		case graph.KindVariable:
			return graph.RelModuleContainsVariable
		default:
			if graph.IsCallable(memberKind) {
				return graph.RelModuleContainsFunction
			}
		}
	case graph.KindClass, graph.KindInterface, graph.KindComponent, graph.KindService,
		graph.KindDirective, graph.KindPipe, graph.KindNgModule:
		if memberKind == graph.KindVariable {
			return graph.RelClassContainsVariable
		}
		if graph.IsCallable(memberKind) {
			return graph.RelClassContainsFunction
		}
	default:
		if graph.IsCallable(containerKind) {
			if memberKind == graph.KindVariable {
				return graph.RelFunctionContainsVariable
			}
			if graph.IsCallable(memberKind) {
				return graph.RelFunctionContainsFunction
			}
		}
	}
	return ""
}
