package frontend

import (
	"regexp"
	"sort"
	"strings"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/lang"
	"github.com/codeatlas/codeatlas/internal/parser"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// TemplateFrontEnd handles HTML files. It produces exactly one File entity
// per file; its structural role is to be the target of USES_TEMPLATE edges
// resolved in pass 2. Recognized template patterns become entity properties,
// never declaration entities.
type TemplateFrontEnd struct{}

func (f *TemplateFrontEnd) Language() lang.Language { return lang.HTML }

var (
	ngStructuralRe    = regexp.MustCompile(`\*ng[A-Z][a-zA-Z]*`)
	ngInterpolationRe = regexp.MustCompile(`\{\{[^}]*\}\}`)
	ngEventBindRe     = regexp.MustCompile(`\(\w[\w.]*\)=`)
	ngPropBindRe      = regexp.MustCompile(`\[[\w.\-]+\]=`)
)

func (f *TemplateFrontEnd) ParseFile(absPath, relPath string, source []byte) *graph.ParseResult {
	result := &graph.ParseResult{FilePath: absPath}
	file := newFileEntity(absPath, relPath, source)
	file.SetProp("language", string(lang.HTML))
	file.SetProp("is_template", true)
	result.Entities = append(result.Entities, file)

	content := string(source)
	isAngular := ngStructuralRe.MatchString(content) ||
		ngInterpolationRe.MatchString(content) ||
		ngEventBindRe.MatchString(content)
	file.SetProp("template_type", map[bool]string{true: "angular", false: "html"}[isAngular])

	tree, err := parser.Parse(lang.HTML, source)
	if err != nil {
		result.Errors = append(result.Errors, graph.ParseError{
			FilePath: absPath, Line: 1, Message: err.Error(),
		})
		return result
	}
	defer tree.Close()

	tags := make(map[string]bool)
	parser.Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() == "tag_name" {
			tag := parser.NodeText(n, source)
			// custom elements carry a dash; they name components used here
			if strings.Contains(tag, "-") {
				tags[tag] = true
			}
		}
		return true
	})
	if len(tags) > 0 {
		sorted := make([]string, 0, len(tags))
		for t := range tags {
			sorted = append(sorted, t)
		}
		sort.Strings(sorted)
		file.SetProp("component_tags", sorted)
	}

	if isAngular {
		if n := len(ngStructuralRe.FindAllString(content, -1)); n > 0 {
			file.SetProp("structural_directives", n)
		}
		if n := len(ngInterpolationRe.FindAllString(content, -1)); n > 0 {
			file.SetProp("interpolations", n)
		}
		if n := len(ngPropBindRe.FindAllString(content, -1)); n > 0 {
			file.SetProp("property_bindings", n)
		}
		if n := len(ngEventBindRe.FindAllString(content, -1)); n > 0 {
			file.SetProp("event_bindings", n)
		}
	}
	return result
}
