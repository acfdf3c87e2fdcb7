package frontend

import (
	"sort"
	"strings"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/lang"
	"github.com/codeatlas/codeatlas/internal/parser"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// StylesheetFrontEnd handles CSS (and SCSS/Sass via the same grammar,
// tolerating error nodes). One File entity per file; selector census and
// Angular style features are properties. Its structural role is to be the
// target of USES_STYLES edges.
type StylesheetFrontEnd struct{}

func (f *StylesheetFrontEnd) Language() lang.Language { return lang.CSS }

// selectorCap bounds the selectors property; the census count is exact.
const selectorCap = 20

func (f *StylesheetFrontEnd) ParseFile(absPath, relPath string, source []byte) *graph.ParseResult {
	result := &graph.ParseResult{FilePath: absPath}
	file := newFileEntity(absPath, relPath, source)
	file.SetProp("language", string(lang.CSS))
	file.SetProp("is_stylesheet", true)
	result.Entities = append(result.Entities, file)

	tree, err := parser.Parse(lang.CSS, source)
	if err != nil {
		result.Errors = append(result.Errors, graph.ParseError{
			FilePath: absPath, Line: 1, Message: err.Error(),
		})
		return result
	}
	defer tree.Close()

	selectors := make(map[string]bool)
	parser.Walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if n.Kind() == "selectors" {
			text := strings.TrimSpace(parser.NodeText(n, source))
			if text != "" {
				selectors[text] = true
			}
			return false
		}
		return true
	})

	if len(selectors) > 0 {
		sorted := make([]string, 0, len(selectors))
		for s := range selectors {
			sorted = append(sorted, s)
		}
		sort.Strings(sorted)
		file.SetProp("selector_count", len(sorted))
		if len(sorted) > selectorCap {
			sorted = sorted[:selectorCap]
		}
		file.SetProp("selectors", sorted)
	}

	content := string(source)
	if n := strings.Count(content, ":host"); n > 0 {
		file.SetProp("host_selectors", n)
	}
	if n := strings.Count(content, "::ng-deep"); n > 0 {
		file.SetProp("deep_selectors", n)
	}
	return result
}
