package frontend

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/parser"
)

// frameworkDecorators maps recognized decorator names to the entity kind the
// decorated class is promoted to. The class is replaced, never duplicated.
var frameworkDecorators = map[string]graph.EntityKind{
	"Component":  graph.KindComponent,
	"Injectable": graph.KindService,
	"Directive":  graph.KindDirective,
	"Pipe":       graph.KindPipe,
	"NgModule":   graph.KindNgModule,
}

// applyFrameworkDecorators runs after pass 1 of a tree-sitter file: any
// class carrying a recognized decorator is rekinded in place. The identity
// tuple is preserved (only the kind field changes), pending edges that
// referenced the class are remapped to the new identity, and decorator
// metadata is turned into properties and pending template/style edges.
func applyFrameworkDecorators(result *graph.ParseResult) {
	remapped := make(map[string]string)

	for _, e := range result.Entities {
		if e.Kind != graph.KindClass {
			continue
		}
		decorators, _ := e.Properties["decorators"].([]string)
		var kind graph.EntityKind
		for _, d := range decorators {
			if k, ok := frameworkDecorators[d]; ok {
				kind = k
				break
			}
		}
		if kind == "" {
			continue
		}

		oldID := e.ID
		e.Rekind(kind)
		remapped[oldID] = e.ID

		meta, _ := e.Properties["decorator_metadata"].(map[string]any)
		delete(e.Properties, "decorator_metadata")
		applyDecoratorMetadata(result, e, meta)
	}

	if len(remapped) == 0 {
		return
	}
	for i := range result.Pending {
		p := &result.Pending[i]
		if newID, ok := remapped[p.SourceID]; ok {
			p.SourceID = newID
		}
		// Already-resolved targets (containment) reference identities too.
		if p.TargetKind == "" {
			if newID, ok := remapped[p.Target]; ok {
				p.Target = newID
				// The containment edge kind follows the promoted kind.
				if contains := graph.FileContainment(kindOf(result, newID)); contains != "" && isFileContainment(p.Kind) {
					p.Kind = contains
				}
			}
		}
	}
}

func kindOf(result *graph.ParseResult, id string) graph.EntityKind {
	for _, e := range result.Entities {
		if e.ID == id {
			return e.Kind
		}
	}
	return ""
}

func isFileContainment(k graph.RelKind) bool {
	for _, kind := range graph.AllEntityKinds() {
		if graph.FileContainment(kind) == k {
			return true
		}
	}
	return false
}

// applyDecoratorMetadata stores recognized decorator configuration as
// properties and emits pending USES_TEMPLATE/USES_STYLES edges for the
// side-file references. Inline template/styles stay properties only.
func applyDecoratorMetadata(result *graph.ParseResult, e *graph.Entity, meta map[string]any) {
	if meta == nil {
		return
	}
	if sel, ok := meta["selector"].(string); ok && sel != "" {
		e.SetProp("selector", sel)
	}
	if standalone, ok := meta["standalone"].(bool); ok {
		e.SetProp("standalone", standalone)
	}
	if providedIn, ok := meta["providedIn"].(string); ok && providedIn != "" {
		e.SetProp("providedIn", providedIn)
	}
	if name, ok := meta["name"].(string); ok && name != "" && e.Kind == graph.KindPipe {
		e.SetProp("pipe_name", name)
	}

	selector, _ := meta["selector"].(string)
	emit := func(kind graph.RelKind, pendingKind graph.PendingKind, path string) {
		props := map[string]any{"component_selector": selector}
		if kind == graph.RelUsesTemplate {
			props["template_path"] = path
		} else {
			props["style_path"] = path
		}
		result.Pending = append(result.Pending, graph.PendingRelationship{
			SourceID:   e.ID,
			Kind:       kind,
			Target:     path,
			TargetKind: pendingKind,
			Scope:      graph.RefScope{FilePath: e.FilePath},
			Properties: props,
		})
	}

	if tpl, ok := meta["templateUrl"].(string); ok && tpl != "" {
		emit(graph.RelUsesTemplate, graph.PendingTemplate, tpl)
	} else if inline, ok := meta["template"].(string); ok && inline != "" {
		e.SetProp("template", inline)
	}

	switch styles := meta["styleUrls"].(type) {
	case []string:
		for _, s := range styles {
			if s != "" {
				emit(graph.RelUsesStyles, graph.PendingStyle, s)
			}
		}
	case string:
		if styles != "" {
			emit(graph.RelUsesStyles, graph.PendingStyle, styles)
		}
	}
	if s, ok := meta["styleUrl"].(string); ok && s != "" {
		emit(graph.RelUsesStyles, graph.PendingStyle, s)
	}
	if inline, ok := meta["styles"].(string); ok && inline != "" {
		e.SetProp("styles", inline)
	}
}

// decoratorMetadata parses the object-literal argument of the declaration's
// decorators into a property map. Strings are unquoted; arrays flatten to
// string slices; booleans convert.
func decoratorMetadata(node *tree_sitter.Node, source []byte) map[string]any {
	var decoratorNodes []*tree_sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c != nil && c.Kind() == "decorator" {
			decoratorNodes = append(decoratorNodes, c)
		}
	}
	for prev := node.PrevSibling(); prev != nil && prev.Kind() == "decorator"; prev = prev.PrevSibling() {
		decoratorNodes = append(decoratorNodes, prev)
	}
	// Decorators on exported classes hang off the export statement, before
	// the export keyword.
	if p := node.Parent(); p != nil && p.Kind() == "export_statement" {
		for i := uint(0); i < p.ChildCount(); i++ {
			if c := p.Child(i); c != nil && c.Kind() == "decorator" {
				decoratorNodes = append(decoratorNodes, c)
			}
		}
	}

	for _, dec := range decoratorNodes {
		call := parser.NamedChildByKind(dec, "call_expression")
		if call == nil {
			continue
		}
		args := call.ChildByFieldName("arguments")
		if args == nil {
			continue
		}
		obj := parser.NamedChildByKind(args, "object")
		if obj == nil {
			continue
		}
		if meta := parseObjectLiteral(obj, source); len(meta) > 0 {
			return meta
		}
	}
	return nil
}

func parseObjectLiteral(obj *tree_sitter.Node, source []byte) map[string]any {
	result := make(map[string]any)
	for i := uint(0); i < obj.ChildCount(); i++ {
		pair := obj.Child(i)
		if pair == nil || pair.Kind() != "pair" {
			continue
		}
		keyNode := pair.ChildByFieldName("key")
		valueNode := pair.ChildByFieldName("value")
		if keyNode == nil || valueNode == nil {
			continue
		}
		key := trimQuotes(parser.NodeText(keyNode, source))
		switch valueNode.Kind() {
		case "string", "template_string":
			result[key] = trimQuotes(parser.NodeText(valueNode, source))
		case "true":
			result[key] = true
		case "false":
			result[key] = false
		case "array":
			var items []string
			for j := uint(0); j < valueNode.ChildCount(); j++ {
				item := valueNode.Child(j)
				if item == nil {
					continue
				}
				switch item.Kind() {
				case "string", "template_string":
					items = append(items, trimQuotes(parser.NodeText(item, source)))
				case "identifier":
					items = append(items, parser.NodeText(item, source))
				}
			}
			result[key] = items
		case "identifier", "member_expression":
			result[key] = parser.NodeText(valueNode, source)
		}
	}
	return result
}
