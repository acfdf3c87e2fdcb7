package frontend

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codeatlas/codeatlas/internal/fqn"
	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/lang"
	"github.com/codeatlas/codeatlas/internal/parser"
)

// PythonFrontEnd extracts entities from Python sources. The File entity
// plays the module role — Python emits no separate Module node, so top-level
// declarations are contained directly by the file.
type PythonFrontEnd struct {
	opts Options
}

func (f *PythonFrontEnd) Language() lang.Language { return lang.Python }

// pyWalker carries the traversal state for one file.
type pyWalker struct {
	absPath string
	relPath string
	source  []byte
	opts    Options

	file   *graph.Entity
	result *graph.ParseResult

	// lexical context, innermost last
	classStack []*graph.Entity
	funcStack  []*graph.Entity
	spec       *lang.LanguageSpec
}

func (f *PythonFrontEnd) ParseFile(absPath, relPath string, source []byte) *graph.ParseResult {
	result := &graph.ParseResult{
		FilePath: absPath,
		Imports:  make(map[string]graph.ImportRef),
	}
	file := newFileEntity(absPath, relPath, source)
	file.SetProp("language", string(lang.Python))
	result.Entities = append(result.Entities, file)

	tree, err := parser.Parse(lang.Python, source)
	if err != nil {
		result.Errors = append(result.Errors, graph.ParseError{
			FilePath: absPath, Line: 1, Message: err.Error(),
		})
		return result
	}
	defer tree.Close()

	w := &pyWalker{
		absPath: absPath,
		relPath: relPath,
		source:  source,
		opts:    f.opts,
		file:    file,
		result:  result,
		spec:    lang.ForLanguage(lang.Python),
	}

	root := tree.RootNode()
	if root.HasError() {
		w.recordSyntaxErrors(root)
	}
	if f.opts.IncludeDocstrings {
		if doc := pyDocstring(root, source); doc != "" {
			file.SetProp("docstring", doc)
		}
	}
	w.walkBody(root)
	return result
}

// recordSyntaxErrors appends one error record per ERROR node; extraction
// continues so the prefix entities are preserved.
func (w *pyWalker) recordSyntaxErrors(root *tree_sitter.Node) {
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if n.IsError() {
			w.result.Errors = append(w.result.Errors, graph.ParseError{
				FilePath: w.absPath,
				Line:     parser.Line(n.StartPosition().Row),
				Column:   int(n.StartPosition().Column) + 1,
				Message:  "syntax error",
			})
			return false
		}
		return true
	})
}

// walkBody dispatches the declaration visitors over a statement list.
func (w *pyWalker) walkBody(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "decorated_definition":
			w.visitDecorated(child)
		case "class_definition":
			w.visitClass(child, nil)
		case "function_definition":
			w.visitFunction(child, nil)
		case "import_statement":
			w.visitImport(child)
		case "import_from_statement":
			w.visitImportFrom(child)
		case "expression_statement":
			w.visitExpressionStatement(child)
		case "if_statement", "try_statement", "with_statement", "for_statement", "while_statement":
			// Conditional top-level definitions still declare names.
			w.walkNested(child)
		}
	}
}

// walkNested descends into compound statements looking for declarations and
// assignments without entering new scopes.
func (w *pyWalker) walkNested(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "block":
			w.walkBody(child)
		case "decorated_definition":
			w.visitDecorated(child)
		case "class_definition":
			w.visitClass(child, nil)
		case "function_definition":
			w.visitFunction(child, nil)
		case "expression_statement":
			w.visitExpressionStatement(child)
		default:
			w.walkNested(child)
		}
	}
}

func (w *pyWalker) visitDecorated(node *tree_sitter.Node) {
	var decorators []string
	var defNode *tree_sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "decorator":
			name := strings.TrimPrefix(parser.NodeText(child, w.source), "@")
			if idx := strings.IndexByte(name, '('); idx >= 0 {
				name = name[:idx]
			}
			decorators = append(decorators, strings.TrimSpace(name))
		case "class_definition", "function_definition":
			defNode = child
		}
	}
	if defNode == nil {
		return
	}
	if defNode.Kind() == "class_definition" {
		w.visitClass(defNode, decorators)
	} else {
		w.visitFunction(defNode, decorators)
	}
}

func (w *pyWalker) scopeNames() []string {
	var names []string
	for _, c := range w.classStack {
		names = append(names, c.Name)
	}
	for _, f := range w.funcStack {
		names = append(names, f.Name)
	}
	return names
}

// container returns the innermost scope entity.
func (w *pyWalker) container() *graph.Entity {
	if len(w.funcStack) > 0 {
		return w.funcStack[len(w.funcStack)-1]
	}
	if len(w.classStack) > 0 {
		return w.classStack[len(w.classStack)-1]
	}
	return w.file
}

func (w *pyWalker) contain(member *graph.Entity) {
	c := w.container()
	kind := containEdge(c.Kind, member.Kind)
	if kind == "" {
		return
	}
	// Containment endpoints are both known at parse time; the empty
	// TargetKind marks the target as an already-resolved identity.
	w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
		SourceID: c.ID,
		Kind:     kind,
		Target:   member.ID,
	})
}

func (w *pyWalker) scope() graph.RefScope {
	s := graph.RefScope{FilePath: w.absPath}
	if len(w.classStack) > 0 {
		s.ClassName = w.classStack[len(w.classStack)-1].Name
	}
	if len(w.funcStack) > 0 {
		s.FuncName = w.funcStack[len(w.funcStack)-1].Name
	}
	return s
}

func (w *pyWalker) visitClass(node *tree_sitter.Node, decorators []string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	cls := newEntity(graph.KindClass, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))

	if w.opts.IncludeDocstrings {
		if doc := pyDocstring(bodyOf(node), w.source); doc != "" {
			cls.SetProp("docstring", doc)
		}
	}
	if len(decorators) > 0 {
		cls.SetProp("decorators", decorators)
	}

	var bases []string
	if sup := node.ChildByFieldName("superclasses"); sup != nil {
		for i := uint(0); i < sup.ChildCount(); i++ {
			arg := sup.Child(i)
			if arg == nil {
				continue
			}
			switch arg.Kind() {
			case "identifier", "attribute":
				bases = append(bases, parser.NodeText(arg, w.source))
			}
		}
	}
	if isAbstract(bases, node, w.source) {
		cls.SetProp("is_abstract", true)
	}

	w.result.Entities = append(w.result.Entities, cls)
	w.contain(cls)

	for _, base := range bases {
		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   cls.ID,
			Kind:       graph.RelInherits,
			Target:     base,
			TargetKind: graph.PendingSymbol,
			Scope:      w.scope(),
		})
	}
	for _, dec := range decorators {
		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   cls.ID,
			Kind:       graph.RelDecorates,
			Target:     dec,
			TargetKind: graph.PendingSymbol,
			Scope:      w.scope(),
			Properties: map[string]any{"decorator_name": dec},
		})
	}

	w.classStack = append(w.classStack, cls)
	if body := bodyOf(node); body != nil {
		w.walkBody(body)
	}
	w.classStack = w.classStack[:len(w.classStack)-1]
}

func (w *pyWalker) visitFunction(node *tree_sitter.Node, decorators []string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)

	kind := graph.KindFunction
	inClass := len(w.classStack) > 0 && len(w.funcStack) == 0
	if inClass {
		kind = graph.KindMethod
	}
	isGen := containsYield(node)
	if isGen && !inClass {
		kind = graph.KindGeneratorFunction
	}

	fn := newEntity(kind, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))

	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.SetProp("signature", parser.NodeText(params, w.source))
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		fn.SetProp("return_type", parser.NodeText(ret, w.source))
	}
	if isAsync(node, w.source) {
		fn.SetProp("is_async", true)
	}
	if isGen {
		fn.SetProp("is_generator", true)
	}
	for _, dec := range decorators {
		switch dec {
		case "property":
			fn.SetProp("is_property", true)
		case "staticmethod":
			fn.SetProp("is_staticmethod", true)
		case "classmethod":
			fn.SetProp("is_classmethod", true)
		}
	}
	if len(decorators) > 0 {
		fn.SetProp("decorators", decorators)
	}
	if w.opts.IncludeDocstrings {
		if doc := pyDocstring(bodyOf(node), w.source); doc != "" {
			fn.SetProp("docstring", doc)
		}
	}
	fn.SetProp("complexity", complexity(node, w.spec))

	w.result.Entities = append(w.result.Entities, fn)
	w.contain(fn)

	for _, dec := range decorators {
		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   fn.ID,
			Kind:       graph.RelDecorates,
			Target:     dec,
			TargetKind: graph.PendingSymbol,
			Scope:      w.scope(),
			Properties: map[string]any{"decorator_name": dec},
		})
	}

	w.funcStack = append(w.funcStack, fn)
	if body := bodyOf(node); body != nil {
		w.walkBody(body)
		w.collectCalls(body, fn)
	}
	w.funcStack = w.funcStack[:len(w.funcStack)-1]
}

// collectCalls records a pending CALLS edge per statically visible call
// inside fn's body, skipping nested function bodies (they record their own).
func (w *pyWalker) collectCalls(body *tree_sitter.Node, fn *graph.Entity) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition", "class_definition":
			return false
		case "call":
			callee := n.ChildByFieldName("function")
			if callee == nil {
				return true
			}
			path := pyDottedPath(callee, w.source)
			if path == "" {
				return true
			}
			w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
				SourceID:   fn.ID,
				Kind:       graph.RelCalls,
				Target:     path,
				TargetKind: graph.PendingSymbol,
				Scope:      w.scope(),
				Properties: map[string]any{
					"call_type":   "function_call",
					"line_number": parser.Line(n.StartPosition().Row),
				},
			})
		}
		return true
	})
}

func (w *pyWalker) visitImport(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			w.addImport(parser.NodeText(child, w.source), "", "", node)
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode != nil && aliasNode != nil {
				w.addImport(parser.NodeText(nameNode, w.source),
					parser.NodeText(aliasNode, w.source), "", node)
			}
		}
	}
}

func (w *pyWalker) visitImportFrom(node *tree_sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	module := parser.NodeText(moduleNode, w.source)
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Id() == moduleNode.Id() {
			continue
		}
		switch child.Kind() {
		case "dotted_name", "identifier":
			w.addImport(module, "", parser.NodeText(child, w.source), node)
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode != nil && aliasNode != nil {
				w.addImport(module, parser.NodeText(aliasNode, w.source),
					parser.NodeText(nameNode, w.source), node)
			}
		case "wildcard_import":
			w.addImport(module, "", "*", node)
		}
	}
}

// addImport emits the Import entity, its containment, the pending IMPORTS
// edge, and the alias binding for pass-2 head resolution.
func (w *pyWalker) addImport(module, alias, symbol string, node *tree_sitter.Node) {
	local := alias
	if local == "" {
		if symbol != "" && symbol != "*" {
			local = symbol
		} else {
			local = module
			if idx := strings.IndexByte(local, '.'); idx >= 0 {
				local = local[:idx]
			}
		}
	}

	line := parser.Line(node.StartPosition().Row)
	qnName := module
	if symbol != "" {
		qnName = module + "." + symbol
	}
	qn := fqn.Compute(w.relPath, nil, "import."+qnName)
	imp := newEntity(graph.KindImport, local, qn, w.absPath, line, parser.Line(node.EndPosition().Row))
	imp.SetProp("module_name", module)
	if alias != "" {
		imp.SetProp("alias", alias)
	}
	imp.SetProp("is_from_import", symbol != "")

	w.result.Entities = append(w.result.Entities, imp)
	w.contain(imp)

	w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
		SourceID:   imp.ID,
		Kind:       graph.RelImports,
		Target:     module,
		TargetKind: graph.PendingModule,
		Scope:      graph.RefScope{FilePath: w.absPath},
	})

	w.result.Imports[local] = graph.ImportRef{
		Module:   module,
		Symbol:   symbol,
		EntityID: imp.ID,
	}
}

// visitExpressionStatement extracts variable assignments; other expression
// statements, bare calls included, produce nothing here.
func (w *pyWalker) visitExpressionStatement(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "assignment" {
			continue
		}
		left := child.ChildByFieldName("left")
		right := child.ChildByFieldName("right")
		if left == nil {
			continue
		}
		for _, name := range flattenTargets(left, w.source) {
			if strings.HasPrefix(name, "_") {
				continue
			}
			qn := fqn.Compute(w.relPath, w.scopeNames(), name)
			line := parser.Line(child.StartPosition().Row)
			v := newEntity(graph.KindVariable, name, qn, w.absPath, line, parser.Line(child.EndPosition().Row))
			if right != nil {
				v.SetProp("type_annotation", pyInferType(right, w.source))
			}
			if ann := child.ChildByFieldName("type"); ann != nil {
				v.SetProp("type_annotation", parser.NodeText(ann, w.source))
			}
			v.SetProp("is_constant", name == strings.ToUpper(name) && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
			v.SetProp("is_global", len(w.classStack) == 0 && len(w.funcStack) == 0)
			w.result.Entities = append(w.result.Entities, v)
			w.contain(v)
		}
	}
}

// --- helpers ---

func bodyOf(node *tree_sitter.Node) *tree_sitter.Node {
	return node.ChildByFieldName("body")
}

// pyDocstring returns the leading string literal of a block, if any.
func pyDocstring(body *tree_sitter.Node, source []byte) string {
	if body == nil {
		return ""
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil || child.Kind() == "comment" {
			continue
		}
		if child.Kind() != "expression_statement" {
			return ""
		}
		str := parser.NamedChildByKind(child, "string")
		if str == nil {
			return ""
		}
		return trimPyString(parser.NodeText(str, source))
	}
	return ""
}

func trimPyString(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

func isAsync(node *tree_sitter.Node, source []byte) bool {
	first := node.Child(0)
	return first != nil && parser.NodeText(first, source) == "async"
}

func containsYield(node *tree_sitter.Node) bool {
	found := false
	parser.Walk(node, func(n *tree_sitter.Node) bool {
		if found {
			return false
		}
		switch n.Kind() {
		case "function_definition", "lambda":
			return n.Id() == node.Id()
		case "yield":
			found = true
			return false
		}
		return true
	})
	return found
}

func isAbstract(bases []string, node *tree_sitter.Node, source []byte) bool {
	for _, b := range bases {
		if b == "ABC" || b == "abc.ABC" {
			return true
		}
	}
	abstract := false
	parser.Walk(node, func(n *tree_sitter.Node) bool {
		if abstract {
			return false
		}
		if n.Kind() == "decorator" {
			text := parser.NodeText(n, source)
			if strings.Contains(text, "abstractmethod") {
				abstract = true
			}
		}
		return true
	})
	return abstract
}

// complexity counts branching nodes plus one, the classic cyclomatic proxy.
func complexity(node *tree_sitter.Node, spec *lang.LanguageSpec) int {
	if spec == nil {
		return 1
	}
	branching := make(map[string]bool, len(spec.BranchingNodeTypes))
	for _, t := range spec.BranchingNodeTypes {
		branching[t] = true
	}
	count := 1
	parser.Walk(node, func(n *tree_sitter.Node) bool {
		if branching[n.Kind()] {
			count++
		}
		return true
	})
	return count
}

// pyDottedPath reduces a callee expression to a dotted path, or "" when the
// callee is not statically visible (subscripts, calls, lambdas).
func pyDottedPath(node *tree_sitter.Node, source []byte) string {
	switch node.Kind() {
	case "identifier":
		return parser.NodeText(node, source)
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return ""
		}
		head := pyDottedPath(obj, source)
		if head == "" {
			return ""
		}
		return head + "." + parser.NodeText(attr, source)
	}
	return ""
}

func flattenTargets(node *tree_sitter.Node, source []byte) []string {
	var names []string
	switch node.Kind() {
	case "identifier":
		names = append(names, parser.NodeText(node, source))
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list":
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child != nil {
				names = append(names, flattenTargets(child, source)...)
			}
		}
	}
	return names
}

func pyInferType(node *tree_sitter.Node, source []byte) string {
	switch node.Kind() {
	case "string", "concatenated_string":
		return "str"
	case "integer":
		return "int"
	case "float":
		return "float"
	case "true", "false":
		return "bool"
	case "none":
		return "None"
	case "list", "list_comprehension":
		return "list"
	case "dictionary", "dictionary_comprehension":
		return "dict"
	case "set", "set_comprehension":
		return "set"
	case "tuple":
		return "tuple"
	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil {
			return pyDottedPath(fn, source)
		}
	}
	return ""
}
