package frontend

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codeatlas/codeatlas/internal/fqn"
	"github.com/codeatlas/codeatlas/internal/graph"
	"github.com/codeatlas/codeatlas/internal/lang"
	"github.com/codeatlas/codeatlas/internal/parser"
)

// ScriptFrontEnd is the shared tree-sitter base for the structurally-typed
// script languages. The grammar variant is selected by language; the walk is
// identical. TypeScript files additionally run the framework-decorator step
// after extraction.
type ScriptFrontEnd struct {
	language lang.Language
	opts     Options
}

func (f *ScriptFrontEnd) Language() lang.Language { return f.language }

type scriptWalker struct {
	absPath  string
	relPath  string
	source   []byte
	language lang.Language
	opts     Options

	file   *graph.Entity
	result *graph.ParseResult

	classStack  []*graph.Entity
	funcStack   []*graph.Entity
	moduleStack []*graph.Entity
	spec        *lang.LanguageSpec
	exported    map[string]bool // names under an export keyword
}

func (f *ScriptFrontEnd) ParseFile(absPath, relPath string, source []byte) *graph.ParseResult {
	result := &graph.ParseResult{
		FilePath: absPath,
		Imports:  make(map[string]graph.ImportRef),
	}
	file := newFileEntity(absPath, relPath, source)
	file.SetProp("language", string(f.language))
	result.Entities = append(result.Entities, file)

	tree, err := parser.Parse(f.language, source)
	if err != nil {
		result.Errors = append(result.Errors, graph.ParseError{
			FilePath: absPath, Line: 1, Message: err.Error(),
		})
		return result
	}
	defer tree.Close()

	w := &scriptWalker{
		absPath:  absPath,
		relPath:  relPath,
		source:   source,
		language: f.language,
		opts:     f.opts,
		file:     file,
		result:   result,
		spec:     lang.ForLanguage(f.language),
		exported: make(map[string]bool),
	}

	root := tree.RootNode()
	if root.HasError() {
		w.recordSyntaxErrors(root)
	}
	w.walkBody(root)

	if f.language == lang.TypeScript || f.language == lang.TSX {
		applyFrameworkDecorators(result)
	}
	return result
}

func (w *scriptWalker) recordSyntaxErrors(root *tree_sitter.Node) {
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

func (w *scriptWalker) scopeNames() []string {
	var names []string
	for _, m := range w.moduleStack {
		names = append(names, m.Name)
	}
	for _, c := range w.classStack {
		names = append(names, c.Name)
	}
	for _, f := range w.funcStack {
		names = append(names, f.Name)
	}
	return names
}

func (w *scriptWalker) container() *graph.Entity {
	if len(w.funcStack) > 0 {
		return w.funcStack[len(w.funcStack)-1]
	}
	if len(w.classStack) > 0 {
		return w.classStack[len(w.classStack)-1]
	}
	if len(w.moduleStack) > 0 {
		return w.moduleStack[len(w.moduleStack)-1]
	}
	return w.file
}

func (w *scriptWalker) contain(member *graph.Entity) {
	c := w.container()
	kind := containEdge(c.Kind, member.Kind)
	if kind == "" {
		return
	}
	w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
		SourceID: c.ID,
		Kind:     kind,
		Target:   member.ID,
	})
}

func (w *scriptWalker) scope() graph.RefScope {
	s := graph.RefScope{FilePath: w.absPath}
	if len(w.classStack) > 0 {
		s.ClassName = w.classStack[len(w.classStack)-1].Name
	}
	if len(w.funcStack) > 0 {
		s.FuncName = w.funcStack[len(w.funcStack)-1].Name
	}
	return s
}

// walkBody dispatches declaration visitors over a statement list.
func (w *scriptWalker) walkBody(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		w.visitStatement(child, nil)
	}
}

// visitStatement handles one top-level or block statement. decorators carry
// annotations hoisted from an enclosing export statement.
func (w *scriptWalker) visitStatement(node *tree_sitter.Node, decorators []string) {
	switch node.Kind() {
	case "export_statement":
		w.visitExport(node)
	case "import_statement":
		w.visitImport(node)
	case "class_declaration", "abstract_class_declaration":
		w.visitClass(node, decorators)
	case "interface_declaration":
		w.visitInterface(node)
	case "type_alias_declaration":
		w.visitTypeAlias(node)
	case "enum_declaration":
		w.visitEnum(node)
	case "function_declaration", "generator_function_declaration":
		w.visitFunction(node)
	case "lexical_declaration", "variable_declaration":
		w.visitVariableDeclaration(node)
	case "internal_module":
		w.visitNamespace(node)
	case "expression_statement", "if_statement", "for_statement", "while_statement", "try_statement", "switch_statement":
		w.collectExprWork(node)
	case "decorator":
		// handled by the declaration that follows; nothing to emit here
	}
}

// visitExport unwraps `export ...` statements: declarations keep their
// normal extraction plus an is_exported mark and a pending EXPORTS edge;
// re-exports produce an Import entity and an IMPORTS pending (no EXPORTS).
func (w *scriptWalker) visitExport(node *tree_sitter.Node) {
	isDefault := false
	var decorators []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "default":
			isDefault = true
		case "decorator":
			decorators = append(decorators, decoratorName(child, w.source))
		case "class_declaration", "abstract_class_declaration", "interface_declaration",
			"type_alias_declaration", "enum_declaration",
			"function_declaration", "generator_function_declaration",
			"lexical_declaration", "variable_declaration", "internal_module":
			mark := len(w.result.Entities)
			w.visitStatement(child, decorators)
			for _, e := range w.result.Entities[mark:] {
				w.markExported(e, isDefault)
			}
		case "export_clause":
			w.visitExportClause(node, child)
		}
	}

	// `export * from './mod'` and `export { a } from './mod'` re-exports
	if src := node.ChildByFieldName("source"); src != nil {
		w.addReExport(node, src)
	}
}

func (w *scriptWalker) markExported(e *graph.Entity, isDefault bool) {
	e.SetProp("is_exported", true)
	if isDefault {
		e.SetProp("is_default_export", true)
	}
	w.exported[e.Name] = true
	exportType := "named"
	if isDefault {
		exportType = "default"
	}
	w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
		SourceID:   w.file.ID,
		Kind:       graph.RelExports,
		Target:     e.ID,
		Properties: map[string]any{"export_type": exportType, "symbol": e.Name},
	})
}

// visitExportClause handles `export { a, b as c }` without a source.
func (w *scriptWalker) visitExportClause(stmt, clause *tree_sitter.Node) {
	if stmt.ChildByFieldName("source") != nil {
		return // re-export handled by addReExport
	}
	for i := uint(0); i < clause.ChildCount(); i++ {
		spec := clause.Child(i)
		if spec == nil || spec.Kind() != "export_specifier" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := parser.NodeText(nameNode, w.source)
		w.exported[name] = true
		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   w.file.ID,
			Kind:       graph.RelExports,
			Target:     name,
			TargetKind: graph.PendingExport,
			Scope:      graph.RefScope{FilePath: w.absPath},
			Properties: map[string]any{"export_type": "named", "symbol": name},
		})
	}
}

func (w *scriptWalker) addReExport(node, src *tree_sitter.Node) {
	module := trimQuotes(parser.NodeText(src, w.source))
	line := parser.Line(node.StartPosition().Row)
	qn := fqn.Compute(w.relPath, nil, "reexport."+module)
	imp := newEntity(graph.KindImport, module, qn, w.absPath, line, parser.Line(node.EndPosition().Row))
	imp.SetProp("module_name", module)
	imp.SetProp("is_reexport", true)
	w.result.Entities = append(w.result.Entities, imp)
	w.contain(imp)
	w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
		SourceID:   imp.ID,
		Kind:       graph.RelImports,
		Target:     module,
		TargetKind: graph.PendingModule,
		Scope:      graph.RefScope{FilePath: w.absPath},
		Properties: map[string]any{"import_type": "reexport"},
	})
}

func (w *scriptWalker) visitImport(node *tree_sitter.Node) {
	src := node.ChildByFieldName("source")
	if src == nil {
		return
	}
	module := trimQuotes(parser.NodeText(src, w.source))
	line := parser.Line(node.StartPosition().Row)

	type binding struct {
		local  string
		symbol string
		kind   string
	}
	var bindings []binding

	if clause := parser.NamedChildByKind(node, "import_clause"); clause != nil {
		parser.Walk(clause, func(n *tree_sitter.Node) bool {
			switch n.Kind() {
			case "identifier":
				// default import: direct identifier child of the clause
				if p := n.Parent(); p != nil && p.Kind() == "import_clause" {
					bindings = append(bindings, binding{local: parser.NodeText(n, w.source), symbol: "default", kind: "default"})
				}
				return true
			case "namespace_import":
				if id := parser.NamedChildByKind(n, "identifier"); id != nil {
					bindings = append(bindings, binding{local: parser.NodeText(id, w.source), symbol: "*", kind: "namespace"})
				}
				return false
			case "import_specifier":
				nameNode := n.ChildByFieldName("name")
				aliasNode := n.ChildByFieldName("alias")
				if nameNode == nil {
					return false
				}
				b := binding{symbol: parser.NodeText(nameNode, w.source), kind: "named"}
				if aliasNode != nil {
					b.local = parser.NodeText(aliasNode, w.source)
				} else {
					b.local = b.symbol
				}
				bindings = append(bindings, b)
				return false
			}
			return true
		})
	}

	if len(bindings) == 0 {
		// side-effect import: `import './polyfills'`
		bindings = append(bindings, binding{local: module, kind: "side_effect"})
	}

	for _, b := range bindings {
		qnName := module
		if b.symbol != "" {
			qnName = module + "." + b.symbol
		}
		qn := fqn.Compute(w.relPath, nil, "import."+qnName)
		imp := newEntity(graph.KindImport, b.local, qn, w.absPath, line, parser.Line(node.EndPosition().Row))
		imp.SetProp("module_name", module)
		imp.SetProp("import_type", b.kind)
		imp.SetProp("is_relative", strings.HasPrefix(module, "."))
		w.result.Entities = append(w.result.Entities, imp)
		w.contain(imp)

		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   imp.ID,
			Kind:       graph.RelImports,
			Target:     module,
			TargetKind: graph.PendingModule,
			Scope:      graph.RefScope{FilePath: w.absPath},
			Properties: map[string]any{"import_type": b.kind},
		})

		if b.kind != "side_effect" {
			w.result.Imports[b.local] = graph.ImportRef{
				Module:   module,
				Symbol:   b.symbol,
				EntityID: imp.ID,
			}
		}
	}
}

func (w *scriptWalker) visitClass(node *tree_sitter.Node, extraDecorators []string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	cls := newEntity(graph.KindClass, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	if node.Kind() == "abstract_class_declaration" {
		cls.SetProp("is_abstract", true)
	}

	decorators := append([]string{}, extraDecorators...)
	decorators = append(decorators, leadingDecorators(node, w.source)...)
	if len(decorators) > 0 {
		cls.SetProp("decorators", decorators)
		if meta := decoratorMetadata(node, w.source); meta != nil {
			cls.SetProp("decorator_metadata", meta)
		}
	}

	w.result.Entities = append(w.result.Entities, cls)
	w.contain(cls)

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

	w.extractHeritage(node, cls)

	w.classStack = append(w.classStack, cls)
	if body := node.ChildByFieldName("body"); body != nil {
		w.visitClassBody(body)
	}
	w.classStack = w.classStack[:len(w.classStack)-1]
}

// extractHeritage emits INHERITS and IMPLEMENTS pendings from a class
// heritage clause.
func (w *scriptWalker) extractHeritage(node *tree_sitter.Node, cls *graph.Entity) {
	heritage := parser.NamedChildByKind(node, "class_heritage")
	if heritage == nil {
		return
	}
	emit := func(kind graph.RelKind, target string) {
		w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
			SourceID:   cls.ID,
			Kind:       kind,
			Target:     target,
			TargetKind: graph.PendingSymbol,
			Scope:      w.scope(),
		})
	}
	// TS grammar: extends_clause / implements_clause children.
	// JS grammar: class_heritage is `extends <expr>` directly.
	sawClause := false
	for i := uint(0); i < heritage.ChildCount(); i++ {
		clause := heritage.Child(i)
		if clause == nil {
			continue
		}
		switch clause.Kind() {
		case "extends_clause":
			sawClause = true
			// Class-to-class inheritance is INHERITS in the edge
			// vocabulary; EXTENDS is reserved for interface extension.
			for _, t := range clauseTypeNames(clause, w.source) {
				emit(graph.RelInherits, t)
			}
		case "implements_clause":
			sawClause = true
			for _, t := range clauseTypeNames(clause, w.source) {
				emit(graph.RelImplements, t)
			}
		}
	}
	if !sawClause {
		for i := uint(0); i < heritage.ChildCount(); i++ {
			c := heritage.Child(i)
			if c == nil {
				continue
			}
			if c.Kind() == "identifier" || c.Kind() == "member_expression" {
				emit(graph.RelInherits, parser.NodeText(c, w.source))
			}
		}
	}
}

func clauseTypeNames(clause *tree_sitter.Node, source []byte) []string {
	var names []string
	for i := uint(0); i < clause.ChildCount(); i++ {
		c := clause.Child(i)
		if c == nil {
			continue
		}
		switch c.Kind() {
		case "identifier", "member_expression", "nested_type_identifier", "type_identifier":
			names = append(names, parser.NodeText(c, source))
		case "generic_type":
			if n := c.ChildByFieldName("name"); n != nil {
				names = append(names, parser.NodeText(n, source))
			}
		}
	}
	return names
}

func (w *scriptWalker) visitClassBody(body *tree_sitter.Node) {
	for i := uint(0); i < body.ChildCount(); i++ {
		member := body.Child(i)
		if member == nil {
			continue
		}
		switch member.Kind() {
		case "method_definition":
			w.visitMethod(member)
		case "public_field_definition", "field_definition":
			w.visitField(member)
		}
	}
}

func (w *scriptWalker) visitMethod(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	m := newEntity(graph.KindMethod, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))

	text := parser.NodeText(node, w.source)
	if params := node.ChildByFieldName("parameters"); params != nil {
		m.SetProp("signature", parser.NodeText(params, w.source))
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		m.SetProp("return_type", strings.TrimSpace(strings.TrimPrefix(parser.NodeText(ret, w.source), ":")))
	}
	for _, access := range []string{"private", "protected", "public"} {
		if strings.HasPrefix(text, access+" ") || strings.Contains(text, " "+access+" ") {
			m.SetProp("accessibility", access)
			break
		}
	}
	if methodHasModifier(node, w.source, "static") {
		m.SetProp("is_static", true)
	}
	if methodHasModifier(node, w.source, "async") {
		m.SetProp("is_async", true)
	}
	if decs := leadingDecorators(node, w.source); len(decs) > 0 {
		m.SetProp("decorators", decs)
	}
	m.SetProp("complexity", complexity(node, w.spec))

	w.result.Entities = append(w.result.Entities, m)
	w.contain(m)

	w.funcStack = append(w.funcStack, m)
	if body := node.ChildByFieldName("body"); body != nil {
		w.collectCalls(body, m)
		w.collectAccesses(body, m)
		w.visitNestedDeclarations(body)
	}
	w.funcStack = w.funcStack[:len(w.funcStack)-1]
}

// visitField extracts class fields; arrow-function fields become Method-like
// callable members, plain fields become Variables.
func (w *scriptWalker) visitField(node *tree_sitter.Node) {
	var nameNode *tree_sitter.Node
	if node.Kind() == "public_field_definition" {
		nameNode = node.ChildByFieldName("name")
	} else {
		nameNode = node.ChildByFieldName("property")
	}
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)

	value := node.ChildByFieldName("value")
	if value != nil && value.Kind() == "arrow_function" {
		m := newEntity(graph.KindArrowFunction, name, qn, w.absPath,
			parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
		if params := value.ChildByFieldName("parameters"); params != nil {
			m.SetProp("signature", parser.NodeText(params, w.source))
		}
		m.SetProp("complexity", complexity(value, w.spec))
		w.result.Entities = append(w.result.Entities, m)
		w.contain(m)
		w.funcStack = append(w.funcStack, m)
		if body := value.ChildByFieldName("body"); body != nil {
			w.collectCalls(body, m)
			w.collectAccesses(body, m)
		}
		w.funcStack = w.funcStack[:len(w.funcStack)-1]
		return
	}

	v := newEntity(graph.KindVariable, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	if t := node.ChildByFieldName("type"); t != nil {
		v.SetProp("type_annotation", strings.TrimSpace(strings.TrimPrefix(parser.NodeText(t, w.source), ":")))
	}
	w.result.Entities = append(w.result.Entities, v)
	w.contain(v)
}

func (w *scriptWalker) visitInterface(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	iface := newEntity(graph.KindInterface, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))

	// member census
	var propCount, methodCount int
	if body := node.ChildByFieldName("body"); body != nil {
		for i := uint(0); i < body.ChildCount(); i++ {
			m := body.Child(i)
			if m == nil {
				continue
			}
			switch m.Kind() {
			case "property_signature":
				propCount++
			case "method_signature":
				methodCount++
			}
		}
	}
	if propCount > 0 {
		iface.SetProp("property_count", propCount)
	}
	if methodCount > 0 {
		iface.SetProp("method_count", methodCount)
	}

	w.result.Entities = append(w.result.Entities, iface)
	w.contain(iface)

	// `interface A extends B` produces EXTENDS pendings.
	if clause := parser.NamedChildByKind(node, "extends_type_clause"); clause != nil {
		for _, t := range clauseTypeNames(clause, w.source) {
			w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
				SourceID:   iface.ID,
				Kind:       graph.RelExtends,
				Target:     t,
				TargetKind: graph.PendingSymbol,
				Scope:      w.scope(),
			})
		}
	}
}

func (w *scriptWalker) visitTypeAlias(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	alias := newEntity(graph.KindTypeAlias, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	if value := node.ChildByFieldName("value"); value != nil {
		alias.SetProp("aliased_type", parser.NodeText(value, w.source))
	}
	w.result.Entities = append(w.result.Entities, alias)
	w.contain(alias)
}

func (w *scriptWalker) visitEnum(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	enum := newEntity(graph.KindEnum, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	var members []string
	if body := node.ChildByFieldName("body"); body != nil {
		for i := uint(0); i < body.ChildCount(); i++ {
			m := body.Child(i)
			if m == nil {
				continue
			}
			switch m.Kind() {
			case "enum_assignment":
				if n := m.ChildByFieldName("name"); n != nil {
					members = append(members, parser.NodeText(n, w.source))
				}
			case "property_identifier":
				members = append(members, parser.NodeText(m, w.source))
			}
		}
	}
	if len(members) > 0 {
		enum.SetProp("members", members)
	}
	w.result.Entities = append(w.result.Entities, enum)
	w.contain(enum)
}

func (w *scriptWalker) visitFunction(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)

	kind := graph.KindFunction
	if node.Kind() == "generator_function_declaration" {
		kind = graph.KindGeneratorFunction
	}
	fn := newEntity(kind, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.SetProp("signature", parser.NodeText(params, w.source))
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		fn.SetProp("return_type", strings.TrimSpace(strings.TrimPrefix(parser.NodeText(ret, w.source), ":")))
	}
	if methodHasModifier(node, w.source, "async") {
		fn.SetProp("is_async", true)
	}
	fn.SetProp("complexity", complexity(node, w.spec))

	w.result.Entities = append(w.result.Entities, fn)
	w.contain(fn)

	w.funcStack = append(w.funcStack, fn)
	if body := node.ChildByFieldName("body"); body != nil {
		w.collectCalls(body, fn)
		w.collectAccesses(body, fn)
		w.visitNestedDeclarations(body)
	}
	w.funcStack = w.funcStack[:len(w.funcStack)-1]
}

// visitNestedDeclarations finds declarations inside a function body without
// re-walking expression work (calls/accesses are collected separately).
func (w *scriptWalker) visitNestedDeclarations(body *tree_sitter.Node) {
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "function_declaration", "generator_function_declaration",
			"class_declaration", "lexical_declaration", "variable_declaration":
			w.visitStatement(child, nil)
		}
	}
}

// visitVariableDeclaration flattens const/let/var declarators, including
// destructuring patterns, into one Variable entity per bound name. A
// declarator whose value is an arrow or generator function becomes the
// matching callable kind instead.
func (w *scriptWalker) visitVariableDeclaration(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		decl := node.Child(i)
		if decl == nil || decl.Kind() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		value := decl.ChildByFieldName("value")
		if nameNode == nil {
			continue
		}

		if nameNode.Kind() == "identifier" && value != nil &&
			(value.Kind() == "arrow_function" || value.Kind() == "function_expression" || value.Kind() == "generator_function") {
			w.visitCallableDeclarator(decl, nameNode, value)
			continue
		}

		for _, name := range flattenScriptPattern(nameNode, w.source) {
			qn := fqn.Compute(w.relPath, w.scopeNames(), name)
			v := newEntity(graph.KindVariable, name, qn, w.absPath,
				parser.Line(decl.StartPosition().Row), parser.Line(decl.EndPosition().Row))
			if t := decl.ChildByFieldName("type"); t != nil {
				v.SetProp("type_annotation", strings.TrimSpace(strings.TrimPrefix(parser.NodeText(t, w.source), ":")))
			}
			if first := node.Child(0); first != nil {
				v.SetProp("declaration_kind", parser.NodeText(first, w.source)) // const | let | var
			}
			w.result.Entities = append(w.result.Entities, v)
			w.contain(v)
		}
	}
}

func (w *scriptWalker) visitCallableDeclarator(decl, nameNode, value *tree_sitter.Node) {
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	kind := graph.KindArrowFunction
	if value.Kind() == "generator_function" {
		kind = graph.KindGeneratorFunction
	} else if value.Kind() == "function_expression" {
		kind = graph.KindFunction
	}
	fn := newEntity(kind, name, qn, w.absPath,
		parser.Line(decl.StartPosition().Row), parser.Line(decl.EndPosition().Row))
	if params := value.ChildByFieldName("parameters"); params != nil {
		fn.SetProp("signature", parser.NodeText(params, w.source))
	}
	if methodHasModifier(value, w.source, "async") {
		fn.SetProp("is_async", true)
	}
	fn.SetProp("complexity", complexity(value, w.spec))
	w.result.Entities = append(w.result.Entities, fn)
	w.contain(fn)

	w.funcStack = append(w.funcStack, fn)
	if body := value.ChildByFieldName("body"); body != nil {
		w.collectCalls(body, fn)
		w.collectAccesses(body, fn)
	}
	w.funcStack = w.funcStack[:len(w.funcStack)-1]
}

// visitNamespace extracts a TS namespace as a Module entity.
func (w *scriptWalker) visitNamespace(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, w.source)
	qn := fqn.Compute(w.relPath, w.scopeNames(), name)
	mod := newEntity(graph.KindModule, name, qn, w.absPath,
		parser.Line(node.StartPosition().Row), parser.Line(node.EndPosition().Row))
	w.result.Entities = append(w.result.Entities, mod)
	w.contain(mod)

	w.moduleStack = append(w.moduleStack, mod)
	if body := node.ChildByFieldName("body"); body != nil {
		w.walkBody(body)
	}
	w.moduleStack = w.moduleStack[:len(w.moduleStack)-1]
}

// collectExprWork records calls/accesses appearing outside any function
// (top-level statements); only statements inside callables carry a source
// entity, so top-level work is skipped unless a function is on the stack.
func (w *scriptWalker) collectExprWork(node *tree_sitter.Node) {
	if len(w.funcStack) == 0 {
		return
	}
	fn := w.funcStack[len(w.funcStack)-1]
	w.collectCalls(node, fn)
	w.collectAccesses(node, fn)
}

func (w *scriptWalker) collectCalls(body *tree_sitter.Node, fn *graph.Entity) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_declaration", "generator_function_declaration", "class_declaration",
			"arrow_function", "function_expression", "method_definition":
			return false
		case "call_expression":
			callee := n.ChildByFieldName("function")
			if callee == nil {
				return true
			}
			path := scriptDottedPath(callee, w.source)
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

// collectAccesses records member-expression property paths as pending
// ACCESSES edges, skipping ones that are callee positions (those are CALLS).
func (w *scriptWalker) collectAccesses(body *tree_sitter.Node, fn *graph.Entity) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_declaration", "generator_function_declaration", "class_declaration",
			"arrow_function", "function_expression", "method_definition":
			return false
		case "member_expression":
			if p := n.Parent(); p != nil && p.Kind() == "call_expression" {
				if c := p.ChildByFieldName("function"); c != nil && c.Id() == n.Id() {
					return false
				}
			}
			path := scriptDottedPath(n, w.source)
			if path == "" || !strings.Contains(path, ".") {
				return false
			}
			w.result.Pending = append(w.result.Pending, graph.PendingRelationship{
				SourceID:   fn.ID,
				Kind:       graph.RelAccesses,
				Target:     path,
				TargetKind: graph.PendingSymbol,
				Scope:      w.scope(),
				Properties: map[string]any{
					"property_path":   path,
					"access_location": parser.Line(n.StartPosition().Row),
				},
			})
			return false
		}
		return true
	})
}

// --- helpers ---

func methodHasModifier(node *tree_sitter.Node, source []byte, modifier string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c == nil {
			continue
		}
		if parser.NodeText(c, source) == modifier {
			return true
		}
		// stop at the name; modifiers precede it
		if c.Kind() == "property_identifier" || c.Kind() == "identifier" {
			break
		}
	}
	return false
}

// leadingDecorators collects decorator names attached to a declaration.
func leadingDecorators(node *tree_sitter.Node, source []byte) []string {
	var names []string
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c != nil && c.Kind() == "decorator" {
			names = append(names, decoratorName(c, source))
		}
	}
	// Decorators may also precede the declaration as siblings.
	for prev := node.PrevSibling(); prev != nil && prev.Kind() == "decorator"; prev = prev.PrevSibling() {
		names = append(names, decoratorName(prev, source))
	}
	return names
}

func decoratorName(node *tree_sitter.Node, source []byte) string {
	text := strings.TrimPrefix(parser.NodeText(node, source), "@")
	if idx := strings.IndexByte(text, '('); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func scriptDottedPath(node *tree_sitter.Node, source []byte) string {
	switch node.Kind() {
	case "identifier", "property_identifier", "this":
		return parser.NodeText(node, source)
	case "member_expression":
		obj := node.ChildByFieldName("object")
		prop := node.ChildByFieldName("property")
		if obj == nil || prop == nil {
			return ""
		}
		head := scriptDottedPath(obj, source)
		if head == "" {
			return ""
		}
		return head + "." + parser.NodeText(prop, source)
	}
	return ""
}

func flattenScriptPattern(node *tree_sitter.Node, source []byte) []string {
	var names []string
	switch node.Kind() {
	case "identifier", "shorthand_property_identifier_pattern":
		names = append(names, parser.NodeText(node, source))
	case "object_pattern", "array_pattern":
		for i := uint(0); i < node.ChildCount(); i++ {
			c := node.Child(i)
			if c == nil {
				continue
			}
			switch c.Kind() {
			case "shorthand_property_identifier_pattern", "identifier":
				names = append(names, parser.NodeText(c, source))
			case "pair_pattern":
				if v := c.ChildByFieldName("value"); v != nil {
					names = append(names, flattenScriptPattern(v, source)...)
				}
			case "rest_pattern", "object_pattern", "array_pattern":
				names = append(names, flattenScriptPattern(c, source)...)
			}
		}
	case "rest_pattern":
		for i := uint(0); i < node.ChildCount(); i++ {
			c := node.Child(i)
			if c != nil && c.Kind() == "identifier" {
				names = append(names, parser.NodeText(c, source))
			}
		}
	}
	return names
}

func trimQuotes(s string) string {
	return strings.Trim(s, "'\"`")
}
