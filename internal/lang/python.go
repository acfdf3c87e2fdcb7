package lang

func init() {
	Register(&LanguageSpec{
		Language:          Python,
		FileExtensions:    []string{".py", ".pyw", ".pyi"},
		FunctionNodeTypes: []string{"function_definition"},
		ClassNodeTypes:    []string{"class_definition"},
		ModuleNodeTypes:   []string{"module"},
		CallNodeTypes:     []string{"call"},
		ImportNodeTypes:   []string{"import_statement", "import_from_statement"},

		VariableNodeTypes:  []string{"assignment"},
		DecoratorNodeTypes: []string{"decorator"},
		BranchingNodeTypes: []string{"if_statement", "elif_clause", "for_statement", "while_statement", "try_statement", "except_clause", "with_statement", "boolean_operator"},
	})
}
