package lang

func init() {
	// .scss and .sass share the CSS grammar; the stylesheet front-end
	// tolerates the resulting error nodes.
	Register(&LanguageSpec{
		Language:        CSS,
		FileExtensions:  []string{".css", ".scss", ".sass"},
		ModuleNodeTypes: []string{"stylesheet"},
		ImportNodeTypes: []string{"import_statement"},
	})
}
