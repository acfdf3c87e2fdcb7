package fqn

import (
	"path/filepath"
	"strings"
)

// Compute returns the canonical qualified name for a declaration.
// Format: <rel_path_parts_dotted>.<scope_chain>.<name>
// Examples:
//   - app.services.order.OrderService.submit
//   - utils.helpers.format_date
func Compute(relPath string, scope []string, name string) string {
	parts := ModuleParts(relPath)
	parts = append(parts, scope...)
	if name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, ".")
}

// ModuleQN returns the qualified name for a module (file without member name).
func ModuleQN(relPath string) string {
	return strings.Join(ModuleParts(relPath), ".")
}

// ModuleParts splits a relative path into dotted module segments, dropping
// the extension and Python/JS index-file conventions.
func ModuleParts(relPath string) []string {
	relPath = strings.TrimSuffix(relPath, filepath.Ext(relPath))
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	// Python packages: __init__.py names the directory itself.
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	// JS/TS index files name their directory.
	if len(parts) > 1 && parts[len(parts)-1] == "index" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
