package graph

// EntityKind classifies a graph node. The enumeration is closed: the store
// refuses kinds outside this set.
type EntityKind string

const (
	KindFile              EntityKind = "File"
	KindModule            EntityKind = "Module"
	KindClass             EntityKind = "Class"
	KindInterface         EntityKind = "Interface"
	KindTypeAlias         EntityKind = "TypeAlias"
	KindEnum              EntityKind = "Enum"
	KindFunction          EntityKind = "Function"
	KindMethod            EntityKind = "Method"
	KindArrowFunction     EntityKind = "ArrowFunction"
	KindGeneratorFunction EntityKind = "GeneratorFunction"
	KindVariable          EntityKind = "Variable"
	KindImport            EntityKind = "Import"
	KindComponent         EntityKind = "Component"
	KindService           EntityKind = "Service"
	KindDirective         EntityKind = "Directive"
	KindPipe              EntityKind = "Pipe"
	KindNgModule          EntityKind = "NgModule"
	KindExternal          EntityKind = "External"
)

// AllEntityKinds returns every declared entity kind.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindFile, KindModule, KindClass, KindInterface, KindTypeAlias,
		KindEnum, KindFunction, KindMethod, KindArrowFunction,
		KindGeneratorFunction, KindVariable, KindImport, KindComponent,
		KindService, KindDirective, KindPipe, KindNgModule, KindExternal,
	}
}

// RelKind classifies a graph edge. Names are the user-visible wire
// vocabulary; queries match them exactly.
type RelKind string

const (
	RelFileContainsModule            RelKind = "FILE_CONTAINS_MODULE"
	RelFileContainsClass             RelKind = "FILE_CONTAINS_CLASS"
	RelFileContainsFunction          RelKind = "FILE_CONTAINS_FUNCTION"
	RelFileContainsVariable          RelKind = "FILE_CONTAINS_VARIABLE"
	RelFileContainsImport            RelKind = "FILE_CONTAINS_IMPORT"
	RelFileContainsComponent         RelKind = "FILE_CONTAINS_COMPONENT"
	RelFileContainsService           RelKind = "FILE_CONTAINS_SERVICE"
	RelFileContainsDirective         RelKind = "FILE_CONTAINS_DIRECTIVE"
	RelFileContainsPipe              RelKind = "FILE_CONTAINS_PIPE"
	RelFileContainsNgModule          RelKind = "FILE_CONTAINS_NGMODULE"
	RelFileContainsInterface         RelKind = "FILE_CONTAINS_INTERFACE"
	RelFileContainsTypeAlias         RelKind = "FILE_CONTAINS_TYPE_ALIAS"
	RelFileContainsEnum              RelKind = "FILE_CONTAINS_ENUM"
	RelFileContainsArrowFunction     RelKind = "FILE_CONTAINS_ARROW_FUNCTION"
	RelFileContainsGeneratorFunction RelKind = "FILE_CONTAINS_GENERATOR_FUNCTION"

	RelModuleContainsClass    RelKind = "MODULE_CONTAINS_CLASS"
	RelModuleContainsFunction RelKind = "MODULE_CONTAINS_FUNCTION"
	RelModuleContainsVariable RelKind = "MODULE_CONTAINS_VARIABLE"

	RelClassContainsFunction RelKind = "CLASS_CONTAINS_FUNCTION"
	RelClassContainsVariable RelKind = "CLASS_CONTAINS_VARIABLE"

	RelFunctionContainsFunction RelKind = "FUNCTION_CONTAINS_FUNCTION"
	RelFunctionContainsVariable RelKind = "FUNCTION_CONTAINS_VARIABLE"

	RelCalls        RelKind = "CALLS"
	RelInherits     RelKind = "INHERITS"
	RelImplements   RelKind = "IMPLEMENTS"
	RelImports      RelKind = "IMPORTS"
	RelUses         RelKind = "USES"
	RelAccesses     RelKind = "ACCESSES"
	RelDecorates    RelKind = "DECORATES"
	RelExtends      RelKind = "EXTENDS"
	RelExports      RelKind = "EXPORTS"
	RelUsesTemplate RelKind = "USES_TEMPLATE"
	RelUsesStyles   RelKind = "USES_STYLES"
)

// AllRelKinds returns every declared relationship kind.
func AllRelKinds() []RelKind {
	return []RelKind{
		RelFileContainsModule, RelFileContainsClass, RelFileContainsFunction,
		RelFileContainsVariable, RelFileContainsImport, RelFileContainsComponent,
		RelFileContainsService, RelFileContainsDirective, RelFileContainsPipe,
		RelFileContainsNgModule, RelFileContainsInterface, RelFileContainsTypeAlias,
		RelFileContainsEnum, RelFileContainsArrowFunction, RelFileContainsGeneratorFunction,
		RelModuleContainsClass, RelModuleContainsFunction, RelModuleContainsVariable,
		RelClassContainsFunction, RelClassContainsVariable,
		RelFunctionContainsFunction, RelFunctionContainsVariable,
		RelCalls, RelInherits, RelImplements, RelImports, RelUses, RelAccesses,
		RelDecorates, RelExtends, RelExports, RelUsesTemplate, RelUsesStyles,
	}
}

// containmentByKind maps an entity kind to the FILE_CONTAINS_* edge that
// attaches it to its owning File node.
var containmentByKind = map[EntityKind]RelKind{
	KindModule:            RelFileContainsModule,
	KindClass:             RelFileContainsClass,
	KindFunction:          RelFileContainsFunction,
	KindMethod:            RelFileContainsFunction,
	KindVariable:          RelFileContainsVariable,
	KindImport:            RelFileContainsImport,
	KindComponent:         RelFileContainsComponent,
	KindService:           RelFileContainsService,
	KindDirective:         RelFileContainsDirective,
	KindPipe:              RelFileContainsPipe,
	KindNgModule:          RelFileContainsNgModule,
	KindInterface:         RelFileContainsInterface,
	KindTypeAlias:         RelFileContainsTypeAlias,
	KindEnum:              RelFileContainsEnum,
	KindArrowFunction:     RelFileContainsArrowFunction,
	KindGeneratorFunction: RelFileContainsGeneratorFunction,
}

// FileContainment returns the FILE_CONTAINS_* edge kind for an entity kind,
// or "" when the kind is never file-contained (File, External).
func FileContainment(k EntityKind) RelKind {
	return containmentByKind[k]
}

// IsContainment reports whether a relationship kind is a containment edge.
// Containment edges form the forest rooted at File nodes.
func IsContainment(k RelKind) bool {
	switch k {
	case RelModuleContainsClass, RelModuleContainsFunction, RelModuleContainsVariable,
		RelClassContainsFunction, RelClassContainsVariable,
		RelFunctionContainsFunction, RelFunctionContainsVariable:
		return true
	}
	for _, c := range containmentByKind {
		if c == k {
			return true
		}
	}
	return false
}

// IsCallable reports whether a kind is a callable unit.
func IsCallable(k EntityKind) bool {
	switch k {
	case KindFunction, KindMethod, KindArrowFunction, KindGeneratorFunction:
		return true
	}
	return false
}

// IsDecoratorKind reports whether a kind results from decorator rekinding.
func IsDecoratorKind(k EntityKind) bool {
	switch k {
	case KindComponent, KindService, KindDirective, KindPipe, KindNgModule:
		return true
	}
	return false
}
