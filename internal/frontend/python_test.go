package frontend

import (
	"testing"

	"github.com/codeatlas/codeatlas/internal/graph"
)

func parsePython(t *testing.T, relPath, source string) *graph.ParseResult {
	t.Helper()
	fe := &PythonFrontEnd{opts: Options{IncludeDocstrings: true}}
	return fe.ParseFile("/proj/"+relPath, relPath, []byte(source))
}

func findEntity(res *graph.ParseResult, kind graph.EntityKind, name string) *graph.Entity {
	for _, e := range res.Entities {
		if e.Kind == kind && e.Name == name {
			return e
		}
	}
	return nil
}

func findPending(res *graph.ParseResult, kind graph.RelKind, target string) *graph.PendingRelationship {
	for i := range res.Pending {
		if res.Pending[i].Kind == kind && res.Pending[i].Target == target {
			return &res.Pending[i]
		}
	}
	return nil
}

func TestPythonFunctionAndCall(t *testing.T) {
	res := parsePython(t, "a.py", "def f():\n    g()\n")

	file := findEntity(res, graph.KindFile, "a.py")
	if file == nil {
		t.Fatal("missing File entity")
	}
	fn := findEntity(res, graph.KindFunction, "f")
	if fn == nil {
		t.Fatal("missing Function f")
	}
	if fn.QualifiedName != "a.f" {
		t.Errorf("qualified name: got %s", fn.QualifiedName)
	}
	if fn.StartLine != 1 {
		t.Errorf("start line: got %d", fn.StartLine)
	}

	// containment: FILE_CONTAINS_FUNCTION(file, f)
	contain := findPending(res, graph.RelFileContainsFunction, fn.ID)
	if contain == nil || contain.SourceID != file.ID {
		t.Error("missing FILE_CONTAINS_FUNCTION edge")
	}

	call := findPending(res, graph.RelCalls, "g")
	if call == nil {
		t.Fatal("missing pending CALLS g")
	}
	if call.SourceID != fn.ID {
		t.Error("call source is not f")
	}
	if call.TargetKind != graph.PendingSymbol {
		t.Error("call target should be a symbol reference")
	}
}

func TestPythonImportForms(t *testing.T) {
	res := parsePython(t, "a.py", "import b\nfrom m import a as c\nimport numpy as np\n")

	impB := findEntity(res, graph.KindImport, "b")
	if impB == nil {
		t.Fatal("missing Import b")
	}
	if mod, _ := impB.Properties["module_name"].(string); mod != "b" {
		t.Errorf("module_name: got %q", mod)
	}
	p := findPending(res, graph.RelImports, "b")
	if p == nil || p.SourceID != impB.ID {
		t.Error("IMPORTS pending should originate at the Import entity")
	}

	if ref, ok := res.Imports["c"]; !ok || ref.Module != "m" || ref.Symbol != "a" {
		t.Errorf("from-import binding wrong: %+v", res.Imports["c"])
	}
	if ref, ok := res.Imports["np"]; !ok || ref.Module != "numpy" {
		t.Errorf("aliased import binding wrong: %+v", res.Imports["np"])
	}
}

func TestPythonClassWithMethodsAndInheritance(t *testing.T) {
	src := `class Base:
    pass

class Child(Base):
    """doc here"""

    def method(self):
        self.helper()

    def helper(self):
        pass
`
	res := parsePython(t, "m.py", src)

	child := findEntity(res, graph.KindClass, "Child")
	if child == nil {
		t.Fatal("missing Class Child")
	}
	if doc, _ := child.Properties["docstring"].(string); doc != "doc here" {
		t.Errorf("docstring: got %q", doc)
	}

	inh := findPending(res, graph.RelInherits, "Base")
	if inh == nil || inh.SourceID != child.ID {
		t.Error("missing INHERITS pending to Base")
	}

	method := findEntity(res, graph.KindMethod, "method")
	if method == nil {
		t.Fatal("missing Method entity")
	}
	if method.QualifiedName != "m.Child.method" {
		t.Errorf("method QN: got %s", method.QualifiedName)
	}
	contain := findPending(res, graph.RelClassContainsFunction, method.ID)
	if contain == nil || contain.SourceID != child.ID {
		t.Error("missing CLASS_CONTAINS_FUNCTION edge")
	}
}

func TestPythonAsyncAndGenerator(t *testing.T) {
	src := `async def fetch():
    pass

def numbers():
    yield 1
`
	res := parsePython(t, "x.py", src)

	fetch := findEntity(res, graph.KindFunction, "fetch")
	if fetch == nil {
		t.Fatal("missing async function")
	}
	if isAsync, _ := fetch.Properties["is_async"].(bool); !isAsync {
		t.Error("is_async not set")
	}

	gen := findEntity(res, graph.KindGeneratorFunction, "numbers")
	if gen == nil {
		t.Fatal("generator should be kind GeneratorFunction")
	}
	if isGen, _ := gen.Properties["is_generator"].(bool); !isGen {
		t.Error("is_generator not set")
	}
}

func TestPythonDecorators(t *testing.T) {
	src := `class C:
    @property
    def value(self):
        return 1

    @staticmethod
    def make():
        pass
`
	res := parsePython(t, "d.py", src)

	value := findEntity(res, graph.KindMethod, "value")
	if value == nil {
		t.Fatal("missing decorated method")
	}
	if isProp, _ := value.Properties["is_property"].(bool); !isProp {
		t.Error("is_property not set")
	}
	make_ := findEntity(res, graph.KindMethod, "make")
	if isStatic, _ := make_.Properties["is_staticmethod"].(bool); !isStatic {
		t.Error("is_staticmethod not set")
	}
	if findPending(res, graph.RelDecorates, "property") == nil {
		t.Error("missing DECORATES pending for property")
	}
}

func TestPythonVariables(t *testing.T) {
	src := "MAX_SIZE = 100\nnames = ['a']\n_private = 1\n"
	res := parsePython(t, "v.py", src)

	maxSize := findEntity(res, graph.KindVariable, "MAX_SIZE")
	if maxSize == nil {
		t.Fatal("missing Variable MAX_SIZE")
	}
	if isConst, _ := maxSize.Properties["is_constant"].(bool); !isConst {
		t.Error("is_constant not set for upper-case name")
	}
	if ty, _ := maxSize.Properties["type_annotation"].(string); ty != "int" {
		t.Errorf("inferred type: got %q", ty)
	}
	if findEntity(res, graph.KindVariable, "_private") != nil {
		t.Error("leading-underscore names should be skipped")
	}
}

func TestPythonSyntaxErrorDegrades(t *testing.T) {
	src := "def ok():\n    pass\n\ndef broken(:\n"
	res := parsePython(t, "e.py", src)

	if findEntity(res, graph.KindFile, "e.py") == nil {
		t.Fatal("File entity must survive parse errors")
	}
	if findEntity(res, graph.KindFunction, "ok") == nil {
		t.Error("prefix entities must be preserved")
	}
	if len(res.Errors) == 0 {
		t.Error("expected error records")
	}
	if res.Errors[0].Line == 0 {
		t.Error("error must carry a line number")
	}
}

func TestPythonIdentityDeterminism(t *testing.T) {
	src := "def f():\n    pass\n"
	a := parsePython(t, "a.py", src)
	b := parsePython(t, "a.py", src)
	fa := findEntity(a, graph.KindFunction, "f")
	fb := findEntity(b, graph.KindFunction, "f")
	if fa.ID != fb.ID {
		t.Error("identity differs across two cold runs on the same bytes")
	}
}
