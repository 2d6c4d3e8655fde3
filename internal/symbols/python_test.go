//go:build cgo

package symbols

import "testing"

func TestPythonAdapter_SupportsPath(t *testing.T) {
	a := NewPythonAdapter()
	if !a.SupportsPath("x.py") {
		t.Error("expected .py to be supported")
	}
	if a.SupportsPath("x.go") {
		t.Error(".go should not be claimed by the python adapter")
	}
}

func TestPythonAdapter_FunctionsAndClasses(t *testing.T) {
	src := `def foo(a, b=1):
    """does a thing"""
    return a + b


class Greeter:
    def __init__(self, name):
        self.name = name

    async def greet(self):
        return "hi " + self.name
`
	out := NewPythonAdapter().Outline("x.py", src)
	byName := map[string]Symbol{}
	for _, s := range out {
		byName[s.Name] = s
	}

	foo, ok := byName["foo"]
	if !ok {
		t.Fatal("missing symbol foo")
	}
	if foo.Kind != KindFunction {
		t.Errorf("foo kind = %v, want function", foo.Kind)
	}
	if foo.Doc != "does a thing" {
		t.Errorf("foo doc = %q, want %q", foo.Doc, "does a thing")
	}

	greeter, ok := byName["Greeter"]
	if !ok || greeter.Kind != KindClass {
		t.Fatalf("missing or wrong-kind Greeter class: %+v", greeter)
	}

	greet, ok := byName["greet"]
	if !ok {
		t.Fatal("missing symbol greet")
	}
	if greet.Kind != KindMethod {
		t.Errorf("greet kind = %v, want method", greet.Kind)
	}
	if greet.ParentSymbol != "Greeter" {
		t.Errorf("greet parent = %q, want Greeter", greet.ParentSymbol)
	}
	if greet.ScopeKind != ScopeClass {
		t.Errorf("greet scope = %v, want class", greet.ScopeKind)
	}
}

func TestPythonAdapter_ConditionalDeclaration(t *testing.T) {
	src := `from typing import TYPE_CHECKING

if TYPE_CHECKING:
    class X:
        pass
`
	out := NewPythonAdapter().Outline("x.py", src)
	var x Symbol
	found := false
	for _, s := range out {
		if s.Name == "X" {
			x = s
			found = true
		}
	}
	if !found {
		t.Fatal("missing conditional symbol X")
	}
	if !x.IsConditional {
		t.Error("expected X to be flagged is_conditional")
	}
	if x.DeclContext == "" {
		t.Error("expected a non-empty decl_context for X")
	}
}

func TestPythonAdapter_ModuleConstant(t *testing.T) {
	src := "MAX_RETRIES = 3\n\nnot_a_const = 4\n"
	out := NewPythonAdapter().Outline("x.py", src)
	var foundConst, foundVar bool
	for _, s := range out {
		if s.Name == "MAX_RETRIES" && s.Kind == KindConst {
			foundConst = true
		}
		if s.Name == "not_a_const" {
			foundVar = true
		}
	}
	if !foundConst {
		t.Error("expected MAX_RETRIES to be captured as a const")
	}
	if foundVar {
		t.Error("lowercase module assignment should not be captured as a const")
	}
}

func TestPythonAdapter_UnparseableReturnsEmpty(t *testing.T) {
	out := NewPythonAdapter().Outline("x.py", "def (((( not valid python at all")
	_ = out // must not panic; tree-sitter degrades gracefully on malformed input
}
