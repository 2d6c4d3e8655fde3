package symbols

import "testing"

func TestLexicalAdapter_SupportsPath(t *testing.T) {
	a := NewLexicalAdapter()
	for _, p := range []string{"x.go", "x.ts", "x.tsx", "x.java", "x.rs", "x.cpp", "x.cs"} {
		if !a.SupportsPath(p) {
			t.Errorf("expected %s to be supported", p)
		}
	}
	if a.SupportsPath("x.py") {
		t.Error("lexical adapter should not claim .py")
	}
}

func TestLexicalAdapter_GoFunctionsAndMethods(t *testing.T) {
	src := `package main

func Foo(x int) int {
	return x + 1
}

type Bar struct {
	n int
}

func (b *Bar) Baz() int {
	return b.n
}
`
	out := NewLexicalAdapter().Outline("x.go", src)
	names := map[string]Kind{}
	for _, s := range out {
		names[s.Name] = s.Kind
	}
	if names["Foo"] != KindFunction {
		t.Errorf("Foo kind = %v, want function", names["Foo"])
	}
	if names["Bar"] != KindStruct {
		t.Errorf("Bar kind = %v, want struct", names["Bar"])
	}
	if names["Baz"] != KindMethod {
		t.Errorf("Baz kind = %v, want method", names["Baz"])
	}
}

func TestLexicalAdapter_SkipsStringsAndComments(t *testing.T) {
	src := `// class FakeFromComment {
func Real() {}
var s = "class FakeFromString {"
`
	out := NewLexicalAdapter().Outline("x.go", src)
	for _, s := range out {
		if s.Name == "FakeFromComment" || s.Name == "FakeFromString" {
			t.Errorf("declarator inside comment/string leaked into output: %+v", s)
		}
	}
	found := false
	for _, s := range out {
		if s.Name == "Real" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find Real()")
	}
}

func TestLexicalAdapter_TypeScriptClassAndInterface(t *testing.T) {
	src := `interface Shape {
	area(): number;
}

class Circle implements Shape {
	radius: number;
	area(): number {
		return this.radius;
	}
}
`
	out := NewLexicalAdapter().Outline("x.ts", src)
	var gotInterface, gotClass bool
	for _, s := range out {
		if s.Name == "Shape" && s.Kind == KindInterface {
			gotInterface = true
		}
		if s.Name == "Circle" && s.Kind == KindClass {
			gotClass = true
		}
	}
	if !gotInterface || !gotClass {
		t.Errorf("missing expected symbols: %+v", out)
	}
}

func TestLexicalAdapter_NeverErrors(t *testing.T) {
	garbage := "{{{ class class class ((( \"\"\" unterminated"
	out := NewLexicalAdapter().Outline("x.java", garbage)
	_ = out // must not panic
}

func TestRegistry_FallsBackToLexicalForUnknownExtension(t *testing.T) {
	reg := NewRegistry()
	a := reg.For("x.txt")
	if a == nil {
		t.Fatal("expected a fallback adapter")
	}
	out := a.Outline("x.txt", "class Whatever {}")
	_ = out
}

func TestList_SortOrder(t *testing.T) {
	l := List{
		{Name: "b", StartLine: 1, EndLine: 5, Kind: KindFunction},
		{Name: "a", StartLine: 1, EndLine: 5, Kind: KindFunction},
		{Name: "z", StartLine: 2, EndLine: 3, Kind: KindFunction},
	}
	l.Sort()
	if l[0].Name != "a" || l[1].Name != "b" || l[2].Name != "z" {
		t.Errorf("unexpected sort order: %+v", l)
	}
}
