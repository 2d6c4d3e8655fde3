//go:build cgo

package symbols

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonAdapter parses Python source to a real AST and walks every
// declaration node in every lexical scope, including ones nested under
// conditionals.
type PythonAdapter struct {
	parser *sitter.Parser
}

// NewPythonAdapter builds a Python adapter backed by tree-sitter.
func NewPythonAdapter() *PythonAdapter {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &PythonAdapter{parser: p}
}

func (a *PythonAdapter) SupportsPath(path string) bool {
	return ext(path) == ".py" || ext(path) == ".pyi"
}

// Outline walks the parsed tree and returns every function, class,
// method, async variant, type alias, and module-level constant
// assignment it finds, flagging ones reached through a conditional
// guard.
func (a *PythonAdapter) Outline(path, text string) (result List) {
	defer func() {
		if recover() != nil {
			result = nil
		}
	}()

	source := []byte(text)
	tree, err := a.parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		return nil
	}
	root := tree.RootNode()
	if root == nil {
		return nil
	}

	var out List
	walkPython(root, source, "", ScopeModule, false, "", &out)
	return out
}

// Strategy identifies this adapter's reference-extraction strategy.
func (a *PythonAdapter) Strategy() string { return "ast" }

// References walks the AST for import aliases, bare name references, and
// attribute chains whose trailing component matches symbol's trailing
// component.
func (a *PythonAdapter) References(path, text, symbol string) (result []RefMatch) {
	defer func() {
		if recover() != nil {
			result = nil
		}
	}()

	name := symbol
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		name = symbol[i+1:]
	}

	source := []byte(text)
	tree, err := a.parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		return nil
	}
	root := tree.RootNode()
	if root == nil {
		return nil
	}

	rawLines := strings.Split(text, "\n")
	var out []RefMatch
	walkPythonReferences(root, source, name, rawLines, &out)
	return out
}

func walkPythonReferences(node *sitter.Node, source []byte, name string, rawLines []string, out *[]RefMatch) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "identifier":
		if text(node, source) == name {
			line := int(node.StartPoint().Row) + 1
			kind := classifyPythonIdentifier(node, source)
			*out = append(*out, RefMatch{Line: line, Kind: kind, Evidence: evidenceLine(rawLines, line)})
		}

	case "attribute":
		attrNode := node.ChildByFieldName("attribute")
		if attrNode != nil && text(attrNode, source) == name {
			line := int(attrNode.StartPoint().Row) + 1
			kind := "attribute"
			if parentIsCall(node) {
				kind = "call"
			}
			*out = append(*out, RefMatch{Line: line, Kind: kind, Evidence: evidenceLine(rawLines, line)})
		}
		// Do not also descend into the "attribute" child as an identifier
		// match; the object expression may still contain references.
		if obj := node.ChildByFieldName("object"); obj != nil {
			walkPythonReferences(obj, source, name, rawLines, out)
		}
		return

	case "aliased_import":
		aliasNode := node.ChildByFieldName("alias")
		if aliasNode != nil && text(aliasNode, source) == name {
			line := int(aliasNode.StartPoint().Row) + 1
			*out = append(*out, RefMatch{Line: line, Kind: "import", Evidence: evidenceLine(rawLines, line)})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkPythonReferences(node.Child(i), source, name, rawLines, out)
	}
}

// classifyPythonIdentifier inspects an identifier's immediate parent to
// decide whether it's a call target, an import, or a plain reference.
// Identifiers that are themselves the attribute of an "attribute" node
// are handled by the caller and never reach here as bare identifiers.
func classifyPythonIdentifier(node *sitter.Node, source []byte) string {
	parent := node.Parent()
	if parent == nil {
		return "reference"
	}
	switch parent.Type() {
	case "call":
		if fn := parent.ChildByFieldName("function"); fn == node {
			return "call"
		}
	case "import_statement", "import_from_statement", "dotted_name":
		if isWithinImport(parent) {
			return "import"
		}
	}
	if isWithinImport(parent) {
		return "import"
	}
	return "reference"
}

func isWithinImport(node *sitter.Node) bool {
	for n := node; n != nil; n = n.Parent() {
		if n.Type() == "import_statement" || n.Type() == "import_from_statement" {
			return true
		}
	}
	return false
}

func parentIsCall(attrNode *sitter.Node) bool {
	parent := attrNode.Parent()
	if parent == nil || parent.Type() != "call" {
		return false
	}
	return parent.ChildByFieldName("function") == attrNode
}

func evidenceLine(rawLines []string, line int) string {
	if line-1 < 0 || line-1 >= len(rawLines) {
		return ""
	}
	return strings.TrimSpace(rawLines[line-1])
}

// walkPython recursively visits declaration-bearing nodes. parent is the
// enclosing symbol's name, scope is the enclosing scope kind, and
// conditional/context describe whether this subtree sits under a
// conditional guard (if/try/match/...).
func walkPython(node *sitter.Node, source []byte, parent string, scope ScopeKind, conditional bool, context string, out *List) {
	if node == nil {
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}

		switch child.Type() {
		case "function_definition":
			sym := pythonFunctionSymbol(child, source, parent, scope, conditional, context)
			*out = append(*out, sym)
			walkPython(functionBody(child), source, sym.Name, ScopeFunction, conditional, context, out)

		case "class_definition":
			sym := pythonClassSymbol(child, source, parent, scope, conditional, context)
			*out = append(*out, sym)
			walkPython(classBody(child), source, sym.Name, ScopeClass, conditional, context, out)

		case "decorated_definition":
			walkPython(child, source, parent, scope, conditional, context, out)

		case "if_statement":
			label := "if " + firstLine(text(child.ChildByFieldName("condition"), source))
			walkPython(child.ChildByFieldName("consequence"), source, parent, scope, true, label, out)
			for i := 0; i < int(child.ChildCount()); i++ {
				c := child.Child(i)
				if c != nil && (c.Type() == "elif_clause" || c.Type() == "else_clause") {
					walkPython(c, source, parent, scope, true, label, out)
				}
			}

		case "elif_clause", "else_clause":
			walkPython(child, source, parent, scope, true, context, out)

		case "try_statement":
			walkPython(child, source, parent, scope, true, "try", out)
		case "except_clause", "finally_clause":
			walkPython(child, source, parent, scope, true, "try", out)

		case "match_statement":
			walkPython(child, source, parent, scope, true, "match", out)
		case "case_clause":
			walkPython(child, source, parent, scope, true, context, out)

		case "with_statement":
			walkPython(child, source, parent, scope, conditional, context, out)

		case "block":
			walkPython(child, source, parent, scope, conditional, context, out)

		case "expression_statement":
			if sym, ok := pythonAssignmentSymbol(child, source, parent, scope, conditional, context); ok {
				*out = append(*out, sym)
			}

		case "type_alias_statement":
			if sym, ok := pythonTypeAliasSymbol(child, source, parent, scope, conditional, context); ok {
				*out = append(*out, sym)
			}

		default:
			// Descend into any other compound statement (for/while/with
			// bodies) so nested declarations are still found.
			if child.ChildCount() > 0 {
				walkPython(child, source, parent, scope, conditional, context, out)
			}
		}
	}
}

func functionBody(fn *sitter.Node) *sitter.Node { return fn.ChildByFieldName("body") }
func classBody(cls *sitter.Node) *sitter.Node   { return cls.ChildByFieldName("body") }

func pythonFunctionSymbol(node *sitter.Node, source []byte, parent string, scope ScopeKind, conditional bool, context string) Symbol {
	nameNode := node.ChildByFieldName("name")
	name := text(nameNode, source)

	kind := KindFunction
	if scope == ScopeClass {
		kind = KindMethod
	}

	sig := pythonFunctionSignature(node, source)

	sym := Symbol{
		Kind:          kind,
		Name:          name,
		Signature:     sig,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		ParentSymbol:  parent,
		ScopeKind:     scope,
		IsConditional: conditional,
		DeclContext:   context,
		Doc:           leadingDocstring(functionBody(node), source),
	}
	return sym
}

// pythonFunctionSignature renders "def name(params):" (or "async def ..."),
// keeping parameter names and default markers without evaluating the
// default expressions themselves.
func pythonFunctionSignature(node *sitter.Node, source []byte) string {
	var b strings.Builder
	isAsync := false
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c != nil && c.Type() == "async" {
			isAsync = true
		}
	}
	if isAsync {
		b.WriteString("async ")
	}
	b.WriteString("def ")
	b.WriteString(text(node.ChildByFieldName("name"), source))
	b.WriteString(renderParams(node.ChildByFieldName("parameters"), source))
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		b.WriteString(" -> ")
		b.WriteString(text(ret, source))
	}
	b.WriteString(":")
	return b.String()
}

// renderParams renders a parameters node as "(a, b=..., *args, **kwargs)",
// substituting a fixed marker for default values instead of evaluating
// them.
func renderParams(params *sitter.Node, source []byte) string {
	if params == nil {
		return "()"
	}
	var parts []string
	for i := 0; i < int(params.ChildCount()); i++ {
		p := params.Child(i)
		if p == nil {
			continue
		}
		switch p.Type() {
		case "(", ")", ",":
			continue
		case "default_parameter", "typed_default_parameter":
			nameNode := p.ChildByFieldName("name")
			parts = append(parts, text(nameNode, source)+"=...")
		case "identifier", "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern", "typed_parameter_with_default":
			parts = append(parts, text(p, source))
		default:
			parts = append(parts, text(p, source))
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func pythonClassSymbol(node *sitter.Node, source []byte, parent string, scope ScopeKind, conditional bool, context string) Symbol {
	name := text(node.ChildByFieldName("name"), source)

	sig := "class " + name
	if args := node.ChildByFieldName("superclasses"); args != nil {
		sig += text(args, source)
	}
	sig += ":"

	return Symbol{
		Kind:          KindClass,
		Name:          name,
		Signature:     sig,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		ParentSymbol:  parent,
		ScopeKind:     scope,
		IsConditional: conditional,
		DeclContext:   context,
		Doc:           leadingDocstring(classBody(node), source),
	}
}

// pythonAssignmentSymbol recognizes "NAME = ..." or "NAME: TYPE = ..."
// module-level constant assignments (upper-case identifier by
// convention), skipping ordinary variable assignments.
func pythonAssignmentSymbol(stmt *sitter.Node, source []byte, parent string, scope ScopeKind, conditional bool, context string) (Symbol, bool) {
	if scope != ScopeModule {
		return Symbol{}, false
	}
	if stmt.ChildCount() == 0 {
		return Symbol{}, false
	}
	assign := stmt.Child(0)
	if assign == nil || assign.Type() != "assignment" {
		return Symbol{}, false
	}

	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return Symbol{}, false
	}
	name := text(left, source)
	if name != strings.ToUpper(name) {
		return Symbol{}, false
	}

	return Symbol{
		Kind:          KindConst,
		Name:          name,
		Signature:     strings.TrimSpace(firstLine(text(assign, source))),
		StartLine:     int(stmt.StartPoint().Row) + 1,
		EndLine:       int(stmt.EndPoint().Row) + 1,
		ParentSymbol:  parent,
		ScopeKind:     scope,
		IsConditional: conditional,
		DeclContext:   context,
	}, true
}

func pythonTypeAliasSymbol(stmt *sitter.Node, source []byte, parent string, scope ScopeKind, conditional bool, context string) (Symbol, bool) {
	nameNode := stmt.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	return Symbol{
		Kind:          KindType,
		Name:          text(nameNode, source),
		Signature:     strings.TrimSpace(firstLine(text(stmt, source))),
		StartLine:     int(stmt.StartPoint().Row) + 1,
		EndLine:       int(stmt.EndPoint().Row) + 1,
		ParentSymbol:  parent,
		ScopeKind:     scope,
		IsConditional: conditional,
		DeclContext:   context,
	}, true
}

// leadingDocstring returns the first line of a leading string-literal
// statement at the top of body, if any.
func leadingDocstring(body *sitter.Node, source []byte) string {
	if body == nil {
		return ""
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		c := body.Child(i)
		if c == nil {
			continue
		}
		if c.Type() != "expression_statement" {
			continue
		}
		if c.ChildCount() == 0 {
			return ""
		}
		str := c.Child(0)
		if str == nil || str.Type() != "string" {
			return ""
		}
		return firstLine(stripPythonStringQuotes(text(str, source)))
	}
	return ""
}

func stripPythonStringQuotes(s string) string {
	s = strings.TrimPrefix(s, "r")
	s = strings.TrimPrefix(s, "f")
	s = strings.TrimPrefix(s, "b")
	for _, q := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

func text(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
