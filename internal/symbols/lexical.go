package symbols

import (
	"strings"
)

// LexicalAdapter extracts declarations from TS/JS, Java, Go, Rust, C++,
// and C# source with a single shared scanner: it skips string and
// comment spans, recognizes declarators by keyword, and closes their
// scopes by counting braces. It never errors; malformed or macro-heavy
// input just yields fewer symbols.
type LexicalAdapter struct{}

// NewLexicalAdapter builds the shared lexical adapter.
func NewLexicalAdapter() *LexicalAdapter { return &LexicalAdapter{} }

var lexicalExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".java": true,
	".go":   true,
	".rs":   true,
	".cpp": true, ".cc": true, ".cxx": true, ".h": true, ".hpp": true,
	".cs": true,
}

func (a *LexicalAdapter) SupportsPath(path string) bool {
	return lexicalExtensions[ext(path)]
}

// Strategy identifies this adapter's reference-extraction strategy.
func (a *LexicalAdapter) Strategy() string { return "lexical" }

// References finds whole-word occurrences of symbol outside strings and
// comments, classifying each by the characters immediately around it:
// a following "(" is a call, a preceding "." is an attribute access, a
// line starting with an import/include/using keyword is an import, and
// everything else is a plain reference.
func (a *LexicalAdapter) References(path, text, symbol string) []RefMatch {
	if symbol == "" {
		return nil
	}
	name := symbol
	if i := strings.LastIndexByte(symbol, '.'); i >= 0 {
		name = symbol[i+1:]
	}

	clean := blankStringsAndComments(text)
	rawLines := strings.Split(text, "\n")
	cleanLines := strings.Split(clean, "\n")

	var out []RefMatch
	for i, line := range cleanLines {
		start := 0
		for {
			idx := indexWholeWord(line, name, start)
			if idx < 0 {
				break
			}
			kind := classifyLexicalKind(rawLines[i], line, idx, name)
			out = append(out, RefMatch{
				Line:     i + 1,
				Kind:     kind,
				Evidence: strings.TrimSpace(rawLines[i]),
			})
			start = idx + len(name)
		}
	}
	return out
}

func indexWholeWord(line, word string, from int) int {
	for {
		idx := strings.Index(line[from:], word)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		before := byte(' ')
		if pos > 0 {
			before = line[pos-1]
		}
		after := byte(' ')
		if pos+len(word) < len(line) {
			after = line[pos+len(word)]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return pos
		}
		from = pos + 1
		if from >= len(line) {
			return -1
		}
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func classifyLexicalKind(rawLine, cleanLine string, idx int, name string) string {
	trimmed := strings.TrimSpace(cleanLine)
	for _, kw := range []string{"import", "#include", "using", "require"} {
		if strings.HasPrefix(trimmed, kw) {
			return "import"
		}
	}
	if idx > 0 && cleanLine[idx-1] == '.' {
		return "attribute"
	}
	after := idx + len(name)
	for after < len(cleanLine) && cleanLine[after] == ' ' {
		after++
	}
	if after < len(cleanLine) && cleanLine[after] == '(' {
		return "call"
	}
	return "reference"
}

// declarator is one recognized keyword token that introduces a
// declaration, with the symbol Kind it produces.
type declarator struct {
	keyword string
	kind    Kind
}

var declarators = []declarator{
	{"class", KindClass},
	{"interface", KindInterface},
	{"enum", KindEnum},
	{"struct", KindStruct},
	{"trait", KindTrait},
	{"impl", KindImpl},
	{"namespace", KindNamespace},
	{"function", KindFunction},
	{"func", KindFunction},
	{"fn", KindFunction},
	{"record", KindRecord},
}

// Outline scans text line by line (after blanking out string and comment
// spans) and emits one symbol per recognized declarator line, nesting
// scope by brace depth.
func (a *LexicalAdapter) Outline(path, text string) List {
	clean := blankStringsAndComments(text)
	lines := strings.Split(clean, "\n")
	rawLines := strings.Split(text, "\n")

	var out List
	type frame struct {
		name string
		kind Kind
		sk   ScopeKind
	}
	stack := []frame{{sk: ScopeModule}}
	var pendingEndLine []int
	depth := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if sym, ok := matchDeclarator(trimmed, rawLines[i]); ok {
			sym.StartLine = i + 1
			sym.EndLine = i + 1 // refined below once the block closes
			parent := stack[len(stack)-1]
			sym.ParentSymbol = parent.name
			sym.ScopeKind = parent.sk
			if parent.sk == ScopeClass && sym.Kind == KindFunction {
				sym.Kind = KindMethod
			}
			out = append(out, sym)
			stack = append(stack, frame{name: sym.Name, kind: sym.Kind, sk: scopeFor(sym.Kind)})
			pendingEndLine = append(pendingEndLine, len(out)-1)
		}

		opens := strings.Count(line, "{")
		closes := strings.Count(line, "}")
		for j := 0; j < opens; j++ {
			depth++
		}
		for j := 0; j < closes; j++ {
			depth--
			if len(stack) > 1 {
				idx := len(pendingEndLine) - 1
				if idx >= 0 {
					out[pendingEndLine[idx]].EndLine = i + 1
					pendingEndLine = pendingEndLine[:idx]
				}
				stack = stack[:len(stack)-1]
			}
		}
	}

	// Any declarations whose block never closed (brace-less forward
	// declarations, or scan artifacts) keep their single-line span.
	return out
}

func scopeFor(k Kind) ScopeKind {
	switch k {
	case KindClass, KindStruct, KindInterface, KindTrait, KindImpl, KindEnum, KindRecord:
		return ScopeClass
	case KindFunction, KindMethod:
		return ScopeFunction
	default:
		return ScopeModule
	}
}

// matchDeclarator tries each known declarator keyword against a
// whitespace-blanked line and, on a match, extracts the name and a
// balanced-paren/brace-truncated signature from the corresponding raw
// line.
func matchDeclarator(cleanLine, rawLine string) (Symbol, bool) {
	fields := strings.Fields(cleanLine)
	for idx, f := range fields {
		f = strings.TrimRight(f, "(")
		for _, d := range declarators {
			if f != d.keyword {
				continue
			}
			name := declaratorName(fields, idx, cleanLine)
			if name == "" {
				continue
			}
			return Symbol{
				Kind:      d.kind,
				Name:      name,
				Signature: truncateSignature(strings.TrimSpace(rawLine)),
			}, true
		}
	}
	// Go methods: func (r *Receiver) Name(...)
	if name, ok := goMethodName(fields); ok {
		return Symbol{
			Kind:      KindMethod,
			Name:      name,
			Signature: truncateSignature(strings.TrimSpace(rawLine)),
		}, true
	}
	// Go type declarations: type Name struct|interface { ... }
	if name, kind, ok := goTypeName(fields); ok {
		return Symbol{
			Kind:      kind,
			Name:      name,
			Signature: truncateSignature(strings.TrimSpace(rawLine)),
		}, true
	}
	return Symbol{}, false
}

// goTypeName recognizes Go's "type Name struct {" and "type Name
// interface {" declarators, where the name precedes the kind keyword
// rather than following it as in the other supported languages.
func goTypeName(fields []string) (string, Kind, bool) {
	if len(fields) < 3 || fields[0] != "type" {
		return "", "", false
	}
	name := firstIdent(fields[1])
	if name == "" {
		return "", "", false
	}
	switch fields[2] {
	case "struct":
		return name, KindStruct, true
	case "interface":
		return name, KindInterface, true
	default:
		return name, KindType, true
	}
}

func declaratorName(fields []string, declIdx int, cleanLine string) string {
	if declIdx+1 >= len(fields) {
		return ""
	}
	next := fields[declIdx+1]
	// impl ... for Type {  -> name is the trait/type right after "for", or
	// the type right after "impl" if there is no "for".
	if fields[declIdx] == "impl" {
		for i := declIdx + 1; i < len(fields); i++ {
			if fields[i] == "for" && i+1 < len(fields) {
				return firstIdent(fields[i+1])
			}
		}
		return firstIdent(next)
	}
	return firstIdent(next)
}

func firstIdent(s string) string {
	s = strings.TrimRight(s, "{(<:,")
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			break
		}
	}
	return b.String()
}

// goMethodName recognizes "func (r *Receiver) Name(" declarator lines,
// which the keyword-based matcher above does not handle because the
// method name isn't the token right after "func".
func goMethodName(fields []string) (string, bool) {
	if len(fields) < 3 || fields[0] != "func" {
		return "", false
	}
	if !strings.HasPrefix(fields[1], "(") {
		return "", false
	}
	// fields[1..k] form the receiver "(r *Receiver)"; find the closing
	// paren token.
	for i := 1; i < len(fields); i++ {
		if strings.Contains(fields[i], ")") {
			if i+1 < len(fields) {
				name := firstIdent(fields[i+1])
				if name != "" {
					return name, true
				}
			}
			return "", false
		}
	}
	return "", false
}

// truncateSignature keeps the declarator line up to its balanced paren
// close (if it opens one) or brace open, trimming a trailing open brace.
func truncateSignature(line string) string {
	depth := 0
	for i, r := range line {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '{':
			if depth <= 0 {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(line, "{"))
}

// blankStringsAndComments replaces the contents of string literals,
// line comments, and block comments with spaces, preserving line
// structure and byte offsets so later line-based scanning stays aligned.
func blankStringsAndComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	runes := []rune(src)
	n := len(runes)
	i := 0
	for i < n {
		r := runes[i]

		switch {
		case r == '/' && i+1 < n && runes[i+1] == '/':
			for i < n && runes[i] != '\n' {
				b.WriteByte(' ')
				i++
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			b.WriteString("  ")
			i += 2
			for i < n && !(runes[i] == '*' && i+1 < n && runes[i+1] == '/') {
				if runes[i] == '\n' {
					b.WriteRune('\n')
				} else {
					b.WriteByte(' ')
				}
				i++
			}
			if i < n {
				b.WriteString("  ")
				i += 2
			}
		case r == '"' || r == '\'' || r == '`':
			quote := r
			b.WriteByte(' ')
			i++
			for i < n && runes[i] != quote {
				if runes[i] == '\\' && i+1 < n {
					b.WriteByte(' ')
					i++
				}
				if runes[i] == '\n' {
					b.WriteRune('\n')
				} else {
					b.WriteByte(' ')
				}
				i++
			}
			if i < n {
				b.WriteByte(' ')
				i++
			}
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String()
}
