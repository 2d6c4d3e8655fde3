// Package references finds occurrences of a symbol across the
// repository: AST-backed resolution where an adapter supports it,
// whole-word lexical matching everywhere else.
package references

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reposcope/internal/config"
	"reposcope/internal/discovery"
	"reposcope/internal/sandbox"
	"reposcope/internal/symbols"
)

// Reference is one resolved occurrence of a symbol.
type Reference struct {
	Symbol     string `json:"symbol"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Kind       string `json:"kind"` // call, attribute, import, reference
	Evidence   string `json:"evidence"`
	Strategy   string `json:"strategy"`   // ast, lexical
	Confidence string `json:"confidence"` // high, medium, low
}

// Options bounds and scopes a reference search.
type Options struct {
	Symbol        string
	Path          string // optional: restrict to a single file
	TopK          int
	MaxReferences int
}

// Result is the full, possibly truncated, output of Find.
type Result struct {
	References      []Reference
	Truncated       bool
	TotalCandidates int
}

// Engine finds references to a symbol across the files Discovery would
// index, using the adapter registry's native strategy per file.
type Engine struct {
	sb       *sandbox.Sandbox
	discover config.DiscoveryConfig
	registry *symbols.Registry
}

// New builds a reference Engine.
func New(sb *sandbox.Sandbox, discoveryCfg config.DiscoveryConfig) *Engine {
	return &Engine{sb: sb, discover: discoveryCfg, registry: symbols.NewRegistry()}
}

// Find resolves opts.Symbol across the candidate file set: opts.Path if
// given, otherwise every file Discovery would index.
func (e *Engine) Find(opts Options) (Result, error) {
	var paths []string
	if opts.Path != "" {
		paths = []string{opts.Path}
	} else {
		files, err := discovery.Discover(e.sb, e.discover)
		if err != nil {
			return Result{}, err
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}

	trailing := opts.Symbol
	if i := strings.LastIndexByte(trailing, '.'); i >= 0 {
		trailing = trailing[i+1:]
	}

	// First pass: count how many distinct files declare a symbol with
	// this trailing name, to classify ast-strategy confidence.
	declaringFiles := 0
	for _, p := range paths {
		text, ok := e.readFile(p)
		if !ok {
			continue
		}
		for _, s := range e.registry.Outline(p, text) {
			if s.Name == trailing {
				declaringFiles++
				break
			}
		}
	}

	var all []Reference
	for _, p := range paths {
		text, ok := e.readFile(p)
		if !ok {
			continue
		}
		adapter := e.registry.For(p)

		var matches []symbols.RefMatch
		strategy := "lexical"
		if ra, ok := adapter.(symbols.ReferenceAdapter); ok {
			matches = ra.References(p, text, opts.Symbol)
			strategy = ra.Strategy()
		} else {
			matches = symbols.NewLexicalAdapter().References(p, text, opts.Symbol)
		}

		for _, m := range matches {
			confidence := "low"
			if strategy == "ast" {
				if declaringFiles <= 1 {
					confidence = "high"
				} else {
					confidence = "medium"
				}
			}
			all = append(all, Reference{
				Symbol:     opts.Symbol,
				Path:       p,
				Line:       m.Line,
				Kind:       m.Kind,
				Evidence:   m.Evidence,
				Strategy:   strategy,
				Confidence: confidence,
			})
		}
	}

	sortReferences(all)

	total := len(all)
	maxRefs := opts.MaxReferences
	if maxRefs <= 0 {
		maxRefs = 500
	}
	topK := opts.TopK
	if topK <= 0 || topK > maxRefs {
		topK = maxRefs
	}

	truncated := false
	if len(all) > topK {
		all = all[:topK]
		truncated = true
	}

	return Result{References: all, Truncated: truncated, TotalCandidates: total}, nil
}

// sortReferences applies the fixed total order: path asc, line asc, kind
// asc, strategy asc.
func sortReferences(refs []Reference) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Strategy < b.Strategy
	})
}

func (e *Engine) readFile(relPath string) (string, bool) {
	abs := filepath.Join(e.sb.RepoRoot(), filepath.FromSlash(relPath))
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	return string(data), true
}
