// Package scipexport writes the computed outline graph to a SCIP index
// document, so a reviewer can diff reposcope's symbol table against any
// other SCIP-consuming tool. It is additive interop, not a retrieval path:
// nothing in internal/mcprpc depends on it.
package scipexport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"reposcope/internal/index"
	"reposcope/internal/sandbox"
	"reposcope/internal/symbols"
	"reposcope/internal/version"
)

// Stats summarizes one export run.
type Stats struct {
	Documents int
	Symbols   int
	OutPath   string
}

// Export walks every indexed file, outlines it through the adapter
// registry, and writes the resulting documents/symbols as a SCIP index
// at outPath (conventionally <data_dir>/index/index.scip).
func Export(sb *sandbox.Sandbox, store *index.Store, registry *symbols.Registry, outPath string) (Stats, error) {
	paths := make([]string, 0, len(store.Files))
	for p := range store.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	idx := &scippb.Index{
		Metadata: &scippb.Metadata{
			ToolInfo: &scippb.ToolInfo{
				Name:      "reposcope",
				Version:   version.Version,
				Arguments: nil,
			},
			ProjectRoot: "file://" + sb.RepoRoot(),
		},
	}

	stats := Stats{OutPath: outPath}
	for _, relPath := range paths {
		resolved, resolveErr := sb.Resolve(relPath)
		if resolveErr != nil {
			continue
		}
		data, err := os.ReadFile(resolved.Absolute)
		if err != nil {
			continue
		}

		outline := registry.Outline(relPath, string(data))
		if len(outline) == 0 {
			continue
		}

		doc := &scippb.Document{
			RelativePath: relPath,
			Language:     index.LanguageHint(relPath),
		}
		for _, sym := range outline {
			symID := symbolID(relPath, sym)
			doc.Symbols = append(doc.Symbols, &scippb.SymbolInformation{
				Symbol:        symID,
				DisplayName:   sym.Name,
				Documentation: docLines(sym),
			})
			doc.Occurrences = append(doc.Occurrences, &scippb.Occurrence{
				Range:  occurrenceRange(sym),
				Symbol: symID,
				// bit 0 of SCIP's SymbolRole bitset marks a definition occurrence.
				SymbolRoles: 1,
			})
			stats.Symbols++
		}
		idx.Documents = append(idx.Documents, doc)
		stats.Documents++
	}

	encoded, err := proto.Marshal(idx)
	if err != nil {
		return stats, fmt.Errorf("marshaling SCIP index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return stats, fmt.Errorf("creating SCIP index directory: %w", err)
	}
	if err := os.WriteFile(outPath, encoded, 0644); err != nil {
		return stats, fmt.Errorf("writing SCIP index: %w", err)
	}
	return stats, nil
}

// symbolID renders a deterministic SCIP symbol string for a declaration:
// "reposcope . . `<path>`/<parent.>name()."; the symbol kind is not encoded.
func symbolID(relPath string, sym symbols.Symbol) string {
	scope := ""
	if sym.ParentSymbol != "" {
		scope = sym.ParentSymbol + "."
	}
	return fmt.Sprintf("reposcope . . `%s`/%s%s().", relPath, scope, sym.Name)
}

func docLines(sym symbols.Symbol) []string {
	if sym.Doc == "" {
		return nil
	}
	return []string{sym.Doc}
}

// occurrenceRange converts a 1-based, inclusive [start_line, end_line]
// declaration span into SCIP's zero-based [start_line, start_char,
// end_line, end_char] occurrence range.
func occurrenceRange(sym symbols.Symbol) []int32 {
	start := int32(sym.StartLine - 1)
	end := int32(sym.EndLine - 1)
	if end < start {
		end = start
	}
	return []int32{start, 0, end, 0}
}
