// Package chunk cuts file text into fixed, overlapping line windows —
// reposcope's unit of retrieval — with stable, deterministically derived
// identifiers.
package chunk

import (
	"strings"

	"reposcope/internal/hashutil"
)

// Chunk is one line window of a file.
type Chunk struct {
	ChunkID   string
	Path      string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Text      string
}

// Params are the chunking parameters that feed into chunk_id derivation.
type Params struct {
	WindowLines  int
	OverlapLines int
	Version      int
}

// Split splits text into fixed overlapping line windows. Lines are counted
// after newline normalization (\r\n and \r collapse to \n); a trailing
// partial window becomes a final, shorter chunk. An empty file produces a
// single empty chunk covering line 1..1 so that every file has at least one
// indexable unit.
func Split(path, text string, p Params) []Chunk {
	normalized := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		lines = []string{""}
	}

	step := p.WindowLines - p.OverlapLines
	if step <= 0 {
		step = p.WindowLines
	}

	var chunks []Chunk
	n := len(lines)
	for start := 0; start < n; start += step {
		end := start + p.WindowLines
		if end > n {
			end = n
		}
		startLine := start + 1
		endLine := end
		id := hashutil.ChunkID(path, startLine, endLine, p.WindowLines, p.OverlapLines, p.Version)
		chunks = append(chunks, Chunk{
			ChunkID:   id,
			Path:      path,
			StartLine: startLine,
			EndLine:   endLine,
			Text:      strings.Join(lines[start:end], "\n"),
		})
		if end >= n {
			break
		}
	}
	return chunks
}
