// Package bm25 implements Okapi BM25 ranking over the chunk corpus
// maintained by internal/index, with a fixed total order over hits so that
// repeated identical queries always return bit-identical results.
package bm25

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reposcope/internal/index"
	"reposcope/internal/sandbox"
)

// k1 and b are fixed per the scoring contract; changing them would change
// every previously stored ranking, so they are not configurable.
const (
	k1 = 1.5
	b  = 0.75
)

// Hit is one scored chunk.
type Hit struct {
	ChunkID      string
	Path         string
	StartLine    int
	EndLine      int
	Score        float64
	MatchedTerms []string
	Snippet      string
}

// Options bounds and filters a search.
type Options struct {
	TopK          int
	FileGlob      string
	PathPrefix    string
	MaxSearchHits int
}

// Engine scores chunks against a query using the statistics the index
// store maintains.
type Engine struct {
	store *index.Store
	sb    *sandbox.Sandbox
}

// New builds an Engine over store, resolving chunk text against sb when
// snippets are requested.
func New(store *index.Store, sb *sandbox.Sandbox) *Engine {
	return &Engine{store: store, sb: sb}
}

// Search scores every chunk touched by any query term and returns hits in
// the fixed total order: score desc, path asc, start_line asc, chunk_id asc.
func (e *Engine) Search(query string, opts Options) ([]Hit, error) {
	terms := uniqueTerms(index.Tokenize(query))
	if len(terms) == 0 {
		return nil, nil
	}

	global, err := e.store.Stats.Global()
	if err != nil {
		return nil, err
	}

	type accum struct {
		score   float64
		matched map[string]bool
	}
	scores := make(map[string]*accum)

	for _, term := range terms {
		df, err := e.store.Stats.DocFreq(term)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		idf := idf(global.TotalDocs, df)

		matches, err := e.store.Stats.ChunksForTerm(term)
		if err != nil {
			return nil, err
		}
		for chunkID, tf := range matches {
			length, err := e.store.Stats.ChunkLength(chunkID)
			if err != nil {
				return nil, err
			}
			s := termScore(idf, tf, length, global.AvgLength)

			a, ok := scores[chunkID]
			if !ok {
				a = &accum{matched: make(map[string]bool)}
				scores[chunkID] = a
			}
			a.score += s
			a.matched[term] = true
		}
	}

	var hits []Hit
	for chunkID, a := range scores {
		rec, ok := e.store.Chunks[chunkID]
		if !ok {
			continue
		}
		if opts.FileGlob != "" {
			if ok, _ := filepath.Match(opts.FileGlob, rec.Path); !ok {
				continue
			}
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(rec.Path, opts.PathPrefix) {
			continue
		}

		matched := make([]string, 0, len(a.matched))
		for t := range a.matched {
			matched = append(matched, t)
		}
		sort.Strings(matched)

		hits = append(hits, Hit{
			ChunkID:      chunkID,
			Path:         rec.Path,
			StartLine:    rec.StartLine,
			EndLine:      rec.EndLine,
			Score:        a.score,
			MatchedTerms: matched,
		})
	}

	sortHits(hits)

	maxHits := opts.MaxSearchHits
	if maxHits <= 0 {
		maxHits = 200
	}
	topK := opts.TopK
	if topK <= 0 || topK > maxHits {
		topK = maxHits
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}

	for i := range hits {
		hits[i].Snippet = e.snippet(hits[i])
	}

	return hits, nil
}

// idf is the classical Okapi BM25 inverse document frequency term, floored
// at zero so it never goes negative for very common terms.
func idf(totalDocs, df int64) float64 {
	if totalDocs == 0 {
		return 0
	}
	v := math.Log(1 + (float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
	if v < 0 {
		v = 0
	}
	return v
}

func termScore(idf float64, tf, length int, avgLength float64) float64 {
	if avgLength == 0 {
		avgLength = 1
	}
	numerator := float64(tf) * (k1 + 1)
	denominator := float64(tf) + k1*(1-b+b*(float64(length)/avgLength))
	if denominator == 0 {
		return 0
	}
	return idf * (numerator / denominator)
}

// sortHits applies the fixed total order: score desc, path asc, start_line
// asc, chunk_id asc.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, bb := hits[i], hits[j]
		if a.Score != bb.Score {
			return a.Score > bb.Score
		}
		if a.Path != bb.Path {
			return a.Path < bb.Path
		}
		if a.StartLine != bb.StartLine {
			return a.StartLine < bb.StartLine
		}
		return a.ChunkID < bb.ChunkID
	})
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// snippet recovers the chunk's text from the live file (chunk text is not
// persisted) and takes the first <=3 lines containing a matched term, or
// the chunk's first 3 lines if none match literally within the snippet
// window.
func (e *Engine) snippet(h Hit) string {
	abs := filepath.Join(e.sb.RepoRoot(), filepath.FromSlash(h.Path))
	data, err := os.ReadFile(abs)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")

	start := h.StartLine - 1
	end := h.EndLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	chunkLines := lines[start:end]

	matchSet := make(map[string]bool, len(h.MatchedTerms))
	for _, t := range h.MatchedTerms {
		matchSet[t] = true
	}

	var picked []string
	for _, line := range chunkLines {
		if len(picked) == 3 {
			break
		}
		for _, tok := range index.Tokenize(line) {
			if matchSet[tok] {
				picked = append(picked, line)
				break
			}
		}
	}
	if len(picked) == 0 {
		limit := 3
		if limit > len(chunkLines) {
			limit = len(chunkLines)
		}
		picked = chunkLines[:limit]
	}

	return strings.Join(picked, "\n")
}
