// Package bundler assembles budget-bounded "context bundles": a ranked,
// deduplicated set of file ranges selected to answer a prompt, with a
// deterministic explanation for every selection and skip.
package bundler

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reposcope/internal/bm25"
	"reposcope/internal/config"
	"reposcope/internal/discovery"
	"reposcope/internal/hashutil"
	"reposcope/internal/index"
	"reposcope/internal/sandbox"
	"reposcope/internal/symbols"
)

// SkipReason is the dominant reason a candidate was not selected.
type SkipReason string

const (
	SkipBudgetExhausted  SkipReason = "budget_exhausted"
	SkipDuplicate        SkipReason = "duplicate_of_selected"
	SkipBelowRankThresh  SkipReason = "below_rank_threshold"
	SkipRangeTooLarge    SkipReason = "range_too_large"
	SkipBlockedBySandbox SkipReason = "blocked_by_sandbox"
)

// Budget bounds one bundle request.
type Budget struct {
	MaxFiles      int
	MaxTotalLines int
}

// Options is the input to Build.
type Options struct {
	Prompt       string
	Budget       Budget
	Strategy     string // only "hybrid" is implemented
	IncludeTests bool
}

// Selection is one range included in the bundle.
type Selection struct {
	Path        string      `json:"path"`
	StartLine   int         `json:"start_line"`
	EndLine     int         `json:"end_line"`
	Text        string      `json:"text"`
	WhySelected WhySelected `json:"why_selected"`
}

// SkippedCandidate is one candidate that did not make the cut.
type SkippedCandidate struct {
	Path      string     `json:"path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Reason    SkipReason `json:"reason"`
}

// Totals summarizes a bundle's size.
type Totals struct {
	Files int   `json:"files"`
	Lines int   `json:"lines"`
	Bytes int64 `json:"bytes"`
}

// Bundle is the full output of Build.
type Bundle struct {
	BundleID               string             `json:"bundle_id"`
	PromptFingerprint      string             `json:"prompt_fingerprint"`
	Selections             []Selection        `json:"selections"`
	WhyNotSelectedSummary  []SkippedCandidate `json:"why_not_selected_summary"`
	Totals                 Totals             `json:"totals"`
}

// Builder assembles bundles against one repo's index and sandbox.
type Builder struct {
	sb       *sandbox.Sandbox
	store    *index.Store
	search   *bm25.Engine
	registry *symbols.Registry
	cfg      *config.Config
}

// New builds a Builder.
func New(sb *sandbox.Sandbox, store *index.Store, cfg *config.Config) *Builder {
	return &Builder{
		sb:       sb,
		store:    store,
		search:   bm25.New(store, sb),
		registry: symbols.NewRegistry(),
		cfg:      cfg,
	}
}

// Build runs the full seven-step bundling algorithm.
func (b *Builder) Build(opts Options) (Bundle, error) {
	maxFiles := opts.Budget.MaxFiles
	if maxFiles <= 0 {
		maxFiles = b.cfg.Bundler.DefaultMaxFiles
	}
	maxLines := opts.Budget.MaxTotalLines
	if maxLines <= 0 {
		maxLines = b.cfg.Bundler.DefaultMaxTotalLines
	}

	keywords := ExtractKeywords(opts.Prompt, b.cfg.Bundler.StopWords, b.cfg.Bundler.MinKeywordLength, b.cfg.Bundler.KeywordCap)

	hits, err := b.retrieve(opts.Prompt, keywords)
	if err != nil {
		return Bundle{}, err
	}

	if !opts.IncludeTests {
		hits = filterTests(hits, b.cfg.Discovery.TestGlobs)
	}

	candidates, skipped := b.alignAndScore(hits, keywords)

	RankCandidates(candidates)

	selections, moreSkipped := b.selectWithinBudget(candidates, maxFiles, maxLines)
	skipped = append(skipped, moreSkipped...)

	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].Path != skipped[j].Path {
			return skipped[i].Path < skipped[j].Path
		}
		return skipped[i].StartLine < skipped[j].StartLine
	})
	limit := b.cfg.Bundler.TopSkippedLimit
	if limit <= 0 {
		limit = 10
	}
	if len(skipped) > limit {
		skipped = skipped[:limit]
	}

	totals := Totals{}
	var selectionKeys []string
	for _, s := range selections {
		totals.Files++
		totals.Lines += s.EndLine - s.StartLine + 1
		totals.Bytes += int64(len(s.Text))
		selectionKeys = append(selectionKeys, s.Path+":"+itoa(s.StartLine)+"-"+itoa(s.EndLine))
	}

	promptFingerprint := hashutil.PromptFingerprint(opts.Prompt, itoa(maxFiles), itoa(maxLines), opts.Strategy)
	bundleID := hashutil.BundleID(promptFingerprint, opts.Strategy, selectionKeys)

	return Bundle{
		BundleID:              bundleID,
		PromptFingerprint:     promptFingerprint,
		Selections:            selections,
		WhyNotSelectedSummary: skipped,
		Totals:                totals,
	}, nil
}

type hit struct {
	path              string
	startLine         int
	endLine           int
	maxScore          float64
	matchedTermsCount int
}

// retrieve issues one BM25 query for the full prompt and one per
// extracted keyword, and unions the hits, keeping the max score and the
// largest matched-term count seen for each chunk.
func (b *Builder) retrieve(prompt string, keywords []string) ([]hit, error) {
	queries := append([]string{prompt}, keywords...)

	byChunk := make(map[string]*hit)
	for _, q := range queries {
		results, err := b.search.Search(q, bm25.Options{TopK: b.cfg.Limits.MaxSearchHits, MaxSearchHits: b.cfg.Limits.MaxSearchHits})
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			key := r.ChunkID
			h, ok := byChunk[key]
			if !ok {
				h = &hit{path: r.Path, startLine: r.StartLine, endLine: r.EndLine}
				byChunk[key] = h
			}
			if r.Score > h.maxScore {
				h.maxScore = r.Score
			}
			if len(r.MatchedTerms) > h.matchedTermsCount {
				h.matchedTermsCount = len(r.MatchedTerms)
			}
		}
	}

	out := make([]hit, 0, len(byChunk))
	for _, h := range byChunk {
		out = append(out, *h)
	}
	return out, nil
}

func filterTests(hits []hit, testGlobs []string) []hit {
	var out []hit
	for _, h := range hits {
		if discovery.IsTestPath(testGlobs, h.path) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// alignAndScore replaces each hit's chunk range with its smallest
// enclosing declaration range when one fits within max_open_lines, then
// computes every ranking signal.
func (b *Builder) alignAndScore(hits []hit, keywords []string) ([]Candidate, []SkippedCandidate) {
	keywordSet := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		keywordSet[k] = true
	}

	type key struct {
		path  string
		start int
		end   int
	}
	seen := make(map[key]bool)

	var candidates []Candidate
	var skipped []SkippedCandidate

	for _, h := range hits {
		resolved, rerr := b.sb.Resolve(h.path)
		if rerr != nil {
			skipped = append(skipped, SkippedCandidate{Path: h.path, StartLine: h.startLine, EndLine: h.endLine, Reason: SkipBlockedBySandbox})
			continue
		}
		data, err := os.ReadFile(resolved.Absolute)
		if err != nil {
			skipped = append(skipped, SkippedCandidate{Path: h.path, StartLine: h.startLine, EndLine: h.endLine, Reason: SkipBlockedBySandbox})
			continue
		}
		text := string(data)
		lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

		start, end := h.startLine, h.endLine
		outline := b.registry.Outline(h.path, text)
		if enclosing, ok := smallestEnclosing(outline, h.startLine, h.endLine); ok {
			if enclosing.EndLine-enclosing.StartLine+1 <= b.cfg.Limits.MaxOpenLines {
				start, end = enclosing.StartLine, enclosing.EndLine
			}
		}

		k := key{h.path, start, end}
		if seen[k] {
			continue
		}
		seen[k] = true

		if end-start+1 > b.cfg.Limits.MaxOpenLines {
			skipped = append(skipped, SkippedCandidate{Path: h.path, StartLine: start, EndLine: end, Reason: SkipRangeTooLarge})
			continue
		}

		definitionMatch := false
		minDist := 1 << 30
		var matchedSignals []string
		for _, s := range outline {
			if !keywordSet[strings.ToLower(s.Name)] {
				continue
			}
			if s.StartLine >= start && s.EndLine <= end {
				definitionMatch = true
			}
			dist := abs(s.StartLine - start)
			if dist < minDist {
				minDist = dist
			}
			matchedSignals = append(matchedSignals, "keyword_definition:"+s.Name)
		}
		if minDist == 1<<30 {
			minDist = 0
		}

		refCount := countReferencesInRange(lines, start, end, keywords)

		base := filepath.Base(h.path)
		pathRelevance := 0
		lowerBase := strings.ToLower(base)
		for _, kw := range keywords {
			if strings.Contains(lowerBase, kw) {
				pathRelevance++
			}
		}

		rangeLines := end - start + 1
		penalty := rangeSizePenalty(rangeLines, b.cfg.Bundler.RangeSizeSoftMax)

		clampedEnd := end
		if clampedEnd > len(lines) {
			clampedEnd = len(lines)
		}
		var rangeText string
		if start-1 < clampedEnd && start >= 1 {
			rangeText = strings.Join(lines[start-1:clampedEnd], "\n")
		}

		if h.matchedTermsCount > 0 {
			matchedSignals = append(matchedSignals, "bm25_match")
		}

		candidates = append(candidates, Candidate{
			Path:                  h.path,
			StartLine:             start,
			EndLine:               end,
			SearchScore:           h.maxScore,
			MatchedTermsCount:     h.matchedTermsCount,
			DefinitionMatch:       definitionMatch,
			ReferenceCountInRange: refCount,
			MinDefinitionDistance: minDist,
			PathNameRelevance:     pathRelevance,
			RangeSizePenalty:      penalty,
			MatchedSignals:        matchedSignals,
			Text:                  rangeText,
		})
	}

	return candidates, skipped
}

// smallestEnclosing finds the symbol whose range most tightly encloses
// [start,end] among outline.
func smallestEnclosing(outline symbols.List, start, end int) (symbols.Symbol, bool) {
	best := symbols.Symbol{}
	found := false
	bestSize := 1 << 30
	for _, s := range outline {
		if s.StartLine <= start && s.EndLine >= end {
			size := s.EndLine - s.StartLine
			if size < bestSize {
				bestSize = size
				best = s
				found = true
			}
		}
	}
	return best, found
}

// countReferencesInRange counts, over lines[start-1:end], each
// (line, keyword) pair where the lowercased line contains the keyword as
// a substring; repeated occurrences on one line count once.
func countReferencesInRange(lines []string, start, end int, keywords []string) int {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return 0
	}
	count := 0
	for _, line := range lines[start-1 : end] {
		for _, kw := range keywords {
			if strings.Contains(strings.ToLower(line), kw) {
				count++
			}
		}
	}
	return count
}

// selectWithinBudget walks ranked candidates greedily, merging
// overlapping same-path ranges and stopping once max_files or
// max_total_lines would be exceeded.
func (b *Builder) selectWithinBudget(candidates []Candidate, maxFiles, maxLines int) ([]Selection, []SkippedCandidate) {
	var selections []Selection
	var skipped []SkippedCandidate

	filesUsed := make(map[string]bool)
	linesUsed := 0
	var totalBytes int64

	for _, c := range candidates {
		merged := false
		for i := range selections {
			if selections[i].Path != c.Path {
				continue
			}
			if rangesOverlapOrAdjacent(selections[i].StartLine, selections[i].EndLine, c.StartLine, c.EndLine) {
				newStart := min(selections[i].StartLine, c.StartLine)
				newEnd := max(selections[i].EndLine, c.EndLine)
				addedLines := (newEnd - newStart + 1) - (selections[i].EndLine - selections[i].StartLine + 1)
				if linesUsed+addedLines > maxLines {
					skipped = append(skipped, SkippedCandidate{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine, Reason: SkipBudgetExhausted})
					merged = true
					break
				}
				selections[i].StartLine = newStart
				selections[i].EndLine = newEnd
				linesUsed += addedLines
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		rangeLines := c.EndLine - c.StartLine + 1
		newFile := !filesUsed[c.Path]
		filesIfAdded := len(filesUsed)
		if newFile {
			filesIfAdded++
		}

		if filesIfAdded > maxFiles || linesUsed+rangeLines > maxLines || totalBytes+int64(len(c.Text)) > b.cfg.Limits.MaxTotalBytesPerResponse {
			skipped = append(skipped, SkippedCandidate{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine, Reason: SkipBudgetExhausted})
			continue
		}

		filesUsed[c.Path] = true
		linesUsed += rangeLines
		totalBytes += int64(len(c.Text))
		selections = append(selections, Selection{
			Path:        c.Path,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Text:        c.Text,
			WhySelected: whySelectedFor(c),
		})
	}

	sort.Slice(selections, func(i, j int) bool {
		if selections[i].Path != selections[j].Path {
			return selections[i].Path < selections[j].Path
		}
		return selections[i].StartLine < selections[j].StartLine
	})

	return selections, skipped
}

func rangesOverlapOrAdjacent(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd+1 && bStart <= aEnd+1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
