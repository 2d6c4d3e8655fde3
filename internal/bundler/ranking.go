package bundler

import (
	"fmt"
	"sort"
)

// Candidate is one aligned range under consideration for selection, with
// every ranking signal computed.
type Candidate struct {
	Path      string
	StartLine int
	EndLine   int

	SearchScore           float64
	MatchedTermsCount     int
	DefinitionMatch       bool
	ReferenceCountInRange int
	MinDefinitionDistance int
	PathNameRelevance     int
	RangeSizePenalty      float64

	MatchedSignals []string
	Text           string
}

// rankLess implements the fixed lexicographic ordering: definition_match
// desc, search_score desc, reference_count_in_range desc,
// path_name_relevance desc, matched_terms_count desc,
// min_definition_distance asc, range_size_penalty asc, path asc,
// start_line asc.
func rankLess(a, b Candidate) bool {
	if a.DefinitionMatch != b.DefinitionMatch {
		return a.DefinitionMatch
	}
	if a.SearchScore != b.SearchScore {
		return a.SearchScore > b.SearchScore
	}
	if a.ReferenceCountInRange != b.ReferenceCountInRange {
		return a.ReferenceCountInRange > b.ReferenceCountInRange
	}
	if a.PathNameRelevance != b.PathNameRelevance {
		return a.PathNameRelevance > b.PathNameRelevance
	}
	if a.MatchedTermsCount != b.MatchedTermsCount {
		return a.MatchedTermsCount > b.MatchedTermsCount
	}
	if a.MinDefinitionDistance != b.MinDefinitionDistance {
		return a.MinDefinitionDistance < b.MinDefinitionDistance
	}
	if a.RangeSizePenalty != b.RangeSizePenalty {
		return a.RangeSizePenalty < b.RangeSizePenalty
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.StartLine < b.StartLine
}

// RankCandidates sorts candidates in place per the fixed total order.
func RankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return rankLess(candidates[i], candidates[j])
	})
}

// rangeSizePenalty penalizes line counts above softMax linearly; ranges
// at or below softMax are free.
func rangeSizePenalty(lines, softMax int) float64 {
	if softMax <= 0 || lines <= softMax {
		return 0
	}
	return float64(lines-softMax) / float64(softMax)
}

// WhySelected records the signals and computed components behind one
// selection, for the bundle's explanation output.
type WhySelected struct {
	MatchedSignals []string          `json:"matched_signals"`
	Components     map[string]string `json:"components"`
}

func whySelectedFor(c Candidate) WhySelected {
	return WhySelected{
		MatchedSignals: c.MatchedSignals,
		Components: map[string]string{
			"search_score":             fmt.Sprintf("%.4f", c.SearchScore),
			"matched_terms_count":      fmt.Sprintf("%d", c.MatchedTermsCount),
			"definition_match":         fmt.Sprintf("%t", c.DefinitionMatch),
			"reference_count_in_range": fmt.Sprintf("%d", c.ReferenceCountInRange),
			"min_definition_distance":  fmt.Sprintf("%d", c.MinDefinitionDistance),
			"path_name_relevance":      fmt.Sprintf("%d", c.PathNameRelevance),
			"range_size_penalty":       fmt.Sprintf("%.4f", c.RangeSizePenalty),
		},
	}
}
