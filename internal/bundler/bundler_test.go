package bundler

import (
	"os"
	"path/filepath"
	"testing"

	"reposcope/internal/config"
	"reposcope/internal/index"
	"reposcope/internal/sandbox"
)

func TestExtractKeywords_DropsStopWordsAndShortTokens(t *testing.T) {
	stop := []string{"the", "a", "is"}
	out := ExtractKeywords("The quick fox is a fox near db", stop, 3, 12)
	want := map[string]bool{"quick": true, "fox": true, "near": true}
	seen := map[string]bool{}
	for _, w := range out {
		seen[w] = true
	}
	for w := range want {
		if !seen[w] {
			t.Errorf("expected keyword %q in %v", w, out)
		}
	}
	if seen["the"] || seen["is"] || seen["db"] {
		t.Errorf("unexpected token survived filtering: %v", out)
	}
	// dedup: "fox" appears twice in the prompt but once in output
	count := 0
	for _, w := range out {
		if w == "fox" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected fox deduplicated, got %d occurrences", count)
	}
}

func TestExtractKeywords_RespectsCap(t *testing.T) {
	out := ExtractKeywords("alpha beta gamma delta epsilon zeta", nil, 3, 3)
	if len(out) != 3 {
		t.Errorf("expected 3 keywords, got %d: %v", len(out), out)
	}
}

func newBundlerFixture(t *testing.T) *Builder {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "bundler.py"), []byte(
		"def build_context_bundle(prompt):\n    \"\"\"assembles a context bundle\"\"\"\n    return prompt\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "unrelated.py"), []byte(
		"def totally_different():\n    return 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sb, err := sandbox.New(root, nil, sandbox.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.RepoRoot = root
	cfg.DataDir = filepath.Join(root, ".reposcope")

	store, err := index.Open(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	return New(sb, store, cfg)
}

func TestBuild_RespectsBudget(t *testing.T) {
	b := newBundlerFixture(t)

	bundle, err := b.Build(Options{
		Prompt:       "explain context bundle selection",
		Budget:       Budget{MaxFiles: 1, MaxTotalLines: 20},
		Strategy:     "hybrid",
		IncludeTests: false,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if bundle.Totals.Files > 1 {
		t.Errorf("totals.files = %d, want <= 1", bundle.Totals.Files)
	}
	if bundle.Totals.Lines > 20 {
		t.Errorf("totals.lines = %d, want <= 20", bundle.Totals.Lines)
	}
	if bundle.BundleID == "" {
		t.Error("expected non-empty bundle_id")
	}
	if bundle.PromptFingerprint == "" {
		t.Error("expected non-empty prompt_fingerprint")
	}
	if len(bundle.WhyNotSelectedSummary) > 10 {
		t.Errorf("why_not_selected_summary length = %d, want <= 10", len(bundle.WhyNotSelectedSummary))
	}
}

func TestBuild_DeterministicBundleID(t *testing.T) {
	b := newBundlerFixture(t)

	opts := Options{
		Prompt:       "explain context bundle selection",
		Budget:       Budget{MaxFiles: 3, MaxTotalLines: 100},
		Strategy:     "hybrid",
		IncludeTests: false,
	}
	first, err := b.Build(opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.BundleID != second.BundleID {
		t.Errorf("bundle_id not deterministic: %s vs %s", first.BundleID, second.BundleID)
	}
	if len(first.Selections) != len(second.Selections) {
		t.Fatalf("selection counts differ: %d vs %d", len(first.Selections), len(second.Selections))
	}
	for i := range first.Selections {
		if first.Selections[i].Path != second.Selections[i].Path || first.Selections[i].StartLine != second.Selections[i].StartLine {
			t.Errorf("selection %d differs across identical builds", i)
		}
	}
}

func TestBuild_EverySelectionHasMatchedSignalsOrEmpty(t *testing.T) {
	b := newBundlerFixture(t)

	bundle, err := b.Build(Options{
		Prompt:       "build context bundle",
		Budget:       Budget{MaxFiles: 5, MaxTotalLines: 200},
		Strategy:     "hybrid",
		IncludeTests: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range bundle.Selections {
		if len(s.WhySelected.MatchedSignals) == 0 {
			t.Errorf("selection %s has no matched signals", s.Path)
		}
		if s.WhySelected.Components == nil {
			t.Errorf("selection %s has no why_selected components", s.Path)
		}
	}
}
