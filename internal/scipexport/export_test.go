package scipexport

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/proto"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"

	"reposcope/internal/config"
	"reposcope/internal/index"
	"reposcope/internal/sandbox"
	"reposcope/internal/symbols"
)

func newTestRepo(t *testing.T) (*sandbox.Sandbox, *config.Config) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("def foo():\n    return 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sb, err := sandbox.New(root, nil, sandbox.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.RepoRoot = root
	cfg.DataDir = filepath.Join(root, ".reposcope")
	return sb, cfg
}

func TestExport_WritesDecodableIndex(t *testing.T) {
	sb, cfg := newTestRepo(t)

	store, err := index.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	outPath := filepath.Join(cfg.DataDir, "index", "index.scip")
	stats, err := Export(sb, store, symbols.NewRegistry(), outPath)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if stats.Documents != 1 {
		t.Fatalf("expected 1 document, got %d", stats.Documents)
	}
	if stats.Symbols != 1 {
		t.Fatalf("expected 1 symbol, got %d", stats.Symbols)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading SCIP index: %v", err)
	}
	var idx scippb.Index
	if err := proto.Unmarshal(raw, &idx); err != nil {
		t.Fatalf("decoding SCIP index: %v", err)
	}
	if len(idx.Documents) != 1 {
		t.Fatalf("expected 1 decoded document, got %d", len(idx.Documents))
	}
	if idx.Documents[0].RelativePath != "src/a.py" {
		t.Fatalf("unexpected relative path: %q", idx.Documents[0].RelativePath)
	}
	if len(idx.Documents[0].Symbols) != 1 || idx.Documents[0].Symbols[0].DisplayName != "foo" {
		t.Fatalf("unexpected symbols: %+v", idx.Documents[0].Symbols)
	}
}

func TestExport_SkipsFilesWithNoOutline(t *testing.T) {
	sb, cfg := newTestRepo(t)
	if err := os.WriteFile(filepath.Join(cfg.RepoRoot, "README.md"), []byte("# hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := index.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	outPath := filepath.Join(cfg.DataDir, "index", "index.scip")
	stats, err := Export(sb, store, symbols.NewRegistry(), outPath)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if stats.Documents != 1 {
		t.Fatalf("expected README.md to be skipped, got %d documents", stats.Documents)
	}
}
