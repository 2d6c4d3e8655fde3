package index

import (
	"os"
	"path/filepath"
	"testing"

	"reposcope/internal/config"
	"reposcope/internal/sandbox"
)

func newTestRepo(t *testing.T) (string, *sandbox.Sandbox, *config.Config) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("def foo():\n    return 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "b.py"), []byte("import a\na.foo()\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sb, err := sandbox.New(root, nil, sandbox.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.RepoRoot = root
	cfg.DataDir = filepath.Join(root, ".reposcope")

	return root, sb, cfg
}

func TestRefresh_AddsFiles(t *testing.T) {
	_, sb, cfg := newTestRepo(t)
	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	result, err := store.Refresh(sb, cfg, true)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Added < 2 {
		t.Errorf("Added = %d, want >= 2", result.Added)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d, want 0", result.Removed)
	}
}

func TestRefresh_FixpointOnUnchangedState(t *testing.T) {
	_, sb, cfg := newTestRepo(t)
	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	second, err := store.Refresh(sb, cfg, false)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if second.Added != 0 || second.Updated != 0 || second.Removed != 0 {
		t.Errorf("second refresh should be a fixpoint, got %+v", second)
	}
}

func TestRefresh_DetectsRemoval(t *testing.T) {
	root, sb, cfg := newTestRepo(t)
	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "src", "b.py")); err != nil {
		t.Fatal(err)
	}

	result, err := store.Refresh(sb, cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 1 {
		t.Errorf("Removed = %d, want 1", result.Removed)
	}
	if _, ok := store.Files["src/b.py"]; ok {
		t.Error("src/b.py should have been removed from the file table")
	}
}

func TestRefresh_DetectsContentChange(t *testing.T) {
	root, sb, cfg := newTestRepo(t)
	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("def foo():\n    return 2\n\nextra line\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := store.Refresh(sb, cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	_, sb, cfg := newTestRepo(t)
	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatal(err)
	}
	fileCount := len(store.Files)
	store.Close()

	reopened, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if len(reopened.Files) != fileCount {
		t.Errorf("reopened file count = %d, want %d", len(reopened.Files), fileCount)
	}
	if reopened.Status() != StatusReady {
		t.Errorf("status = %v, want ready", reopened.Status())
	}
}

func TestRefresh_BoundLockWithGenerousBudgetSucceeds(t *testing.T) {
	_, sb, cfg := newTestRepo(t)
	cfg.Limits.IndexRefreshTimeoutMs = 60_000

	lock, err := AcquireLock(cfg.DataDir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	store.BindLock(lock)

	result, err := store.Refresh(sb, cfg, true)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Added < 2 {
		t.Errorf("Added = %d, want >= 2", result.Added)
	}
}

func TestRefresh_UnboundLockIgnoresTimeoutConfig(t *testing.T) {
	_, sb, cfg := newTestRepo(t)
	cfg.Limits.IndexRefreshTimeoutMs = 1

	store, err := Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Refresh(sb, cfg, true); err != nil {
		t.Fatalf("Refresh with no bound lock should ignore the timeout budget, got: %v", err)
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("def foo_bar(Baz): return baz.attr")
	want := map[string]bool{"def": true, "foo": true, "bar": true, "baz": true, "return": true, "attr": true}
	for _, tok := range tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
	}
	for _, tok := range tokens {
		if len(tok) < 2 {
			t.Errorf("token %q shorter than 2 chars should have been dropped", tok)
		}
	}
}
