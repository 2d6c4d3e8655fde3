package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	rerrors "reposcope/internal/errors"
)

func newTestSandbox(t *testing.T, root string) *Sandbox {
	t.Helper()
	sb, err := New(root, nil, DefaultLimits())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return sb
}

func TestResolve_Traversal(t *testing.T) {
	root := t.TempDir()
	sb := newTestSandbox(t, root)

	_, rerr := sb.Resolve("../etc/passwd")
	if rerr == nil || rerr.Code != rerrors.PathTraversal {
		t.Fatalf("expected PATH_TRAVERSAL, got %v", rerr)
	}
}

func TestResolve_WithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	sb := newTestSandbox(t, root)

	res, rerr := sb.Resolve("a.txt")
	if rerr != nil {
		t.Fatalf("unexpected block: %v", rerr)
	}
	if res.Rel != "a.txt" {
		t.Errorf("Rel = %q, want a.txt", res.Rel)
	}
}

func TestResolve_Denylisted(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1"), 0644); err != nil {
		t.Fatal(err)
	}
	sb := newTestSandbox(t, root)

	_, rerr := sb.Resolve(".env")
	if rerr == nil || rerr.Code != rerrors.Denylisted {
		t.Fatalf("expected DENYLISTED, got %v", rerr)
	}
}

func TestResolve_DenylistedNestedSecrets(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "config"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "config", "secrets.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sb := newTestSandbox(t, root)

	_, rerr := sb.Resolve("config/secrets.yaml")
	if rerr == nil || rerr.Code != rerrors.Denylisted {
		t.Fatalf("expected DENYLISTED, got %v", rerr)
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	sb := newTestSandbox(t, root)

	_, rerr := sb.Resolve("link.txt")
	if rerr == nil || rerr.Code != rerrors.SymlinkEscape {
		t.Fatalf("expected SYMLINK_ESCAPE, got %v", rerr)
	}
}

func TestResolve_AbsoluteOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	sb := newTestSandbox(t, root)

	_, rerr := sb.Resolve(filepath.Join(outside, "whatever.txt"))
	if rerr == nil || rerr.Code != rerrors.AbsoluteOutsideRoot {
		t.Fatalf("expected ABSOLUTE_OUTSIDE_ROOT, got %v", rerr)
	}
}

func TestResolve_IsPrefixDescendant(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "pkg", "a.go"), []byte("package pkg"), 0644); err != nil {
		t.Fatal(err)
	}
	sb := newTestSandbox(t, root)

	res, rerr := sb.Resolve("src/pkg/a.go")
	if rerr != nil {
		t.Fatalf("unexpected block: %v", rerr)
	}
	if !isWithin(res.Absolute, sb.RepoRoot()) {
		t.Error("resolved path must be a prefix-descendant of RepoRoot")
	}
}

func TestCheckFileSize_Boundary(t *testing.T) {
	sb := newTestSandbox(t, t.TempDir())
	limit := sb.Limits().MaxFileBytes

	if rerr := sb.CheckFileSize(limit); rerr != nil {
		t.Errorf("file exactly at max_file_bytes should pass, got %v", rerr)
	}
	if rerr := sb.CheckFileSize(limit + 1); rerr == nil || rerr.Code != rerrors.FileTooLarge {
		t.Errorf("file one byte over should be blocked, got %v", rerr)
	}
}

func TestCheckLineRange_Boundary(t *testing.T) {
	sb := newTestSandbox(t, t.TempDir())
	max := sb.Limits().MaxOpenLines

	if rerr := sb.CheckLineRange(1, max); rerr != nil {
		t.Errorf("range exactly at max_open_lines should pass, got %v", rerr)
	}
	if rerr := sb.CheckLineRange(1, max+1); rerr == nil || rerr.Code != rerrors.RangeTooLarge {
		t.Errorf("range one line over should be blocked, got %v", rerr)
	}
}

func TestWalk_AlphabeticalOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	sb := newTestSandbox(t, root)

	var seen []string
	err := sb.Walk(false, func(relPath string, _ os.DirEntry) error {
		seen = append(seen, relPath)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestWalk_SkipsHidden(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sb := newTestSandbox(t, root)

	var seen []string
	_ = sb.Walk(false, func(relPath string, _ os.DirEntry) error {
		seen = append(seen, relPath)
		return nil
	})
	if len(seen) != 1 || seen[0] != "visible.txt" {
		t.Errorf("seen = %v, want [visible.txt]", seen)
	}
}
