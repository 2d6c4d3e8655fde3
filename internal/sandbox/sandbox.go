// Package sandbox canonicalizes and authorizes every filesystem path a tool
// handler touches, rooted at one RepoRoot directory. It never returns file
// contents alongside a blocked result.
package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rerrors "reposcope/internal/errors"
)

// defaultDenylist is the fixed set of glob patterns that are never readable,
// regardless of other rules.
var defaultDenylist = []string{
	".env",
	"*.pem",
	"*.key",
	"*.pfx",
	"*.p12",
	"id_rsa*",
	"**/secrets.*",
	"**/.git/**",
}

// Limits bounds every read the sandbox authorizes.
type Limits struct {
	MaxFileBytes             int64
	MaxOpenLines             int
	MaxTotalBytesPerResponse int64
}

// DefaultLimits returns the hard caps named in the external interface spec.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:             4 * 1024 * 1024,
		MaxOpenLines:             2000,
		MaxTotalBytesPerResponse: 1024 * 1024,
	}
}

// Sandbox authorizes paths under one RepoRoot.
type Sandbox struct {
	repoRoot string
	denylist []string
	limits   Limits
}

// New builds a Sandbox rooted at repoRoot. repoRoot must already be an
// absolute, existing directory; callers resolve that once at startup.
// extraDenylist is appended to the fixed default set.
func New(repoRoot string, extraDenylist []string, limits Limits) (*Sandbox, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	denylist := append(append([]string{}, defaultDenylist...), extraDenylist...)
	return &Sandbox{repoRoot: resolved, denylist: denylist, limits: limits}, nil
}

// RepoRoot returns the canonical, symlink-resolved repository root.
func (s *Sandbox) RepoRoot() string { return s.repoRoot }

// Resolved is an authorized path: an absolute filesystem location proven to
// lie inside RepoRoot, plus its repo-relative, forward-slash form.
type Resolved struct {
	Absolute string
	Rel      string
}

// Resolve canonicalizes an incoming repo-relative or absolute path string
// and authorizes it against RepoRoot, applying the rule order from the
// sandbox design: traversal → symlink escape → absolute-outside-root →
// denylist. It does not apply size caps; callers invoke CheckFileSize /
// CheckLineRange separately once they know what they're about to read.
func (s *Sandbox) Resolve(input string) (Resolved, *rerrors.ReposcopeError) {
	normalized := filepath.ToSlash(input)

	// Rule 1: reject any ".." segment after normalization.
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return Resolved{}, rerrors.NewSandboxError(rerrors.PathTraversal)
		}
	}

	var candidate string
	if filepath.IsAbs(input) {
		candidate = filepath.Clean(input)
	} else {
		candidate = filepath.Join(s.repoRoot, filepath.FromSlash(normalized))
	}

	// Rule 2: resolve symlinks fully; reject escape. Walk up to the nearest
	// existing ancestor so that not-yet-created paths (e.g. a file about to
	// be written) still resolve deterministically.
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return Resolved{}, rerrors.NewInternal(rerrors.IOError, "failed to resolve path", err)
	}
	if !isWithin(resolved, s.repoRoot) {
		if filepath.IsAbs(input) {
			return Resolved{}, rerrors.NewSandboxError(rerrors.AbsoluteOutsideRoot)
		}
		return Resolved{}, rerrors.NewSandboxError(rerrors.SymlinkEscape)
	}

	// Rule 3: absolute inputs whose resolved target is outside root.
	if filepath.IsAbs(input) && !isWithin(resolved, s.repoRoot) {
		return Resolved{}, rerrors.NewSandboxError(rerrors.AbsoluteOutsideRoot)
	}

	rel, err := filepath.Rel(s.repoRoot, resolved)
	if err != nil {
		return Resolved{}, rerrors.NewInternal(rerrors.IOError, "failed to compute relative path", err)
	}
	rel = filepath.ToSlash(rel)

	// Rule 4: denylist, applied to the resolved relative path.
	if s.isDenylisted(rel) {
		return Resolved{}, rerrors.NewSandboxError(rerrors.Denylisted)
	}

	return Resolved{Absolute: resolved, Rel: rel}, nil
}

// resolveExisting resolves symlinks along the longest existing prefix of
// path, then rejoins any trailing, not-yet-existing components.
func resolveExisting(path string) (string, error) {
	clean := filepath.Clean(path)
	if _, err := os.Lstat(clean); err == nil {
		return filepath.EvalSymlinks(clean)
	}

	dir, base := filepath.Split(clean)
	dir = filepath.Clean(dir)
	if dir == clean {
		return clean, nil
	}
	resolvedDir, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}

func (s *Sandbox) isDenylisted(rel string) bool {
	for _, pattern := range s.denylist {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// matchGlob supports the limited doublestar subset the denylist needs:
// "**/" as a path-spanning prefix and ordinary filepath.Match elsewhere.
func matchGlob(pattern, path string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if strings.HasSuffix(suffix, "/**") {
			dir := strings.TrimSuffix(suffix, "/**")
			segs := strings.Split(path, "/")
			for i, seg := range segs {
				if seg == dir {
					_ = i
					return true
				}
			}
			return false
		}
		segs := strings.Split(path, "/")
		for i := range segs {
			sub := strings.Join(segs[i:], "/")
			if ok, _ := filepath.Match(suffix, sub); ok {
				return true
			}
			if ok, _ := filepath.Match(suffix, segs[len(segs)-1]); ok {
				return true
			}
		}
		return false
	}
	if ok, _ := filepath.Match(pattern, path); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
		return true
	}
	return false
}

// CheckFileSize enforces max_file_bytes.
func (s *Sandbox) CheckFileSize(size int64) *rerrors.ReposcopeError {
	if s.limits.MaxFileBytes > 0 && size > s.limits.MaxFileBytes {
		return rerrors.NewSandboxError(rerrors.FileTooLarge)
	}
	return nil
}

// CheckLineRange enforces max_open_lines for an inclusive [start,end] range.
func (s *Sandbox) CheckLineRange(start, end int) *rerrors.ReposcopeError {
	if s.limits.MaxOpenLines > 0 && end-start+1 > s.limits.MaxOpenLines {
		return rerrors.NewSandboxError(rerrors.RangeTooLarge)
	}
	return nil
}

// CheckResponseSize enforces max_total_bytes_per_response.
func (s *Sandbox) CheckResponseSize(size int64) *rerrors.ReposcopeError {
	if s.limits.MaxTotalBytesPerResponse > 0 && size > s.limits.MaxTotalBytesPerResponse {
		return rerrors.NewSandboxError(rerrors.ResponseTooLarge)
	}
	return nil
}

// IsDenylistedPath reports whether a repo-relative path matches the
// denylist, without resolving or authorizing it. Used by Discovery to skip
// denylisted files before they're ever opened.
func (s *Sandbox) IsDenylistedPath(rel string) bool {
	return s.isDenylisted(filepath.ToSlash(rel))
}

// Limits exposes the configured size caps.
func (s *Sandbox) Limits() Limits { return s.limits }

// WalkFunc mirrors fs.WalkDirFunc; Walk guarantees alphabetical traversal
// order at each directory level and never follows symlinks that escape
// RepoRoot, matching Discovery's determinism contract.
type WalkFunc func(relPath string, d fs.DirEntry) error

// Walk traverses RepoRoot in alphabetical order at every level, skipping
// directories/symlinks that resolve outside RepoRoot.
func (s *Sandbox) Walk(includeHidden bool, fn WalkFunc) error {
	return s.walkDir(s.repoRoot, "", includeHidden, fn)
}

func (s *Sandbox) walkDir(absDir, relDir string, includeHidden bool, fn WalkFunc) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		absPath := filepath.Join(absDir, name)
		relPath := name
		if relDir != "" {
			relPath = relDir + "/" + name
		}

		info, err := os.Lstat(absPath)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(absPath)
			if err != nil || !isWithin(target, s.repoRoot) {
				continue
			}
		}

		if err := fn(relPath, entry); err != nil {
			return err
		}

		if entry.IsDir() {
			if err := s.walkDir(absPath, relPath, includeHidden, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
