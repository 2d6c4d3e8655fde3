// Package discovery walks a repository root and produces the deterministic
// set of files that the Index Store should index, applying extension
// include rules, exclude globs, denylist, hidden-entry policy, and a binary
// content sniff.
package discovery

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"reposcope/internal/config"
	"reposcope/internal/sandbox"
)

// File is one discovered, indexable file.
type File struct {
	Path string // repo-relative, forward-slash normalized
	Size int64
	Mtime int64 // unix nanoseconds
}

// Discover walks sb.RepoRoot() and returns the sorted set of indexable
// files per cfg.Discovery. includeHidden, when cfg says so, traverses
// dotfiles/dotdirs too.
func Discover(sb *sandbox.Sandbox, cfg config.DiscoveryConfig) ([]File, error) {
	var out []File

	extSet := make(map[string]bool, len(cfg.IncludeExtensions))
	for _, e := range cfg.IncludeExtensions {
		extSet[strings.ToLower(e)] = true
	}

	err := sb.Walk(cfg.IncludeHidden, func(relPath string, d fs.DirEntry) error {
		if d.IsDir() {
			if matchesAnyExclude(cfg.ExcludeGlobs, relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(relPath))
		if !extSet[ext] {
			return nil
		}
		if matchesAnyExclude(cfg.ExcludeGlobs, relPath) {
			return nil
		}
		if sb.IsDenylistedPath(relPath) {
			return nil
		}

		abs := filepath.Join(sb.RepoRoot(), filepath.FromSlash(relPath))
		info, err := os.Stat(abs)
		if err != nil {
			return nil // unreadable file during discovery: skip it
		}
		if info.IsDir() {
			return nil
		}

		isBin, err := isBinary(abs)
		if err != nil || isBin {
			return nil
		}

		out = append(out, File{Path: relPath, Size: info.Size(), Mtime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// matchesAnyExclude reports whether relPath matches any of the configured
// exclude globs, supporting a "**/" path-spanning prefix as in the
// denylist.
func matchesAnyExclude(globs []string, relPath string) bool {
	for _, g := range globs {
		if matchExcludeGlob(g, relPath) {
			return true
		}
	}
	return false
}

func matchExcludeGlob(pattern, path string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		segs := strings.Split(strings.TrimSuffix(path, "/"), "/")
		for i := range segs {
			sub := strings.Join(segs[i:], "/")
			if ok, _ := filepath.Match(suffix, sub); ok {
				return true
			}
			if ok, _ := filepath.Match(strings.TrimSuffix(suffix, "/**"), segs[i]); ok && strings.HasSuffix(suffix, "/**") {
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

// isBinary sniffs the first 8 KiB: a zero byte, or a failure to decode as
// valid UTF-8, marks the file as binary.
func isBinary(absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		if err.Error() == "EOF" {
			return false, nil
		}
		return false, err
	}
	buf = buf[:n]

	if bytes.IndexByte(buf, 0) >= 0 {
		return true, nil
	}
	if !utf8.Valid(buf) {
		return true, nil
	}
	return false, nil
}

// IsTestPath reports whether relPath matches any of the configured test
// globs, used by the Bundler to drop test files when include_tests=false.
func IsTestPath(testGlobs []string, relPath string) bool {
	return matchesAnyExclude(testGlobs, relPath)
}
