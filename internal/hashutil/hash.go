// Package hashutil provides the stable hashing primitives reposcope uses
// for content_hash, chunk_id, bundle_id, and prompt_fingerprint. All of
// these values must be reproducible across runs given identical inputs, so
// hashing is keyless and the digest is truncated to a short hex string.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// digestHexLen is the number of hex characters kept from the full sha256
// digest — enough to make collisions practically impossible at repo scale
// while keeping ids short.
const digestHexLen = 24

// Stable hashes the given fields (joined with a separator byte that cannot
// appear in any field unescaped) and returns a short stable hex digest.
func Stable(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0x1f}) // unit separator
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:digestHexLen]
}

// ContentHash hashes raw file bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:digestHexLen]
}

// ChunkID derives a stable chunk identifier from the fields the spec names:
// path, start_line, end_line, window_size, overlap, chunking_version.
func ChunkID(path string, startLine, endLine, windowSize, overlap, chunkingVersion int) string {
	return Stable(
		path,
		fmt.Sprintf("%d", startLine),
		fmt.Sprintf("%d", endLine),
		fmt.Sprintf("%d", windowSize),
		fmt.Sprintf("%d", overlap),
		fmt.Sprintf("%d", chunkingVersion),
	)
}

// BundleID derives a content-based bundle identifier from the prompt,
// strategy, budget, and the sorted set of selected ranges.
func BundleID(promptFingerprint, strategy string, selections []string) string {
	fields := append([]string{promptFingerprint, strategy}, selections...)
	return Stable(fields...)
}

// PromptFingerprint hashes the prompt text together with the effective
// ranking parameters that influenced how it was interpreted.
func PromptFingerprint(prompt string, rankingParams ...string) string {
	fields := append([]string{strings.TrimSpace(prompt)}, rankingParams...)
	return Stable(fields...)
}
