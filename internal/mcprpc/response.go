package mcprpc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reposcope/internal/audit"
	"reposcope/internal/bundler"
	"reposcope/internal/envelope"
)

// recordAudit appends one AuditEvent summarizing this call. Metadata never
// carries file contents, secrets, or raw prompt text — only a request id,
// tool name, and outcome flags.
func (s *Server) recordAudit(requestID interface{}, tool string, resp *envelope.Response) {
	if s.auditLog == nil {
		return
	}
	errorCode := ""
	if resp.Error != nil {
		errorCode = resp.Error.Code
	}
	event := audit.NewEvent(fmt.Sprint(requestID), tool, resp.OK, resp.Blocked, errorCode, nil)
	if err := s.auditLog.Append(event); err != nil {
		s.logger.Error("failed to append audit event", "error", err.Error())
	}
}

func parseSinceOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func readAuditSince(dataDir string, since time.Time, limit int) ([]audit.Event, error) {
	return audit.ReadSince(filepath.Join(dataDir, "audit.jsonl"), since, limit)
}

// persistLastBundle writes last_bundle.json and a human-readable
// last_bundle.md alongside the index, per the persistent layout.
func persistLastBundle(dataDir string, bundle bundler.Bundle) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dataDir, "last_bundle.json"), data, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "last_bundle.md"), []byte(renderBundleMarkdown(bundle)), 0644)
}

func renderBundleMarkdown(bundle bundler.Bundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Context bundle %s\n\n", bundle.BundleID)
	fmt.Fprintf(&sb, "Prompt fingerprint: `%s`\n\n", bundle.PromptFingerprint)
	fmt.Fprintf(&sb, "Totals: %d files, %d lines, %d bytes\n\n", bundle.Totals.Files, bundle.Totals.Lines, bundle.Totals.Bytes)
	for _, sel := range bundle.Selections {
		fmt.Fprintf(&sb, "## %s:%d-%d\n\n", sel.Path, sel.StartLine, sel.EndLine)
		fmt.Fprintf(&sb, "```\n%s\n```\n\n", sel.Text)
	}
	if len(bundle.WhyNotSelectedSummary) > 0 {
		sb.WriteString("## Skipped\n\n")
		for _, skipped := range bundle.WhyNotSelectedSummary {
			fmt.Fprintf(&sb, "- %s:%d-%d (%s)\n", skipped.Path, skipped.StartLine, skipped.EndLine, skipped.Reason)
		}
	}
	return sb.String()
}
