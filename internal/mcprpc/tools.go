package mcprpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"reposcope/internal/bm25"
	"reposcope/internal/bundler"
	"reposcope/internal/discovery"
	"reposcope/internal/envelope"
	rerrors "reposcope/internal/errors"
	"reposcope/internal/index"
	"reposcope/internal/references"
)

type toolFunc func(s *Server, args json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError)

func (s *Server) buildToolset() map[string]toolFunc {
	return map[string]toolFunc{
		"repo.status":              toolStatus,
		"repo.list_files":          toolListFiles,
		"repo.open_file":           toolOpenFile,
		"repo.outline":             toolOutline,
		"repo.search":              toolSearch,
		"repo.references":          toolReferences,
		"repo.build_context_bundle": toolBuildContextBundle,
		"repo.refresh_index":       toolRefreshIndex,
		"repo.audit_log":           toolAuditLog,
	}
}

// handle dispatches one request to its tool, builds the response envelope,
// and records an audit event before returning.
func (s *Server) handle(req Request) *envelope.Response {
	name, argNames, ok := ResolveTool(req)
	if !ok {
		err := rerrors.NewUnknownTool(req.Method)
		resp := envelope.New(req.ID).FromError(err).Build()
		s.recordAudit(req.ID, req.Method, resp)
		return resp
	}

	fn, known := s.tools[name]
	if !known {
		err := rerrors.NewUnknownTool(name)
		resp := envelope.New(req.ID).FromError(err).Build()
		s.recordAudit(req.ID, name, resp)
		return resp
	}

	result, warnings, toolErr := fn(s, argNames)
	builder := envelope.New(req.ID)
	if toolErr != nil {
		resp := builder.FromError(toolErr).Build()
		s.recordAudit(req.ID, name, resp)
		return resp
	}

	for _, w := range warnings {
		builder = builder.Warn("", w)
	}
	resp := builder.Ok(result).Build()
	s.recordAudit(req.ID, name, resp)
	return resp
}

// --- repo.status ---

func toolStatus(s *Server, args json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	limits := s.sb.Limits()
	adapters := []string{}
	if s.cfg.Adapters.Python {
		adapters = append(adapters, "python")
	}
	if s.cfg.Adapters.Lexical {
		adapters = append(adapters, "lexical")
	}

	return map[string]interface{}{
		"repo_root":            s.sb.RepoRoot(),
		"index_status":         string(s.store.Status()),
		"last_refresh_timestamp": s.store.Manifest.LastRefreshTimestamp,
		"indexed_file_count":   len(s.store.Files),
		"enabled_adapters":     adapters,
		"limits_summary": map[string]interface{}{
			"max_file_bytes":               limits.MaxFileBytes,
			"max_open_lines":                limits.MaxOpenLines,
			"max_total_bytes_per_response": limits.MaxTotalBytesPerResponse,
			"max_search_hits":              s.cfg.Limits.MaxSearchHits,
			"max_references":               s.cfg.Limits.MaxReferences,
		},
		"chunking_summary": map[string]interface{}{
			"window_lines":  s.cfg.Chunking.WindowLines,
			"overlap_lines": s.cfg.Chunking.OverlapLines,
			"chunk_version": s.cfg.Chunking.ChunkVersion,
		},
		"effective_config": s.cfg,
	}, nil, nil
}

// --- repo.list_files ---

type listFilesArgs struct {
	Glob          string `json:"glob"`
	MaxResults    int    `json:"max_results"`
	IncludeHidden bool   `json:"include_hidden"`
}

func toolListFiles(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args listFilesArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, nil, rerrors.NewInvalidParams("", "could not parse arguments")
		}
	}

	discCfg := s.cfg.Discovery
	discCfg.IncludeHidden = args.IncludeHidden || discCfg.IncludeHidden
	files, err := discovery.Discover(s.sb, discCfg)
	if err != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "failed to list files", err)
	}

	out := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		if args.Glob != "" && !matchesSimpleGlob(args.Glob, f.Path) {
			continue
		}
		out = append(out, map[string]interface{}{"path": f.Path, "size": f.Size, "mtime": f.Mtime})
		if args.MaxResults > 0 && len(out) >= args.MaxResults {
			break
		}
	}
	return out, nil, nil
}

// matchesSimpleGlob supports "*" wildcards against the whole relative path
// or its base name, mirroring the sandbox denylist's matching rules.
func matchesSimpleGlob(pattern, path string) bool {
	if ok, _ := filepath.Match(pattern, path); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		segs := strings.Split(path, "/")
		for i := range segs {
			if ok, _ := filepath.Match(suffix, strings.Join(segs[i:], "/")); ok {
				return true
			}
		}
	}
	return false
}

// --- repo.open_file ---

type openFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func toolOpenFile(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args openFileArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
		return nil, nil, rerrors.NewInvalidParams("path", "path is required")
	}
	if args.StartLine <= 0 {
		args.StartLine = 1
	}

	resolved, sbErr := s.sb.Resolve(args.Path)
	if sbErr != nil {
		return nil, nil, sbErr
	}

	info, statErr := os.Stat(resolved.Absolute)
	if statErr != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "could not stat file", statErr)
	}
	if sizeErr := s.sb.CheckFileSize(info.Size()); sizeErr != nil {
		return nil, nil, sizeErr
	}

	data, readErr := os.ReadFile(resolved.Absolute)
	if readErr != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "could not read file", readErr)
	}
	lines := splitLines(string(data))
	total := len(lines)

	start := args.StartLine
	if start > total {
		start = total + 1
	}
	requestedEnd := args.EndLine
	if requestedEnd <= 0 {
		requestedEnd = total
	}
	end := requestedEnd
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}

	if rangeErr := s.sb.CheckLineRange(start, end); rangeErr != nil {
		return nil, nil, rangeErr
	}

	numbered := make([]map[string]interface{}, 0, end-start+1)
	for ln := start; ln <= end && ln <= total; ln++ {
		numbered = append(numbered, map[string]interface{}{"line": ln, "text": lines[ln-1]})
	}

	return map[string]interface{}{
		"path":          resolved.Rel,
		"numbered_lines": numbered,
		"truncated":     requestedEnd > total,
	}, nil, nil
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// --- repo.outline ---

type outlineArgs struct {
	Path string `json:"path"`
}

func toolOutline(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args outlineArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
		return nil, nil, rerrors.NewInvalidParams("path", "path is required")
	}

	resolved, sbErr := s.sb.Resolve(args.Path)
	if sbErr != nil {
		return nil, nil, sbErr
	}
	info, statErr := os.Stat(resolved.Absolute)
	if statErr != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "could not stat file", statErr)
	}
	if sizeErr := s.sb.CheckFileSize(info.Size()); sizeErr != nil {
		return nil, nil, sizeErr
	}

	data, readErr := os.ReadFile(resolved.Absolute)
	if readErr != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "could not read file", readErr)
	}

	syms := s.registry.Outline(resolved.Rel, string(data))
	return map[string]interface{}{
		"path":     resolved.Rel,
		"language": index.LanguageHint(resolved.Rel),
		"symbols":  syms,
	}, nil, nil
}

// --- repo.search ---

type searchArgs struct {
	Query      string `json:"query"`
	Mode       string `json:"mode"`
	TopK       int    `json:"top_k"`
	FileGlob   string `json:"file_glob"`
	PathPrefix string `json:"path_prefix"`
}

func toolSearch(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Query == "" {
		return nil, nil, rerrors.NewInvalidParams("query", "query is required")
	}
	topK := args.TopK
	if topK <= 0 {
		topK = s.cfg.Search.DefaultTopK
	}

	hits, err := s.search.Search(args.Query, bm25.Options{
		TopK:          topK,
		FileGlob:      args.FileGlob,
		PathPrefix:    args.PathPrefix,
		MaxSearchHits: s.cfg.Limits.MaxSearchHits,
	})
	if err != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "search failed", err)
	}

	out := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]interface{}{
			"path":          h.Path,
			"start_line":    h.StartLine,
			"end_line":      h.EndLine,
			"snippet":       h.Snippet,
			"score":         h.Score,
			"matched_terms": h.MatchedTerms,
		})
	}
	return map[string]interface{}{"hits": out}, nil, nil
}

// --- repo.references ---

type referencesArgs struct {
	Symbol string `json:"symbol"`
	Path   string `json:"path"`
	TopK   int    `json:"top_k"`
}

func toolReferences(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args referencesArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Symbol == "" {
		return nil, nil, rerrors.NewInvalidParams("symbol", "symbol is required")
	}

	result, err := s.refs.Find(references.Options{
		Symbol:        args.Symbol,
		Path:          args.Path,
		TopK:          args.TopK,
		MaxReferences: s.cfg.Limits.MaxReferences,
	})
	if err != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "reference search failed", err)
	}

	return map[string]interface{}{
		"symbol":           args.Symbol,
		"references":       result.References,
		"truncated":        result.Truncated,
		"total_candidates": result.TotalCandidates,
	}, nil, nil
}

// --- repo.build_context_bundle ---

type budgetArgs struct {
	MaxFiles      int `json:"max_files"`
	MaxTotalLines int `json:"max_total_lines"`
}

type bundleArgs struct {
	Prompt       string     `json:"prompt"`
	Budget       budgetArgs `json:"budget"`
	Strategy     string     `json:"strategy"`
	IncludeTests bool       `json:"include_tests"`
}

func toolBuildContextBundle(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args bundleArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Prompt) == "" {
		return nil, nil, rerrors.NewInvalidParams("prompt", "prompt is required")
	}

	maxFiles := args.Budget.MaxFiles
	if maxFiles <= 0 {
		maxFiles = s.cfg.Bundler.DefaultMaxFiles
	}
	maxTotalLines := args.Budget.MaxTotalLines
	if maxTotalLines <= 0 {
		maxTotalLines = s.cfg.Bundler.DefaultMaxTotalLines
	}
	strategy := args.Strategy
	if strategy == "" {
		strategy = "hybrid"
	}

	bundle, err := s.bundler.Build(bundler.Options{
		Prompt:       args.Prompt,
		Budget:       bundler.Budget{MaxFiles: maxFiles, MaxTotalLines: maxTotalLines},
		Strategy:     strategy,
		IncludeTests: args.IncludeTests,
	})
	if err != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "failed to build context bundle", err)
	}

	if persistErr := persistLastBundle(s.cfg.DataDir, bundle); persistErr != nil {
		s.logger.Warn("failed to persist last bundle", "error", persistErr.Error())
	}

	return map[string]interface{}{
		"bundle_id":          bundle.BundleID,
		"prompt_fingerprint": bundle.PromptFingerprint,
		"strategy":           strategy,
		"budget":             args.Budget,
		"totals":             bundle.Totals,
		"selections":         bundle.Selections,
		"audit": map[string]interface{}{
			"selection_debug": map[string]interface{}{
				"why_not_selected_summary": map[string]interface{}{
					"top_skipped": bundle.WhyNotSelectedSummary,
				},
			},
		},
	}, nil, nil
}

// --- repo.refresh_index ---

type refreshArgs struct {
	Force bool `json:"force"`
}

func toolRefreshIndex(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args refreshArgs
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}

	result, err := s.store.Refresh(s.sb, s.cfg, args.Force)
	if err != nil {
		if re, ok := rerrors.As(err); ok {
			return nil, nil, re
		}
		return nil, nil, rerrors.NewInternal(rerrors.IndexCorrupt, "index refresh failed", err)
	}

	return map[string]interface{}{
		"added":       result.Added,
		"updated":     result.Updated,
		"removed":     result.Removed,
		"duration_ms": result.DurationMs,
		"timestamp":   result.Timestamp,
	}, nil, nil
}

// --- repo.audit_log ---

type auditLogArgs struct {
	Since string `json:"since"`
	Limit int    `json:"limit"`
}

func toolAuditLog(s *Server, raw json.RawMessage) (interface{}, []string, *rerrors.ReposcopeError) {
	var args auditLogArgs
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}

	since := parseSinceOrZero(args.Since)
	events, err := readAuditSince(s.cfg.DataDir, since, args.Limit)
	if err != nil {
		return nil, nil, rerrors.NewInternal(rerrors.IOError, "failed to read audit log", err)
	}

	return map[string]interface{}{"events": events}, nil, nil
}
