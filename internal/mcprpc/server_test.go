package mcprpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reposcope/internal/audit"
	"reposcope/internal/config"
	"reposcope/internal/envelope"
	"reposcope/internal/index"
	"reposcope/internal/logging"
	"reposcope/internal/sandbox"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("def foo():\n    return 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "b.py"), []byte("import a\n\ndef use():\n    return a.foo()\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0644); err != nil {
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

	w, err := audit.Open(filepath.Join(cfg.DataDir, "audit.jsonl"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })

	return New(sb, cfg, store, w, logging.NewDiscardLogger())
}

func callTool(t *testing.T, s *Server, id interface{}, method string, params interface{}) *envelope.Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = data
	}
	return s.handle(Request{ID: id, Method: method, Params: raw})
}

func callToolCallForm(t *testing.T, s *Server, id interface{}, name string, args interface{}) *envelope.Response {
	t.Helper()
	argData, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	call := toolCallParams{Name: name, Arguments: argData}
	params, err := json.Marshal(call)
	if err != nil {
		t.Fatal(err)
	}
	return s.handle(Request{ID: id, Method: "tools/call", Params: params})
}

func TestScenario_RefreshThenReferences(t *testing.T) {
	s := newTestServer(t)

	refreshResp := callTool(t, s, "1", "repo.refresh_index", map[string]bool{"force": true})
	if !refreshResp.OK {
		t.Fatalf("refresh_index failed: %+v", refreshResp)
	}
	result := refreshResp.Result.(map[string]interface{})
	if result["added"].(int) < 2 {
		t.Errorf("expected added >= 2, got %v", result["added"])
	}
	if result["updated"].(int) != 0 || result["removed"].(int) != 0 {
		t.Errorf("expected updated=removed=0 on first index, got %+v", result)
	}

	refResp := callTool(t, s, "2", "repo.references", map[string]string{"symbol": "foo"})
	if !refResp.OK {
		t.Fatalf("references failed: %+v", refResp)
	}
	refs := refResp.Result.(map[string]interface{})["references"]
	data, _ := json.Marshal(refs)
	if !strings.Contains(string(data), `"path":"src/b.py"`) {
		t.Errorf("expected a reference in src/b.py, got %s", data)
	}
	if !strings.Contains(string(data), `"strategy":"ast"`) {
		t.Errorf("expected an ast-strategy reference, got %s", data)
	}
}

func TestScenario_PathTraversalBlocked(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "3", "repo.open_file", map[string]interface{}{"path": "../etc/passwd", "start_line": 1})
	if !resp.Blocked {
		t.Fatalf("expected blocked=true, got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Code != "PATH_TRAVERSAL" {
		t.Errorf("expected PATH_TRAVERSAL, got %+v", resp.Error)
	}
}

func TestScenario_DenylistedFileBlocked(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "4", "repo.open_file", map[string]interface{}{"path": ".env", "start_line": 1})
	if !resp.Blocked {
		t.Fatalf("expected blocked=true, got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Code != "DENYLISTED" {
		t.Errorf("expected DENYLISTED, got %+v", resp.Error)
	}
}

func TestScenario_SearchIsDeterministic(t *testing.T) {
	s := newTestServer(t)
	callTool(t, s, "5", "repo.refresh_index", map[string]bool{"force": true})

	first := callTool(t, s, "6", "repo.search", map[string]interface{}{"query": "foo", "mode": "bm25", "top_k": 3})
	second := callTool(t, s, "7", "repo.search", map[string]interface{}{"query": "foo", "mode": "bm25", "top_k": 3})

	firstData, _ := json.Marshal(first.Result)
	secondData, _ := json.Marshal(second.Result)
	if string(firstData) != string(secondData) {
		t.Errorf("search results not deterministic:\n%s\nvs\n%s", firstData, secondData)
	}
}

func TestScenario_BundleRespectsBudget(t *testing.T) {
	s := newTestServer(t)
	callTool(t, s, "8", "repo.refresh_index", map[string]bool{"force": true})

	resp := callTool(t, s, "9", "repo.build_context_bundle", map[string]interface{}{
		"prompt":        "explain bundle selection",
		"budget":        map[string]int{"max_files": 3, "max_total_lines": 120},
		"strategy":      "hybrid",
		"include_tests": false,
	})
	if !resp.OK {
		t.Fatalf("build_context_bundle failed: %+v", resp)
	}
	result := resp.Result.(map[string]interface{})
	totals := result["totals"]
	data, _ := json.Marshal(totals)
	var parsed struct {
		Files int `json:"files"`
		Lines int `json:"lines"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Files > 3 {
		t.Errorf("files = %d, want <= 3", parsed.Files)
	}
	if parsed.Lines > 120 {
		t.Errorf("lines = %d, want <= 120", parsed.Lines)
	}
}

func TestUnknownToolReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "10", "repo.does_not_exist", nil)
	if resp.OK {
		t.Fatal("expected ok=false for an unknown tool")
	}
	if resp.Error == nil || resp.Error.Code != "UNKNOWN_TOOL" {
		t.Errorf("expected UNKNOWN_TOOL, got %+v", resp.Error)
	}
}

func TestToolCallForm(t *testing.T) {
	s := newTestServer(t)
	resp := callToolCallForm(t, s, "11", "repo.status", map[string]interface{}{})
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
}

func TestServe_ReadsNDJSONLines(t *testing.T) {
	s := newTestServer(t)
	var in bytes.Buffer
	var out bytes.Buffer

	in.WriteString(`{"id":"1","method":"repo.status","params":{}}` + "\n")
	s.SetIO(&in, &out)
	if err := s.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatal("expected one response line")
	}
	var resp envelope.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.OK {
		t.Errorf("expected ok=true, got %+v", resp)
	}
}
