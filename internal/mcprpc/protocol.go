// Package mcprpc implements the newline-delimited JSON request/response
// loop reposcope speaks on stdin/stdout: one request object per line, one
// response envelope per line, dispatched across a fixed tool surface.
package mcprpc

import "encoding/json"

// Request is one incoming line. Both the direct form {id, method, params}
// and the tool-call form {id, method:"tools/call", params:{name, arguments}}
// are accepted; ResolveTool normalizes the two.
type Request struct {
	ID     interface{}     `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// toolCallParams is the params shape for the method:"tools/call" form.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResolveTool extracts the tool name and its argument payload from a
// request, handling both accepted request shapes.
func ResolveTool(req Request) (name string, args json.RawMessage, ok bool) {
	if req.Method != "tools/call" {
		return req.Method, req.Params, req.Method != ""
	}
	var call toolCallParams
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return "", nil, false
	}
	return call.Name, call.Arguments, call.Name != ""
}
