package envelope

import (
	rerrors "reposcope/internal/errors"
)

// Builder constructs a Response with a small fluent API so tool handlers
// never hand-assemble the envelope shape themselves.
type Builder struct {
	resp *Response
}

// New starts a Response for the given request id.
func New(requestID interface{}) *Builder {
	return &Builder{resp: &Response{RequestID: requestID, Warnings: []Warning{}}}
}

// Ok sets a successful result payload.
func (b *Builder) Ok(result interface{}) *Builder {
	b.resp.OK = true
	b.resp.Result = result
	return b
}

// Warn appends a non-fatal warning without affecting ok/blocked.
func (b *Builder) Warn(code, message string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Code: code, Message: message})
	return b
}

// FromError populates the envelope from a ReposcopeError: sandbox/limit
// errors become a blocked response with {reason, hint} as the result;
// validation and internal errors become a plain error response.
func (b *Builder) FromError(err *rerrors.ReposcopeError) *Builder {
	b.resp.OK = false
	b.resp.Error = &ErrorInfo{Code: string(err.Code), Message: err.Message}

	if err.Blocked() {
		b.resp.Blocked = true
		b.resp.Result = map[string]string{
			"reason": err.Message,
			"hint":   err.Hint,
		}
	}
	return b
}

// Build returns the assembled Response.
func (b *Builder) Build() *Response {
	return b.resp
}
