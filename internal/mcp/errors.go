// Package mcp implements the Model Context Protocol server for llmdoc.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/store"
)

// MCP error codes. Custom codes live below -32000 per JSON-RPC convention.
const (
	// ErrCodeDocNotFound indicates the requested document URL is unknown.
	ErrCodeDocNotFound = -32001

	// ErrCodeNoMatch indicates an excerpt query matched nothing.
	ErrCodeNoMatch = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ToolError is an MCP protocol error with a code and human-readable message.
type ToolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to protocol errors. The original error
// text is preserved for NotFound and NoMatch so clients see the URL or
// query that failed.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return &ToolError{Code: ErrCodeDocNotFound, Message: err.Error()}
	case errors.Is(err, app.ErrNoMatch):
		return &ToolError{Code: ErrCodeNoMatch, Message: err.Error()}
	case errors.Is(err, store.ErrLocked):
		return &ToolError{Code: ErrCodeInternalError, Message: "Database is locked by another writer."}
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &ToolError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &ToolError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an invalid-parameters error with a custom
// message.
func NewInvalidParamsError(msg string) *ToolError {
	return &ToolError{Code: ErrCodeInvalidParams, Message: msg}
}
