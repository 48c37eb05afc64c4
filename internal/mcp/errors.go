// Package mcp implements the Model Context Protocol server for
// tabsense. It is a thin client of the daemon: every tool call turns
// into a JSON-RPC request over the Unix socket.
package mcp

import (
	"context"
	"errors"
	"fmt"

	taberrors "github.com/tabsense/tabsense/internal/errors"
)

// Tool error codes in the application range, plus the standard
// JSON-RPC codes.
const (
	// ErrCodeDaemonUnavailable indicates the daemon is not reachable.
	ErrCodeDaemonUnavailable = -32001

	// ErrCodeEngineNotReady indicates the embedding engine is still
	// initializing.
	ErrCodeEngineNotReady = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Structured errors
// keep their message and suggestion; unknown errors get a generic
// message so internals never leak to the AI client.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var te *taberrors.TabError
	if errors.As(err, &te) {
		return mapTabError(te)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a
// custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapTabError converts a TabError to an MCPError. The suggestion is
// appended to the message because MCP tool errors carry no structured
// detail field the client is guaranteed to surface.
func mapTabError(te *taberrors.TabError) *MCPError {
	message := te.Message
	if te.Suggestion != "" {
		message = fmt.Sprintf("%s %s", te.Message, te.Suggestion)
	}

	switch {
	case te.Code == taberrors.ErrCodeDaemonUnavailable:
		return &MCPError{
			Code:    ErrCodeDaemonUnavailable,
			Message: message,
		}
	case taberrors.IsNotReady(te):
		return &MCPError{
			Code:    ErrCodeEngineNotReady,
			Message: message,
		}
	}

	switch te.Category {
	case taberrors.CategoryValidation:
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: message,
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: message,
		}
	}
}
