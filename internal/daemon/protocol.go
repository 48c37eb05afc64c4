package daemon

import (
	"time"

	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/indexer"
	"github.com/tabsense/tabsense/internal/tabs"
	"github.com/tabsense/tabsense/internal/validation"
)

// JSON-RPC 2.0 method names. The engine methods (engine.init,
// engine.embed, engine.embedBatch, engine.status) are declared in the
// embed package, shared with the remote engine proxy.
const (
	MethodPing     = "ping"
	MethodStatus   = "status"
	MethodShutdown = "shutdown"

	MethodSearch         = "index.search"
	MethodIndexDocument  = "index.document"
	MethodRemoveDocument = "index.remove"
	MethodRebuild        = "index.rebuild"
	MethodStats          = "index.stats"

	MethodTabEvent = "tabs.event"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific failures.
const (
	// ErrCodeNotReady signals the engine or index is not initialized;
	// remote proxies react with the re-initialization handshake.
	ErrCodeNotReady = -32001

	// ErrCodeOperationFailed covers application errors that are neither
	// a not-ready condition nor a client mistake.
	ErrCodeOperationFailed = -32002
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    *ErrorDetail `json:"data,omitempty"`
}

// ErrorDetail carries the structured error taxonomy across the wire,
// so a client process classifies failures exactly like an in-process
// caller would.
type ErrorDetail struct {
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Err converts a wire error back into the in-process taxonomy. Errors
// without detail data are mapped from their JSON-RPC code.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	if e.Data != nil && e.Data.Code != "" {
		te := errors.New(e.Data.Code, e.Message, nil)
		if e.Data.Suggestion != "" {
			te = te.WithSuggestion(e.Data.Suggestion)
		}
		return te
	}
	switch e.Code {
	case ErrCodeNotReady:
		return errors.NotReadyError(e.Message, nil)
	case ErrCodeParseError, ErrCodeInvalidRequest, ErrCodeInvalidParams, ErrCodeMethodNotFound:
		return errors.ValidationError(e.Message, nil)
	default:
		return errors.InternalError(e.Message, nil)
	}
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response with a bare JSON-RPC code.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// NewTabErrorResponse creates an error response from an application
// error, preserving the taxonomy code in the error data. The wire
// message is the bare message; clients re-prefix the code when they
// rebuild the error.
func NewTabErrorResponse(id string, err error) Response {
	wireErr := &Error{
		Code:    ErrCodeOperationFailed,
		Message: err.Error(),
	}
	if te, ok := err.(*errors.TabError); ok {
		wireErr.Message = te.Message
		wireErr.Data = &ErrorDetail{
			Code:       te.Code,
			Suggestion: te.Suggestion,
		}
		switch {
		case errors.IsNotReady(err):
			wireErr.Code = ErrCodeNotReady
		case te.Category == errors.CategoryValidation:
			wireErr.Code = ErrCodeInvalidParams
		}
	}
	return Response{
		JSONRPC: "2.0",
		Error:   wireErr,
		ID:      id,
	}
}

// SearchParams are the parameters for the index.search method.
type SearchParams struct {
	// Query is the natural-language search query (required).
	Query string `json:"query"`

	// TopK is the maximum number of tabs to return (default: 10).
	TopK int `json:"top_k,omitempty"`
}

// Validate checks that required fields are present and within bounds.
func (p *SearchParams) Validate() error {
	if err := validation.CheckQuery(p.Query); err != nil {
		return err
	}
	// Correct a negative count; the indexer applies the default
	if p.TopK < 0 {
		p.TopK = 0
	}
	return validation.CheckTopK(p.TopK)
}

// DocumentParams identify one tab for index.document / index.remove.
type DocumentParams struct {
	OwnerID string `json:"owner_id"`
}

// Validate checks that required fields are present.
func (p *DocumentParams) Validate() error {
	return validation.CheckOwnerID(p.OwnerID)
}

// TabSnapshot is the wire form of an extracted page snapshot.
type TabSnapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// TabEventParams carry one tab lifecycle notification over the socket.
type TabEventParams struct {
	Kind    string `json:"kind"`
	OwnerID string `json:"owner_id"`

	// Snapshot accompanies content-stable events.
	Snapshot *TabSnapshot `json:"snapshot,omitempty"`
}

// Validate checks the event kind and owner.
func (p *TabEventParams) Validate() error {
	if err := validation.CheckOwnerID(p.OwnerID); err != nil {
		return err
	}
	if _, err := tabs.ParseEventKind(p.Kind); err != nil {
		return err
	}
	return nil
}

// Event converts the wire parameters into a bus event.
func (p *TabEventParams) Event() (tabs.Event, error) {
	kind, err := tabs.ParseEventKind(p.Kind)
	if err != nil {
		return tabs.Event{}, err
	}
	ev := tabs.Event{Kind: kind, OwnerID: p.OwnerID}
	if p.Snapshot != nil {
		snap := tabs.Snapshot{
			OwnerID:    p.OwnerID,
			URL:        p.Snapshot.URL,
			Title:      p.Snapshot.Title,
			Text:       p.Snapshot.Text,
			CapturedAt: p.Snapshot.CapturedAt,
		}
		if snap.CapturedAt.IsZero() {
			snap.CapturedAt = time.Now()
		}
		ev.Snapshot = &snap
	}
	return ev, nil
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// AckResult acknowledges a request that produces no data.
type AckResult struct {
	OK bool `json:"ok"`
}

// StatusResult describes the running daemon.
type StatusResult struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Socket  string `json:"socket"`

	Engine embed.EngineStatus `json:"engine"`
	Index  indexer.Stats      `json:"index"`
}
