package daemon

import (
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/tabs"
)

func TestRequest_JSON(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params: SearchParams{
			Query: "test query",
			TopK:  10,
		},
		ID: "req-1",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, MethodSearch, decoded.Method)
	assert.Equal(t, "req-1", decoded.ID)
}

func TestResponse_Success(t *testing.T) {
	resp := NewSuccessResponse("req-1", PingResult{Pong: true})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.NotNil(t, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestResponse_Error(t *testing.T) {
	resp := NewErrorResponse("req-1", ErrCodeInvalidParams, "invalid query")

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "invalid query", resp.Error.Message)
}

func TestSearchParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  SearchParams
		wantErr bool
	}{
		{
			name:    "valid params",
			params:  SearchParams{Query: "test", TopK: 10},
			wantErr: false,
		},
		{
			name:    "empty query",
			params:  SearchParams{Query: ""},
			wantErr: true,
		},
		{
			name:    "zero top k uses default",
			params:  SearchParams{Query: "test"},
			wantErr: false,
		},
		{
			name:    "negative top k is corrected",
			params:  SearchParams{Query: "test", TopK: -1},
			wantErr: false,
		},
		{
			name:    "top k above the cap",
			params:  SearchParams{Query: "test", TopK: 500},
			wantErr: true,
		},
		{
			name:    "whitespace query",
			params:  SearchParams{Query: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, tt.params.TopK, 0)
			}
		})
	}
}

func TestDocumentParams_Validate(t *testing.T) {
	valid := DocumentParams{OwnerID: "tab-42"}
	assert.NoError(t, valid.Validate())

	empty := DocumentParams{}
	assert.Error(t, empty.Validate())
}

func TestTabEventParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  TabEventParams
		wantErr bool
	}{
		{
			name:    "opened",
			params:  TabEventParams{Kind: "opened", OwnerID: "tab-1"},
			wantErr: false,
		},
		{
			name: "content stable with snapshot",
			params: TabEventParams{
				Kind:     "content-stable",
				OwnerID:  "tab-1",
				Snapshot: &TabSnapshot{URL: "https://example.com", Title: "Example", Text: "body"},
			},
			wantErr: false,
		},
		{
			name:    "closed",
			params:  TabEventParams{Kind: "closed", OwnerID: "tab-1"},
			wantErr: false,
		},
		{
			name:    "navigated away",
			params:  TabEventParams{Kind: "navigated-away", OwnerID: "tab-1"},
			wantErr: false,
		},
		{
			name:    "missing owner",
			params:  TabEventParams{Kind: "opened"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			params:  TabEventParams{Kind: "minimized", OwnerID: "tab-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTabEventParams_Event(t *testing.T) {
	captured := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	params := TabEventParams{
		Kind:    "content-stable",
		OwnerID: "tab-7",
		Snapshot: &TabSnapshot{
			URL:        "https://example.com/docs",
			Title:      "Docs",
			Text:       "documentation body",
			CapturedAt: captured,
		},
	}

	ev, err := params.Event()
	require.NoError(t, err)

	assert.Equal(t, tabs.EventContentStable, ev.Kind)
	assert.Equal(t, "tab-7", ev.OwnerID)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, "tab-7", ev.Snapshot.OwnerID)
	assert.Equal(t, "https://example.com/docs", ev.Snapshot.URL)
	assert.Equal(t, captured, ev.Snapshot.CapturedAt)
}

func TestTabEventParams_Event_FillsCaptureTime(t *testing.T) {
	params := TabEventParams{
		Kind:     "content-stable",
		OwnerID:  "tab-7",
		Snapshot: &TabSnapshot{URL: "https://example.com", Title: "Example", Text: "body"},
	}

	ev, err := params.Event()
	require.NoError(t, err)
	require.NotNil(t, ev.Snapshot)
	assert.False(t, ev.Snapshot.CapturedAt.IsZero())
}

func TestTabEventParams_Event_NoSnapshot(t *testing.T) {
	params := TabEventParams{Kind: "closed", OwnerID: "tab-7"}

	ev, err := params.Event()
	require.NoError(t, err)
	assert.Equal(t, tabs.EventClosed, ev.Kind)
	assert.Nil(t, ev.Snapshot)
}

func TestNewTabErrorResponse_PlainError(t *testing.T) {
	resp := NewTabErrorResponse("req-1", stderrors.New("something broke"))

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeOperationFailed, resp.Error.Code)
	assert.Equal(t, "something broke", resp.Error.Message)
	assert.Nil(t, resp.Error.Data)
}

func TestNewTabErrorResponse_TabError(t *testing.T) {
	te := errors.New(errors.ErrCodeSearchFailed, "search failed", nil).
		WithSuggestion("try a shorter query")

	resp := NewTabErrorResponse("req-1", te)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeOperationFailed, resp.Error.Code)
	// Wire message is the bare message; clients re-prefix the code.
	assert.Equal(t, "search failed", resp.Error.Message)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, errors.ErrCodeSearchFailed, resp.Error.Data.Code)
	assert.Equal(t, "try a shorter query", resp.Error.Data.Suggestion)
}

func TestNewTabErrorResponse_NotReady(t *testing.T) {
	te := errors.NotReadyError("engine is loading", nil)

	resp := NewTabErrorResponse("req-1", te)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotReady, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, errors.ErrCodeEngineNotReady, resp.Error.Data.Code)
}

func TestNewTabErrorResponse_Validation(t *testing.T) {
	te := errors.ValidationError("query is required", nil)

	resp := NewTabErrorResponse("req-1", te)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestError_Err_RebuildsTaxonomy(t *testing.T) {
	wire := &Error{
		Code:    ErrCodeNotReady,
		Message: "engine is loading",
		Data: &ErrorDetail{
			Code:       errors.ErrCodeEngineNotReady,
			Suggestion: "wait for initialization",
		},
	}

	err := wire.Err()
	require.Error(t, err)
	assert.True(t, errors.IsNotReady(err))
	assert.Equal(t, errors.ErrCodeEngineNotReady, errors.GetCode(err))

	te, ok := err.(*errors.TabError)
	require.True(t, ok)
	assert.Equal(t, "wait for initialization", te.Suggestion)
}

func TestError_Err_MapsBareCodes(t *testing.T) {
	notReady := (&Error{Code: ErrCodeNotReady, Message: "not ready"}).Err()
	assert.True(t, errors.IsNotReady(notReady))

	invalid := (&Error{Code: ErrCodeInvalidParams, Message: "bad params"}).Err()
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(invalid))

	internal := (&Error{Code: ErrCodeInternalError, Message: "boom"}).Err()
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(internal))

	var none *Error
	assert.NoError(t, none.Err())
}

func TestError_Err_SurvivesWireRoundTrip(t *testing.T) {
	resp := NewTabErrorResponse("req-1", errors.NotReadyError("engine is loading", nil))

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Error)

	rebuilt := decoded.Error.Err()
	assert.True(t, errors.IsNotReady(rebuilt))
}

func TestMethodConstants(t *testing.T) {
	assert.Equal(t, "ping", MethodPing)
	assert.Equal(t, "status", MethodStatus)
	assert.Equal(t, "shutdown", MethodShutdown)
	assert.Equal(t, "index.search", MethodSearch)
	assert.Equal(t, "index.document", MethodIndexDocument)
	assert.Equal(t, "index.remove", MethodRemoveDocument)
	assert.Equal(t, "index.rebuild", MethodRebuild)
	assert.Equal(t, "index.stats", MethodStats)
	assert.Equal(t, "tabs.event", MethodTabEvent)
}

func TestErrorCodes(t *testing.T) {
	// Standard JSON-RPC error codes
	assert.Equal(t, -32700, ErrCodeParseError)
	assert.Equal(t, -32600, ErrCodeInvalidRequest)
	assert.Equal(t, -32601, ErrCodeMethodNotFound)
	assert.Equal(t, -32602, ErrCodeInvalidParams)
	assert.Equal(t, -32603, ErrCodeInternalError)

	// Custom error codes
	assert.Equal(t, -32001, ErrCodeNotReady)
	assert.Equal(t, -32002, ErrCodeOperationFailed)
}
