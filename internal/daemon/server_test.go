package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/indexer"
)

// stubHandler is a minimal RequestHandler for server tests.
type stubHandler struct {
	mu            sync.Mutex
	searchResults []indexer.Result
	searchErr     error
	events        []TabEventParams
	shutdowns     int
}

func (h *stubHandler) HandleEngineInit(_ context.Context) (embed.EngineStatus, error) {
	return embed.EngineStatus{State: "ready"}, nil
}

func (h *stubHandler) HandleEngineStatus(_ context.Context) (embed.EngineStatus, error) {
	return embed.EngineStatus{State: "ready", Model: "stub", Dimensions: 4}, nil
}

func (h *stubHandler) HandleEmbed(_ context.Context, _ embed.EmbedParams) (embed.EmbedResult, error) {
	return embed.EmbedResult{Embedding: make([]float32, 4), Model: "stub", Dimensions: 4}, nil
}

func (h *stubHandler) HandleEmbedBatch(_ context.Context, params embed.EmbedBatchParams) (embed.EmbedBatchResult, error) {
	vecs := make([][]float32, len(params.Texts))
	for i := range vecs {
		vecs[i] = make([]float32, 4)
	}
	return embed.EmbedBatchResult{Embeddings: vecs, Model: "stub", Dimensions: 4}, nil
}

func (h *stubHandler) HandleSearch(_ context.Context, _ SearchParams) ([]indexer.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.searchResults, h.searchErr
}

func (h *stubHandler) HandleIndexDocument(_ context.Context, _ DocumentParams) error { return nil }

func (h *stubHandler) HandleRemoveDocument(_ context.Context, _ DocumentParams) error { return nil }

func (h *stubHandler) HandleRebuild(_ context.Context) error { return nil }

func (h *stubHandler) HandleStats(_ context.Context) (indexer.Stats, error) {
	return indexer.Stats{TotalDocuments: 2, TotalOwners: 2, Ready: true}, nil
}

func (h *stubHandler) HandleTabEvent(_ context.Context, params TabEventParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, params)
	return nil
}

func (h *stubHandler) GetStatus() StatusResult {
	return StatusResult{Running: true, Engine: embed.EngineStatus{State: "ready", Model: "stub"}}
}

func (h *stubHandler) RequestShutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdowns++
}

func (h *stubHandler) shutdownCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdowns
}

// serverTestSocketPath creates a unique socket path for server tests.
func serverTestSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("tabsense-server-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// startTestServer runs a server with the given handler until test end.
func startTestServer(t *testing.T, handler RequestHandler) string {
	t.Helper()
	socketPath := serverTestSocketPath(t)

	srv := NewServer(socketPath, 5*time.Second, 2*time.Second)
	srv.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()

	waitForSocket(t, socketPath)
	return socketPath
}

// waitForSocket polls until the server accepts connections.
func waitForSocket(t *testing.T, socketPath string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "server did not start listening")
}

// sendRequest performs one request round-trip over a fresh connection.
func sendRequest(t *testing.T, socketPath string, req Request) Response {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestNewServer(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	srv := NewServer(socketPath, 0, 0)
	assert.NotNil(t, srv)
	assert.Equal(t, socketPath, srv.socketPath)
	// Zero timeout falls back to the default
	assert.Equal(t, 30*time.Second, srv.timeout)
}

func TestServer_ListenAndServe(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	srv := NewServer(socketPath, 5*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	waitForSocket(t, socketPath)

	_, err := os.Stat(socketPath)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_HandlePing(t *testing.T) {
	// Ping is served even without a handler
	socketPath := serverTestSocketPath(t)
	srv := NewServer(socketPath, 5*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodPing, ID: "test-1"})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "test-1", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestServer_HandleStatus(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "test-2"})

	require.Nil(t, resp.Error)

	var status StatusResult
	require.NoError(t, decodeParams(resp.Result, &status))
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, "stub", status.Engine.Model)
}

func TestServer_HandleShutdown(t *testing.T) {
	handler := &stubHandler{}
	socketPath := startTestServer(t, handler)

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodShutdown, ID: "test-3"})

	require.Nil(t, resp.Error)
	assert.Equal(t, 1, handler.shutdownCount())
}

func TestServer_HandleUnknownMethod(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: "unknownMethod", ID: "test-4"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_NoHandler(t *testing.T) {
	socketPath := serverTestSocketPath(t)
	srv := NewServer(socketPath, 5*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodSearch, ID: "test-5"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestServer_InvalidJSON(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_Search(t *testing.T) {
	handler := &stubHandler{
		searchResults: []indexer.Result{
			{OwnerID: "tab-1", Title: "Example", URL: "https://example.com", Similarity: 0.91},
		},
	}
	socketPath := startTestServer(t, handler)

	resp := sendRequest(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  SearchParams{Query: "example", TopK: 5},
		ID:      "test-6",
	})

	require.Nil(t, resp.Error)

	var results []indexer.Result
	require.NoError(t, decodeParams(resp.Result, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "tab-1", results[0].OwnerID)
	assert.InDelta(t, 0.91, results[0].Similarity, 0.001)
}

func TestServer_Search_InvalidParams(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	resp := sendRequest(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  SearchParams{Query: ""},
		ID:      "test-7",
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestServer_Search_HandlerError(t *testing.T) {
	handler := &stubHandler{searchErr: errors.NotReadyError("engine is loading", nil)}
	socketPath := startTestServer(t, handler)

	resp := sendRequest(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  SearchParams{Query: "example"},
		ID:      "test-8",
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotReady, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, errors.ErrCodeEngineNotReady, resp.Error.Data.Code)
}

func TestServer_TabEvent(t *testing.T) {
	handler := &stubHandler{}
	socketPath := startTestServer(t, handler)

	resp := sendRequest(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodTabEvent,
		Params: TabEventParams{
			Kind:     "content-stable",
			OwnerID:  "tab-9",
			Snapshot: &TabSnapshot{URL: "https://example.com", Title: "Example", Text: "body"},
		},
		ID: "test-9",
	})

	require.Nil(t, resp.Error)

	var ack AckResult
	require.NoError(t, decodeParams(resp.Result, &ack))
	assert.True(t, ack.OK)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.events, 1)
	assert.Equal(t, "tab-9", handler.events[0].OwnerID)
}

func TestServer_TabEvent_UnknownKind(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	resp := sendRequest(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodTabEvent,
		Params:  TabEventParams{Kind: "minimized", OwnerID: "tab-9"},
		ID:      "test-10",
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestServer_Stats(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStats, ID: "test-11"})

	require.Nil(t, resp.Error)

	var stats indexer.Stats
	require.NoError(t, decodeParams(resp.Result, &stats))
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.True(t, stats.Ready)
}

func TestServer_CleansUpSocket(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	srv := NewServer(socketPath, 5*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	waitForSocket(t, socketPath)

	_, err := os.Stat(socketPath)
	require.NoError(t, err)

	cancel()
	<-errCh

	assert.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "socket should be cleaned up")
}

func TestServer_StaleSocketReplaced(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	// Leftover socket file from a crashed daemon
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0644))

	srv := NewServer(socketPath, 5*time.Second, time.Second)
	srv.SetHandler(&stubHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	waitForSocket(t, socketPath)

	resp := sendRequest(t, socketPath, Request{JSONRPC: "2.0", Method: MethodPing, ID: "test-12"})
	assert.Nil(t, resp.Error)
}

func TestServer_ConcurrentConnections(t *testing.T) {
	socketPath := startTestServer(t, &stubHandler{})

	const numClients = 5
	done := make(chan bool, numClients)

	for i := 0; i < numClients; i++ {
		go func(id int) {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				done <- false
				return
			}
			defer conn.Close()

			req := Request{
				JSONRPC: "2.0",
				Method:  MethodPing,
				ID:      fmt.Sprintf("client-%d", id),
			}

			if err := json.NewEncoder(conn).Encode(req); err != nil {
				done <- false
				return
			}

			var resp Response
			if err := json.NewDecoder(conn).Decode(&resp); err != nil {
				done <- false
				return
			}

			done <- resp.Error == nil
		}(i)
	}

	successCount := 0
	for i := 0; i < numClients; i++ {
		if <-done {
			successCount++
		}
	}

	assert.Equal(t, numClients, successCount, "all clients should succeed")
}
