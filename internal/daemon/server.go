package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/indexer"
)

// rebuildTimeout replaces the per-connection deadline for index.rebuild
// requests; a full rebuild re-embeds every document and can outlast the
// normal request timeout by minutes.
const rebuildTimeout = 10 * time.Minute

// RequestHandler handles incoming RPC requests. The Daemon implements
// it; server tests substitute a stub.
type RequestHandler interface {
	HandleEngineInit(ctx context.Context) (embed.EngineStatus, error)
	HandleEngineStatus(ctx context.Context) (embed.EngineStatus, error)
	HandleEmbed(ctx context.Context, params embed.EmbedParams) (embed.EmbedResult, error)
	HandleEmbedBatch(ctx context.Context, params embed.EmbedBatchParams) (embed.EmbedBatchResult, error)

	HandleSearch(ctx context.Context, params SearchParams) ([]indexer.Result, error)
	HandleIndexDocument(ctx context.Context, params DocumentParams) error
	HandleRemoveDocument(ctx context.Context, params DocumentParams) error
	HandleRebuild(ctx context.Context) error
	HandleStats(ctx context.Context) (indexer.Stats, error)

	HandleTabEvent(ctx context.Context, params TabEventParams) error

	GetStatus() StatusResult
	RequestShutdown()
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	grace      time.Duration
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
// timeout bounds each connection; grace bounds the shutdown drain
// (zero means wait indefinitely).
func NewServer(socketPath string, timeout, grace time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
		grace:      grace,
	}
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	// Clean up socket on exit
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("Server listening", slog.String("socket", s.socketPath))

	// Handle shutdown
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("Accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish, bounded by the grace period
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if s.grace > 0 {
		select {
		case <-done:
		case <-time.After(s.grace):
			slog.Warn("Shutdown grace period elapsed with connections still active")
		}
	} else {
		<-done
	}

	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("Failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	// A rebuild holds the connection far longer than the request timeout
	if req.Method == MethodRebuild {
		if err := conn.SetDeadline(time.Now().Add(rebuildTimeout)); err != nil {
			slog.Warn("Failed to extend connection deadline", slog.String("error", err.Error()))
		}
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())

	case MethodShutdown:
		if s.handler != nil {
			s.handler.RequestShutdown()
		}
		return NewSuccessResponse(req.ID, AckResult{OK: true})
	}

	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no request handler configured")
	}

	switch req.Method {
	case embed.MethodEngineInit:
		return s.handleEngineInit(ctx, req)

	case embed.MethodEngineStatus:
		return s.handleEngineStatus(ctx, req)

	case embed.MethodEngineEmbed:
		return s.handleEmbed(ctx, req)

	case embed.MethodEngineEmbedBatch:
		return s.handleEmbedBatch(ctx, req)

	case MethodSearch:
		return s.handleSearch(ctx, req)

	case MethodIndexDocument:
		return s.handleIndexDocument(ctx, req)

	case MethodRemoveDocument:
		return s.handleRemoveDocument(ctx, req)

	case MethodRebuild:
		return s.handleRebuild(ctx, req)

	case MethodStats:
		return s.handleStats(ctx, req)

	case MethodTabEvent:
		return s.handleTabEvent(ctx, req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-marshals loosely typed request params into dst.
func decodeParams(raw, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

func (s *Server) handleEngineInit(ctx context.Context, req Request) Response {
	status, err := s.handler.HandleEngineInit(ctx)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, status)
}

func (s *Server) handleEngineStatus(ctx context.Context, req Request) Response {
	status, err := s.handler.HandleEngineStatus(ctx)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, status)
}

func (s *Server) handleEmbed(ctx context.Context, req Request) Response {
	var params embed.EmbedParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleEmbed(ctx, params)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleEmbedBatch(ctx context.Context, req Request) Response {
	var params embed.EmbedBatchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := s.handler.HandleEmbedBatch(ctx, params)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleSearch(ctx context.Context, req Request) Response {
	var params SearchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	results, err := s.handler.HandleSearch(ctx, params)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, results)
}

func (s *Server) handleIndexDocument(ctx context.Context, req Request) Response {
	var params DocumentParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := s.handler.HandleIndexDocument(ctx, params); err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (s *Server) handleRemoveDocument(ctx context.Context, req Request) Response {
	var params DocumentParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := s.handler.HandleRemoveDocument(ctx, params); err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (s *Server) handleRebuild(ctx context.Context, req Request) Response {
	if err := s.handler.HandleRebuild(ctx); err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (s *Server) handleStats(ctx context.Context, req Request) Response {
	stats, err := s.handler.HandleStats(ctx)
	if err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, stats)
}

func (s *Server) handleTabEvent(ctx context.Context, req Request) Response {
	var params TabEventParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := s.handler.HandleTabEvent(ctx, params); err != nil {
		return NewTabErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

// getStatus returns the current server status.
func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Socket:  s.socketPath,
	}

	if s.handler != nil {
		handlerStatus := s.handler.GetStatus()
		status.Engine = handlerStatus.Engine
		status.Index = handlerStatus.Index
	}

	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
