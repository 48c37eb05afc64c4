package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/indexer"
	"github.com/tabsense/tabsense/pkg/version"
)

// DaemonCaller is the daemon surface the tools need. *daemon.Client
// implements it; tests substitute a stub.
type DaemonCaller interface {
	IsRunning() bool
	Search(ctx context.Context, query string, topK int) ([]indexer.Result, error)
	IndexTab(ctx context.Context, ownerID string) error
	RemoveTab(ctx context.Context, ownerID string) error
	Rebuild(ctx context.Context) error
	Status(ctx context.Context) (*daemon.StatusResult, error)
}

// Server is the MCP server for tabsense. It bridges AI clients with
// the tab index owned by the daemon.
type Server struct {
	mcp    *mcp.Server
	daemon DaemonCaller
	config *config.Config
	logger *slog.Logger

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server delegating to the given daemon
// client.
func NewServer(daemonClient DaemonCaller, cfg *config.Config) (*Server, error) {
	if daemonClient == nil {
		return nil, errors.New("daemon client is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		daemon: daemonClient,
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "tabsense",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerStatsResource()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "tabsense", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "tabs_search",
			Description: searchToolDescription,
		},
		{
			Name:        "tabs_index",
			Description: indexToolDescription,
		},
		{
			Name:        "tabs_remove",
			Description: removeToolDescription,
		},
		{
			Name:        "tabs_rebuild",
			Description: rebuildToolDescription,
		},
		{
			Name:        "tabs_stats",
			Description: statsToolDescription,
		},
	}
}

// Tool descriptions shared by ListTools and registerTools.
const (
	searchToolDescription = "Find open browser tabs by meaning. Describe the page you remember ('that article about pod scheduling') and get matching tabs ranked by similarity. Works across every window, not just the visible one."

	indexToolDescription = "Index one tab's captured content immediately instead of waiting for the settle delay. Use when tabs_stats shows a tab you expected is missing."

	removeToolDescription = "Remove a tab from the index by its owner id. The daemon does this automatically when tabs close; use this for stale entries."

	rebuildToolDescription = "Drop the index and re-embed every registered tab. Use after changing the embedding model or when results look stale."

	statsToolDescription = "Check daemon, engine, and index health. Reports which embedder is active so you can judge ranking quality, plus document and tab counts."
)

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "tabs_search":
		return s.handleSearchTool(ctx, args)
	case "tabs_index":
		return s.handleIndexTool(ctx, args)
	case "tabs_remove":
		return s.handleRemoveTool(ctx, args)
	case "tabs_rebuild":
		return s.rebuildIndex(ctx)
	case "tabs_stats":
		return s.buildStatsOutput(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the map-based tabs_search invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	topK := 0
	if k, ok := args["top_k"].(float64); ok {
		topK = int(k)
	}

	results, err := s.searchTabs(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(query, results), nil
}

// handleIndexTool handles the map-based tabs_index invocation.
func (s *Server) handleIndexTool(ctx context.Context, args map[string]any) (AckOutput, error) {
	ownerID, ok := args["owner_id"].(string)
	if !ok {
		return AckOutput{}, NewInvalidParamsError("owner_id parameter is required and must be a string")
	}
	return s.indexTab(ctx, ownerID)
}

// handleRemoveTool handles the map-based tabs_remove invocation.
func (s *Server) handleRemoveTool(ctx context.Context, args map[string]any) (AckOutput, error) {
	ownerID, ok := args["owner_id"].(string)
	if !ok {
		return AckOutput{}, NewInvalidParamsError("owner_id parameter is required and must be a string")
	}
	return s.removeTab(ctx, ownerID)
}

// searchTabs validates, logs, and executes a search through the
// daemon. Both tool paths funnel here so they cannot drift.
func (s *Server) searchTabs(ctx context.Context, query string, topK int) ([]indexer.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	topK = clampTopK(topK, 10, 1, 50)

	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("tabs_search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("top_k", topK))

	results, err := s.daemon.Search(ctx, query, topK)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("tabs_search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("tabs_search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return results, nil
}

// indexTab requests immediate indexing of one tab.
func (s *Server) indexTab(ctx context.Context, ownerID string) (AckOutput, error) {
	if strings.TrimSpace(ownerID) == "" {
		return AckOutput{}, NewInvalidParamsError("owner_id cannot be empty")
	}

	requestID := generateRequestID()
	s.logger.Info("tabs_index started",
		slog.String("request_id", requestID),
		slog.String("owner", ownerID))

	if err := s.daemon.IndexTab(ctx, ownerID); err != nil {
		s.logger.Error("tabs_index failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return AckOutput{}, MapError(err)
	}

	return AckOutput{OK: true, Message: fmt.Sprintf("tab %s indexed", ownerID)}, nil
}

// removeTab drops one tab from the index.
func (s *Server) removeTab(ctx context.Context, ownerID string) (AckOutput, error) {
	if strings.TrimSpace(ownerID) == "" {
		return AckOutput{}, NewInvalidParamsError("owner_id cannot be empty")
	}

	requestID := generateRequestID()
	s.logger.Info("tabs_remove started",
		slog.String("request_id", requestID),
		slog.String("owner", ownerID))

	if err := s.daemon.RemoveTab(ctx, ownerID); err != nil {
		s.logger.Error("tabs_remove failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return AckOutput{}, MapError(err)
	}

	return AckOutput{OK: true, Message: fmt.Sprintf("tab %s removed", ownerID)}, nil
}

// rebuildIndex triggers a full re-embed of every registered tab.
func (s *Server) rebuildIndex(ctx context.Context) (AckOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("tabs_rebuild started",
		slog.String("request_id", requestID))

	if err := s.daemon.Rebuild(ctx); err != nil {
		s.logger.Error("tabs_rebuild failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return AckOutput{}, MapError(err)
	}

	s.logger.Info("tabs_rebuild completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)))

	return AckOutput{OK: true, Message: "index rebuilt from open tabs"}, nil
}

// buildStatsOutput assembles the tabs_stats view. A stopped daemon is
// reported as state, not as an error, so AI clients can tell the user
// to start it.
func (s *Server) buildStatsOutput(ctx context.Context) (*StatsOutput, error) {
	if !s.daemon.IsRunning() {
		return &StatsOutput{
			Daemon: DaemonInfo{Running: false},
			Engine: EngineInfo{
				ConfiguredProvider: s.config.Embeddings.Provider,
				ConfiguredModel:    s.config.Embeddings.Model,
				State:              "unavailable",
				SemanticQuality:    "none",
			},
			Index: IndexOverview{LastChecked: time.Now().Format(time.RFC3339)},
		}, nil
	}

	status, err := s.daemon.Status(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	// Dimension count cannot distinguish the providers: the static
	// embedder is sized to match the default ONNX model.
	isFallback := status.Engine.Model == "static"
	quality := "high"
	if isFallback {
		quality = "low"
	}

	return &StatsOutput{
		Daemon: DaemonInfo{
			Running: status.Running,
			PID:     status.PID,
			Uptime:  status.Uptime,
			Socket:  status.Socket,
		},
		Engine: EngineInfo{
			ConfiguredProvider: s.config.Embeddings.Provider,
			ConfiguredModel:    s.config.Embeddings.Model,
			State:              status.Engine.State,
			Model:              status.Engine.Model,
			Dimensions:         status.Engine.Dimensions,
			IsFallbackActive:   isFallback,
			SemanticQuality:    quality,
		},
		Index: IndexOverview{
			TotalDocuments: status.Index.TotalDocuments,
			TotalOwners:    status.Index.TotalOwners,
			IndexSizeBytes: status.Index.IndexSizeBytes,
			Ready:          status.Index.Ready,
			Initializing:   status.Index.Initializing,
			LastChecked:    time.Now().Format(time.RFC3339),
		},
	}, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tabs_search",
		Description: searchToolDescription,
	}, s.mcpSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", "tabs_search"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tabs_index",
		Description: indexToolDescription,
	}, s.mcpIndexHandler)
	s.logger.Debug("Registered tool", slog.String("name", "tabs_index"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tabs_remove",
		Description: removeToolDescription,
	}, s.mcpRemoveHandler)
	s.logger.Debug("Registered tool", slog.String("name", "tabs_remove"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tabs_rebuild",
		Description: rebuildToolDescription,
	}, s.mcpRebuildHandler)
	s.logger.Debug("Registered tool", slog.String("name", "tabs_rebuild"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tabs_stats",
		Description: statsToolDescription,
	}, s.mcpStatsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "tabs_stats"))

	s.logger.Info("MCP tools registered", slog.Int("count", 5))
}

// mcpSearchHandler is the MCP SDK handler for the tabs_search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	results, err := s.searchTabs(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}
	for _, r := range results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}

	return nil, output, nil
}

// mcpIndexHandler is the MCP SDK handler for the tabs_index tool.
func (s *Server) mcpIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (
	*mcp.CallToolResult,
	AckOutput,
	error,
) {
	ack, err := s.indexTab(ctx, input.OwnerID)
	return nil, ack, err
}

// mcpRemoveHandler is the MCP SDK handler for the tabs_remove tool.
func (s *Server) mcpRemoveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RemoveInput) (
	*mcp.CallToolResult,
	AckOutput,
	error,
) {
	ack, err := s.removeTab(ctx, input.OwnerID)
	return nil, ack, err
}

// mcpRebuildHandler is the MCP SDK handler for the tabs_rebuild tool.
func (s *Server) mcpRebuildHandler(ctx context.Context, _ *mcp.CallToolRequest, _ RebuildInput) (
	*mcp.CallToolResult,
	AckOutput,
	error,
) {
	ack, err := s.rebuildIndex(ctx)
	return nil, ack, err
}

// mcpStatsHandler is the MCP SDK handler for the tabs_stats tool.
func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult,
	*StatsOutput,
	error,
) {
	output, err := s.buildStatsOutput(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server stops when its context is canceled
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
