package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// statsResourceURI identifies the live index statistics resource.
const statsResourceURI = "tabsense://index_stats"

// registerStatsResource registers the index_stats resource. Clients
// that prefer polling a resource over calling the tabs_stats tool read
// the same snapshot here.
func (s *Server) registerStatsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "index_stats",
			URI:         statsResourceURI,
			Description: "Live daemon, engine, and tab index statistics",
			MIMEType:    "application/json",
		},
		s.makeStatsResourceHandler(),
	)
}

// makeStatsResourceHandler creates a handler for the index_stats
// resource.
func (s *Server) makeStatsResourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		output, err := s.buildStatsOutput(ctx)
		if err != nil {
			return nil, err
		}

		content, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      statsResourceURI,
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}
