package mcp

// SearchInput defines the input schema for the tabs_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query describing the tab you are looking for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of tabs to return, default 10"`
}

// SearchOutput defines the output schema for the tabs_search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"open tabs ranked by similarity"`
}

// SearchResultOutput is a single ranked tab.
type SearchResultOutput struct {
	OwnerID     string  `json:"owner_id" jsonschema:"stable identifier of the tab"`
	URL         string  `json:"url" jsonschema:"page URL at capture time"`
	Title       string  `json:"title,omitempty" jsonschema:"page title at capture time"`
	Similarity  float64 `json:"similarity" jsonschema:"cosine similarity of the best matching chunk"`
	Snippet     string  `json:"snippet,omitempty" jsonschema:"excerpt from the matching chunk"`
	MatchReason string  `json:"match_reason,omitempty" jsonschema:"whether the match came from the tab title or the page text"`
}

// IndexInput defines the input schema for the tabs_index tool.
type IndexInput struct {
	OwnerID string `json:"owner_id" jsonschema:"identifier of the tab to index"`
}

// RemoveInput defines the input schema for the tabs_remove tool.
type RemoveInput struct {
	OwnerID string `json:"owner_id" jsonschema:"identifier of the tab to remove from the index"`
}

// RebuildInput defines the input schema for the tabs_rebuild tool (no
// parameters).
type RebuildInput struct{}

// StatsInput defines the input schema for the tabs_stats tool (no
// parameters).
type StatsInput struct{}

// AckOutput acknowledges a mutation tool call.
type AckOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// StatsOutput defines the output schema for the tabs_stats tool.
type StatsOutput struct {
	Daemon DaemonInfo    `json:"daemon"`
	Engine EngineInfo    `json:"engine"`
	Index  IndexOverview `json:"index"`
}

// DaemonInfo describes the daemon process serving the index.
type DaemonInfo struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Socket  string `json:"socket,omitempty"`
}

// EngineInfo describes the embedding engine. Configured values come
// from the profile config; the rest is runtime state, which can differ
// when auto-detection fell back. AI clients use SemanticQuality to
// decide how much to trust ranking: the static fallback matches on
// token overlap rather than meaning.
type EngineInfo struct {
	ConfiguredProvider string `json:"configured_provider"`
	ConfiguredModel    string `json:"configured_model"`

	State            string `json:"state"`
	Model            string `json:"model"`
	Dimensions       int    `json:"dimensions"`
	IsFallbackActive bool   `json:"is_fallback_active"`
	SemanticQuality  string `json:"semantic_quality"`
}

// IndexOverview summarizes the vector index contents.
type IndexOverview struct {
	TotalDocuments int    `json:"total_documents"`
	TotalOwners    int    `json:"total_owners"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	Ready          bool   `json:"ready"`
	Initializing   bool   `json:"initializing"`
	LastChecked    string `json:"last_checked"`
}
