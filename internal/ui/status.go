package ui

import (
	"encoding/json"
	"fmt"
	"io"
)

// StatusInfo contains daemon and index health information.
type StatusInfo struct {
	// Daemon state
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Socket  string `json:"socket,omitempty"`
	Uptime  string `json:"uptime,omitempty"`

	// Embedding engine
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Dimensions  int    `json:"dimensions,omitempty"`
	EngineState string `json:"engine_state,omitempty"` // "ready", "initializing", "error"
	EngineError string `json:"engine_error,omitempty"`

	// Index totals
	TotalDocuments int   `json:"total_documents"`
	TotalOwners    int   `json:"total_owners"`
	IndexSizeBytes int64 `json:"index_size_bytes"`
}

// StatusRenderer displays daemon status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Daemon Status"))

	if !info.Running {
		_, _ = fmt.Fprintf(r.out, "  Status: %s\n\n", r.renderState("stopped"))
		_, _ = fmt.Fprintln(r.out, "  Start it with 'tabsense daemon'.")
		return nil
	}

	// Daemon process
	_, _ = fmt.Fprintf(r.out, "  Status:  %s (PID %d)\n", r.renderState("running"), info.PID)
	if info.Socket != "" {
		_, _ = fmt.Fprintf(r.out, "  Socket:  %s\n", info.Socket)
	}
	if info.Uptime != "" {
		_, _ = fmt.Fprintf(r.out, "  Uptime:  %s\n", info.Uptime)
	}
	_, _ = fmt.Fprintln(r.out)

	// Embedding engine
	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Provider: %s\n", info.Provider)
	if info.Model != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:    %s\n", info.Model)
	}
	if info.Dimensions > 0 {
		_, _ = fmt.Fprintf(r.out, "    Dims:     %d\n", info.Dimensions)
	}
	_, _ = fmt.Fprintf(r.out, "    State:    %s\n", r.renderState(info.EngineState))
	if info.EngineError != "" {
		_, _ = fmt.Fprintf(r.out, "    Error:    %s\n", r.styles.Error.Render(info.EngineError))
	}
	_, _ = fmt.Fprintln(r.out)

	// Index totals
	_, _ = fmt.Fprintln(r.out, "  Index:")
	_, _ = fmt.Fprintf(r.out, "    Documents: %d\n", info.TotalDocuments)
	_, _ = fmt.Fprintf(r.out, "    Tabs:      %d\n", info.TotalOwners)
	_, _ = fmt.Fprintf(r.out, "    Size:      %s\n", FormatBytes(info.IndexSizeBytes))

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderState formats a state string with color.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "ready", "running":
		return r.styles.Success.Render(state)
	case "initializing", "uninitialized", "stopped":
		return r.styles.Warning.Render(state)
	case "error":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
