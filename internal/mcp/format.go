package mcp

import (
	"fmt"
	"strings"

	"github.com/tabsense/tabsense/internal/indexer"
)

// FormatSearchResults formats ranked tabs as markdown for clients that
// render the text content instead of the structured output.
func FormatSearchResults(query string, results []indexer.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No open tabs matched \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Tabs matching \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d tab", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult formats a single ranked tab.
func formatResult(sb *strings.Builder, num int, r indexer.Result) {
	title := r.Title
	if title == "" {
		title = r.URL
	}

	fmt.Fprintf(sb, "### %d. %s (similarity: %.2f)\n", num, title, r.Similarity)
	fmt.Fprintf(sb, "**URL:** %s\n", r.URL)
	fmt.Fprintf(sb, "**Tab:** `%s` (%s)\n", r.OwnerID, matchReasonFor(r))

	if r.Snippet != "" {
		sb.WriteString("\n")
		for _, line := range strings.Split(r.Snippet, "\n") {
			fmt.Fprintf(sb, "> %s\n", line)
		}
	}
	sb.WriteString("\n")
}

// matchReasonFor explains which part of the tab produced the match.
func matchReasonFor(r indexer.Result) string {
	if r.Source == "title" {
		return "matched the tab title"
	}
	return "matched the page text"
}

// ToSearchResultOutput converts a ranked tab to the structured output
// format.
func ToSearchResultOutput(r indexer.Result) SearchResultOutput {
	return SearchResultOutput{
		OwnerID:     r.OwnerID,
		URL:         r.URL,
		Title:       r.Title,
		Similarity:  r.Similarity,
		Snippet:     r.Snippet,
		MatchReason: matchReasonFor(r),
	}
}

// clampTopK ensures the result count is within bounds.
func clampTopK(topK, defaultVal, min, max int) int {
	if topK <= 0 {
		return defaultVal
	}
	if topK < min {
		return min
	}
	if topK > max {
		return max
	}
	return topK
}
