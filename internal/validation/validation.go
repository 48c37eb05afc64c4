// Package validation checks user-supplied input at the daemon and CLI
// boundaries before it reaches the index.
//
// Three kinds of input cross those boundaries: search queries, owner
// IDs minted by the extraction collaborator, and config values from
// `tabsense config set`. The daemon rejects bad input with a
// validation error rather than silently correcting it, so misbehaving
// clients hear about the problem. The MCP tools are the one exception:
// they clamp out-of-range counts instead, because a language-model
// caller recovers better from a corrected call than a refused one.
package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/tabsense/tabsense/internal/errors"
)

const (
	// MaxQueryLength caps search queries, in runes. The tokenizer
	// truncates at 512 tokens anyway, so longer input is wasted
	// transport and embedding work.
	MaxQueryLength = 1024

	// MaxOwnerIDLength caps owner IDs, in bytes. Owner IDs key
	// registry rows, vector metadata, and store buckets, and appear
	// verbatim in log lines.
	MaxOwnerIDLength = 256

	// MaxTopK caps requested result counts. The indexer overfetches
	// against this for owner-level deduplication, so the real graph
	// query can be several times larger.
	MaxTopK = 100
)

// CheckQuery validates a search query string.
func CheckQuery(query string) error {
	if query == "" {
		return errors.ValidationError("query is required", nil)
	}
	if !utf8.ValidString(query) {
		return errors.ValidationError("query is not valid UTF-8", nil)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return errors.ValidationError(
			fmt.Sprintf("query is %d characters, the maximum is %d", n, MaxQueryLength), nil)
	}
	if isBlank(query) {
		return errors.ValidationError("query is required", nil)
	}
	return nil
}

// CheckOwnerID validates an owner ID. Owner IDs are opaque strings
// assigned by the extraction collaborator ("tab-42", a UUID); the
// checks here reject only what would corrupt keys or log lines, not
// any particular naming scheme.
func CheckOwnerID(id string) error {
	if id == "" {
		return errors.ValidationError("owner_id is required", nil)
	}
	if len(id) > MaxOwnerIDLength {
		return errors.ValidationError(
			fmt.Sprintf("owner_id is %d bytes, the maximum is %d", len(id), MaxOwnerIDLength), nil)
	}
	if !utf8.ValidString(id) {
		return errors.ValidationError("owner_id is not valid UTF-8", nil)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errors.ValidationError("owner_id contains control characters", nil)
		}
	}
	return nil
}

// CheckTopK validates a requested result count. Zero is allowed and
// means "use the default"; the indexer substitutes it downstream.
func CheckTopK(topK int) error {
	if topK < 0 {
		return errors.ValidationError(
			fmt.Sprintf("top_k must be non-negative, got %d", topK), nil)
	}
	if topK > MaxTopK {
		return errors.ValidationError(
			fmt.Sprintf("top_k is %d, the maximum is %d", topK, MaxTopK), nil)
	}
	return nil
}

// isBlank reports whether s contains only whitespace.
func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
