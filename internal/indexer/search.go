package indexer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tabsense/tabsense/internal/errors"
)

// DefaultTopK is the result count used when a caller passes topK <= 0.
const DefaultTopK = 10

// Result is one ranked search hit: the best-matching chunk of one tab.
type Result struct {
	OwnerID    string  `json:"owner_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
	Source     string  `json:"source"` // "title" or "content"
}

// Search embeds the query once and returns the top-K tabs by chunk
// similarity. The vector index is over-fetched by the configured
// multiple and collapsed to the single highest-similarity chunk per
// owner, so one long tab cannot crowd the results with all its chunks.
// Zero results is a valid outcome; an error means the search itself
// failed.
func (x *ContentIndexer) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "search query must not be empty", nil)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	engine, index := x.delegates()

	queryVec, err := engine.Embedding(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := index.Search(ctx, queryVec, topK*x.cfg.DedupOverfetch)
	if err != nil {
		return nil, err
	}

	// Matches arrive ranked, so the first hit per owner is its best
	// chunk.
	best := make(map[string]struct{}, topK)
	results := make([]Result, 0, topK)
	for _, m := range matches {
		if _, ok := best[m.Document.OwnerID]; ok {
			continue
		}
		best[m.Document.OwnerID] = struct{}{}
		results = append(results, Result{
			OwnerID:    m.Document.OwnerID,
			URL:        m.Document.URL,
			Title:      m.Document.Title,
			Similarity: m.Similarity,
			Snippet:    m.Document.Chunk,
			Source:     m.Document.Source,
		})
		if len(results) == topK {
			break
		}
	}

	slog.Debug("tab search complete",
		slog.Int("candidates", len(matches)),
		slog.Int("results", len(results)))
	return results, nil
}
