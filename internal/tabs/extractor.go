package tabs

import (
	"context"
	"strings"

	"github.com/tabsense/tabsense/internal/errors"
)

// Extraction is the indexable text produced for one owner.
type Extraction struct {
	Text  string
	Title string
	URL   string
}

// Extractor produces the indexable text for an owner. An error means
// "skip this document": callers log and move on, they never fail the
// surrounding operation because one tab had nothing to extract.
type Extractor interface {
	Extract(ctx context.Context, ownerID string) (Extraction, error)
}

// RegistryExtractor reads the latest snapshot from the registry. This
// is the default collaborator: the browser side pushes snapshots via
// tabs.event and indexing pulls them from here.
type RegistryExtractor struct {
	registry *Registry
}

// NewRegistryExtractor creates an extractor over reg.
func NewRegistryExtractor(reg *Registry) *RegistryExtractor {
	return &RegistryExtractor{registry: reg}
}

// Extract returns the owner's latest snapshot content. Owners without
// a snapshot, or with a blank one, report no-content errors.
func (e *RegistryExtractor) Extract(ctx context.Context, ownerID string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	snap, ok := e.registry.Get(ownerID)
	if !ok {
		return Extraction{}, errors.New(errors.ErrCodeNoContent,
			"no snapshot captured for owner "+ownerID, nil)
	}
	if strings.TrimSpace(snap.Text) == "" && strings.TrimSpace(snap.Title) == "" {
		return Extraction{}, errors.New(errors.ErrCodeNoContent,
			"snapshot for owner "+ownerID+" has no text", nil)
	}
	return Extraction{
		Text:  snap.Text,
		Title: snap.Title,
		URL:   snap.URL,
	}, nil
}
