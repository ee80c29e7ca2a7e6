package session

import (
	"context"
	"time"

	"github.com/casaviva/hestia/internal/provider"
	"github.com/casaviva/hestia/internal/selector"
)

// ModelLister is the slice of the provider client the catalog source needs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

// CatalogSource ranks the live catalog on every call: free-tier filter,
// quality scoring, stable ordering, capped at limit.
type CatalogSource struct {
	lister ModelLister
	limit  int
	now    func() time.Time
}

// NewCatalogSource creates a catalog-backed candidate source. limit <= 0
// uses the selector default.
func NewCatalogSource(lister ModelLister, limit int) *CatalogSource {
	return &CatalogSource{lister: lister, limit: limit, now: time.Now}
}

// Candidates implements CandidateSource.
func (c *CatalogSource) Candidates(ctx context.Context) ([]string, error) {
	catalog, err := c.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ranked, err := selector.CascadeOrder(catalog, c.limit, c.now())
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.ID
	}
	return ids, nil
}

// StaticSource serves a fixed, pre-ordered candidate list. Used when a
// deployment pins its models and by tests that need arbitrary cascades.
type StaticSource []string

// Candidates implements CandidateSource.
func (s StaticSource) Candidates(ctx context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, &provider.NoModelsError{}
	}
	return append([]string(nil), s...), nil
}
