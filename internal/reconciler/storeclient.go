package reconciler

import (
	"context"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// StoreClient adapts a pipeline.Store to the StatusClient interface for
// in-process polling.
type StoreClient struct {
	store pipeline.Store
}

// NewStoreClient wraps a store.
func NewStoreClient(store pipeline.Store) *StoreClient {
	return &StoreClient{store: store}
}

// FetchStatuses reads the status projection straight from the store.
func (c *StoreClient) FetchStatuses(ctx context.Context, articleIDs []string) ([]pipeline.StatusRow, error) {
	return c.store.FindByArticleIDs(ctx, articleIDs)
}

var _ StatusClient = (*StoreClient)(nil)
