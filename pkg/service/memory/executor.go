package memory

import (
	"context"

	"github.com/m-mizutani/engram/pkg/model"
)

// Executor adapts the store to the two-method contract the dispatcher
// drives, applying the configured top-K and user scope.
type Executor struct {
	store *Store
}

func NewExecutor(store *Store) *Executor {
	return &Executor{store: store}
}

func (e *Executor) Store(ctx context.Context, text string) (*model.Note, error) {
	return e.store.Store(ctx, text)
}

func (e *Executor) Recall(ctx context.Context, query string) ([]*model.Retrieved, error) {
	return e.store.Recall(ctx, query, 0, nil)
}
