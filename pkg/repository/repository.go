package repository

import (
	"context"

	"github.com/m-mizutani/engram/pkg/model"
)

// VectorIndex is the boundary to the externally-owned vector store. It is
// the single source of truth for persisted notes; no other persistent state
// exists in the engine.
type VectorIndex interface {
	// Upsert writes a note with its embedding and metadata. A note is one
	// index entry; an upsert is a single call so a note is never written
	// partially.
	Upsert(ctx context.Context, note *model.Note) error

	// Delete removes a note by identifier. Deleting an unknown ID is not an
	// error.
	Delete(ctx context.Context, id model.NoteID) error

	// Query performs a nearest-neighbor search and returns up to topK
	// matches ordered by descending similarity, restricted by equality
	// filters on note metadata (e.g. "user_id").
	Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]*model.Retrieved, error)
}
