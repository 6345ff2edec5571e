package memory

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/engram/pkg/adapter"
	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/repository"
	"github.com/m-mizutani/engram/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Config holds the knobs of the memory store. Zero values are replaced with
// defaults by New.
type Config struct {
	// TopK is the default number of recall matches.
	TopK int

	// Timeout bounds each embedding or index call.
	Timeout time.Duration

	// MaxAttempts is the total number of tries for a retryable call.
	MaxAttempts int

	// RetryInterval is the initial backoff, doubled per attempt.
	RetryInterval time.Duration

	// DedupThreshold skips a store when an existing note scores at or above
	// it against the new text. Zero disables deduplication.
	DedupThreshold float64

	// UserID scopes stored and recalled notes to one owner. Empty means
	// unscoped.
	UserID string
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	return c
}

// Store owns the contract between semantic note text and the vector index:
// it turns text into an embedding plus metadata record, and a query into a
// nearest-neighbor lookup with normalized results.
type Store struct {
	embedder adapter.Embedder
	index    repository.VectorIndex
	cfg      Config
}

func New(embedder adapter.Embedder, index repository.VectorIndex, cfg Config) *Store {
	return &Store{
		embedder: embedder,
		index:    index,
		cfg:      cfg.withDefaults(),
	}
}

// Store validates and persists a note, returning it with its assigned ID.
// Empty or whitespace-only text is a validation failure and leaves the index
// untouched.
func (s *Store) Store(ctx context.Context, text string) (*model.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "note text is empty")
	}

	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.cfg.DedupThreshold > 0 {
		if existing := s.findDuplicate(ctx, embedding); existing != nil {
			logging.From(ctx).Debug("skipping near-duplicate note",
				"existing_id", existing.ID, "text", text)
			return existing, nil
		}
	}

	note := &model.Note{
		ID:        model.NewNoteID(),
		Text:      text,
		Embedding: embedding,
		UserID:    s.cfg.UserID,
		CreatedAt: time.Now(),
	}

	err = s.retry(ctx, func(ctx context.Context) error {
		return s.index.Upsert(ctx, note)
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "failed to put note",
			goerr.V("note_id", note.ID), goerr.V("cause", err))
	}

	return note, nil
}

// Recall embeds the query and returns up to topK matches ordered by
// descending similarity. topK <= 0 falls back to the configured default.
func (s *Store) Recall(ctx context.Context, query string, topK int, filters map[string]string) ([]*model.Retrieved, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "recall query is empty")
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	merged := s.scopeFilters(filters)

	var results []*model.Retrieved
	err = s.retry(ctx, func(ctx context.Context) error {
		var qerr error
		results, qerr = s.index.Query(ctx, embedding, topK, merged)
		return qerr
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "failed to query notes", goerr.V("cause", err))
	}

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Forget removes a note by ID. Administrative path only; turn processing
// never deletes notes.
func (s *Store) Forget(ctx context.Context, id model.NoteID) error {
	if strings.TrimSpace(string(id)) == "" {
		return goerr.Wrap(model.ErrInvalidInput, "note ID is empty")
	}

	err := s.retry(ctx, func(ctx context.Context) error {
		return s.index.Delete(ctx, id)
	})
	if err != nil {
		return goerr.Wrap(model.ErrUnavailable, "failed to delete note",
			goerr.V("note_id", id), goerr.V("cause", err))
	}

	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := s.retry(ctx, func(ctx context.Context) error {
		var eerr error
		embedding, eerr = s.embedder.Embed(ctx, text)
		return eerr
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "failed to embed text", goerr.V("cause", err))
	}

	return embedding, nil
}

// findDuplicate checks whether a semantically near-identical note already
// exists. Lookup failures are ignored: dedup is best-effort and must not
// block a store.
func (s *Store) findDuplicate(ctx context.Context, embedding []float32) *model.Note {
	var results []*model.Retrieved
	err := s.retry(ctx, func(ctx context.Context) error {
		var qerr error
		results, qerr = s.index.Query(ctx, embedding, 1, s.scopeFilters(nil))
		return qerr
	})
	if err != nil {
		logging.From(ctx).Warn("duplicate check failed, storing anyway", "error", err)
		return nil
	}

	if len(results) > 0 && results[0].Score >= s.cfg.DedupThreshold {
		return results[0].Note
	}
	return nil
}

func (s *Store) scopeFilters(filters map[string]string) map[string]string {
	if s.cfg.UserID == "" && len(filters) == 0 {
		return nil
	}

	merged := make(map[string]string, len(filters)+1)
	for k, v := range filters {
		merged[k] = v
	}
	if s.cfg.UserID != "" {
		merged["user_id"] = s.cfg.UserID
	}
	return merged
}
