package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
)

// Chromem implements VectorIndex on chromem-go, a pure-Go embedded vector
// database. With an empty path the index lives in memory only, which is also
// how the test suites use it.
type Chromem struct {
	collection *chromem.Collection
}

// NewChromem creates a chromem-backed vector index. If path is non-empty the
// database is persisted on disk.
func NewChromem(path, collection string) (*Chromem, error) {
	if collection == "" {
		return nil, goerr.New("collection name is required")
	}

	var db *chromem.DB
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open chromem database", goerr.V("path", path))
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are always provided by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("collection", collection))
	}

	return &Chromem{collection: col}, nil
}

func (r *Chromem) Upsert(ctx context.Context, note *model.Note) error {
	doc := chromem.Document{
		ID:        string(note.ID),
		Content:   note.Text,
		Embedding: note.Embedding,
		Metadata: map[string]string{
			"user_id":    note.UserID,
			"created_at": note.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	if err := r.collection.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("note_id", note.ID))
	}

	return nil
}

func (r *Chromem) Delete(ctx context.Context, id model.NoteID) error {
	if err := r.collection.Delete(ctx, nil, nil, string(id)); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("note_id", id))
	}
	return nil
}

func (r *Chromem) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]*model.Retrieved, error) {
	// chromem rejects nResults larger than the collection size.
	n := topK
	if count := r.collection.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filters) > 0 {
		where = filters
	}

	// With a filter the matching subset can be smaller than the collection,
	// and chromem also rejects nResults larger than that subset.
	var matches []chromem.Result
	var err error
	for ; n >= 1; n-- {
		matches, err = r.collection.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, goerr.Wrap(err, "failed to query collection")
		}
	}
	if err != nil {
		return nil, nil
	}

	results := make([]*model.Retrieved, 0, len(matches))
	for _, m := range matches {
		createdAt, _ := time.Parse(time.RFC3339Nano, m.Metadata["created_at"])
		results = append(results, &model.Retrieved{
			Note: &model.Note{
				ID:        model.NoteID(m.ID),
				Text:      m.Content,
				Embedding: m.Embedding,
				UserID:    m.Metadata["user_id"],
				CreatedAt: createdAt,
			},
			Score: float64(m.Similarity),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}
