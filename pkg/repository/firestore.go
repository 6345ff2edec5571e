package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const distanceField = "vector_distance"

// Firestore implements VectorIndex on a Firestore collection with one
// document per note and a vector field queried via FindNearest.
type Firestore struct {
	client     *firestore.Client
	collection string
}

type noteDoc struct {
	ID        string              `firestore:"id"`
	Text      string              `firestore:"text"`
	Embedding firestore.Vector32  `firestore:"embedding"`
	UserID    string              `firestore:"user_id"`
	CreatedAt time.Time           `firestore:"created_at"`
}

// NewFirestore creates a Firestore-backed vector index
func NewFirestore(ctx context.Context, projectID, databaseID, collection string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required")
	}
	if databaseID == "" {
		databaseID = "(default)"
	}
	if collection == "" {
		return nil, goerr.New("collection name is required")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: collection,
	}, nil
}

func (r *Firestore) Upsert(ctx context.Context, note *model.Note) error {
	doc := noteDoc{
		ID:        string(note.ID),
		Text:      note.Text,
		Embedding: firestore.Vector32(note.Embedding),
		UserID:    note.UserID,
		CreatedAt: note.CreatedAt,
	}

	if _, err := r.client.Collection(r.collection).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put note", goerr.V("note_id", note.ID))
	}

	return nil
}

func (r *Firestore) Delete(ctx context.Context, id model.NoteID) error {
	if _, err := r.client.Collection(r.collection).Doc(string(id)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete note", goerr.V("note_id", id))
	}
	return nil
}

func (r *Firestore) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]*model.Retrieved, error) {
	q := r.client.Collection(r.collection).Query
	for field, value := range filters {
		q = q.Where(field, "==", value)
	}

	vq := q.FindNearest("embedding", firestore.Vector32(vector), topK,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceResultField: distanceField,
		})

	docs, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query notes")
	}

	results := make([]*model.Retrieved, 0, len(docs))
	for _, snap := range docs {
		var doc noteDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode note document", goerr.V("doc", snap.Ref.ID))
		}

		// Cosine distance is in [0, 2]; report similarity instead.
		score := 1.0
		if d, ok := snap.Data()[distanceField].(float64); ok {
			score = 1.0 - d
		}

		results = append(results, &model.Retrieved{
			Note: &model.Note{
				ID:        model.NoteID(doc.ID),
				Text:      doc.Text,
				Embedding: []float32(doc.Embedding),
				UserID:    doc.UserID,
				CreatedAt: doc.CreatedAt,
			},
			Score: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}

// Close releases the underlying Firestore client.
func (r *Firestore) Close() error {
	return r.client.Close()
}
