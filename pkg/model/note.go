package model

import (
	"time"

	"github.com/google/uuid"
)

type NoteID string

// NewNoteID generates a new unique NoteID
func NewNoteID() NoteID {
	return NoteID(uuid.New().String())
}

// Note represents a single persisted, embedding-backed unit of user-specific
// memory. A note is written once; superseding information is stored as a new
// note, never by mutating an existing embedding.
type Note struct {
	ID        NoteID
	Text      string
	Embedding []float32
	UserID    string
	CreatedAt time.Time
}

// Retrieved is one recall match: a note and its similarity to the query
// vector (1.0 = identical, 0.0 = unrelated).
type Retrieved struct {
	Note  *Note
	Score float64
}
