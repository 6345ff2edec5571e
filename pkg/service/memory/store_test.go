package memory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/service/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

// Mock embedder returning canned vectors per text.
type mockEmbedder struct {
	vectors map[string][]float32
	calls   int
	failN   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.failN > 0 {
		m.failN--
		return nil, goerr.New("embedding backend down")
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (m *mockEmbedder) Dimensions() int { return 3 }

// Mock embedder that never returns until its context is done.
type hangingEmbedder struct {
	calls int
}

func (h *hangingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingEmbedder) Dimensions() int { return 3 }

// Mock index with brute-force cosine search.
type mockIndex struct {
	mu          sync.Mutex
	notes       map[model.NoteID]*model.Note
	upserts     int
	upsertErrN  int
	lastFilters map[string]string
}

func newMockIndex() *mockIndex {
	return &mockIndex{notes: map[model.NoteID]*model.Note{}}
}

func (m *mockIndex) Upsert(ctx context.Context, note *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErrN > 0 {
		m.upsertErrN--
		return goerr.New("index write failed")
	}
	m.notes[note.ID] = note
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, id model.NoteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	return nil
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]*model.Retrieved, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilters = filters

	var results []*model.Retrieved
	for _, note := range m.notes {
		if uid, ok := filters["user_id"]; ok && note.UserID != uid {
			continue
		}
		results = append(results, &model.Retrieved{
			Note:  note,
			Score: cosine(vector, note.Embedding),
		})
	}
	for i := range results {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func fastConfig() memory.Config {
	return memory.Config{
		Timeout:       time.Second,
		RetryInterval: time.Millisecond,
	}
}

func TestStoreAndRecall(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"The user's favorite color is teal.": {1, 0, 0},
		"the user's favorite color":          {0.9, 0.1, 0},
	}}
	index := newMockIndex()
	store := memory.New(embedder, index, fastConfig())
	ctx := context.Background()

	note, err := store.Store(ctx, "The user's favorite color is teal.")
	gt.NoError(t, err)
	gt.NotEqual(t, note.ID, model.NoteID(""))
	gt.Equal(t, note.Text, "The user's favorite color is teal.")

	results, err := store.Recall(ctx, "the user's favorite color", 0, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Note.ID, note.ID)
	gt.True(t, results[0].Score > 0.9)
}

func TestStoreEmptyText(t *testing.T) {
	embedder := &mockEmbedder{}
	index := newMockIndex()
	store := memory.New(embedder, index, fastConfig())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := store.Store(context.Background(), text)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
		gt.False(t, model.IsRetryable(err))
	}

	// Validation failures must never touch the embedder or the index
	gt.Equal(t, embedder.calls, 0)
	gt.Equal(t, index.upserts, 0)
}

func TestStoreTrimsWhitespace(t *testing.T) {
	store := memory.New(&mockEmbedder{}, newMockIndex(), fastConfig())

	note, err := store.Store(context.Background(), "  The user works at Example Corp.  ")
	gt.NoError(t, err)
	gt.Equal(t, note.Text, "The user works at Example Corp.")
}

func TestRecallEmptyQuery(t *testing.T) {
	store := memory.New(&mockEmbedder{}, newMockIndex(), fastConfig())

	_, err := store.Recall(context.Background(), "  ", 0, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestRecallOrdering(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"note about tea":    {1, 0, 0},
		"note about coffee": {0.8, 0.6, 0},
		"note about trains": {0, 1, 0},
		"tea":               {1, 0, 0},
	}}
	index := newMockIndex()
	store := memory.New(embedder, index, fastConfig())
	ctx := context.Background()

	for _, text := range []string{"note about tea", "note about coffee", "note about trains"} {
		_, err := store.Store(ctx, text)
		gt.NoError(t, err)
	}

	results, err := store.Recall(ctx, "tea", 2, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[0].Note.Text, "note about tea")
	gt.Equal(t, results[1].Note.Text, "note about coffee")
	gt.True(t, results[0].Score >= results[1].Score)
}

func TestDedupSkipsNearDuplicate(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"The user lives in Osaka.": {1, 0, 0},
	}}
	index := newMockIndex()
	cfg := fastConfig()
	cfg.DedupThreshold = 0.95
	store := memory.New(embedder, index, cfg)
	ctx := context.Background()

	first, err := store.Store(ctx, "The user lives in Osaka.")
	gt.NoError(t, err)

	second, err := store.Store(ctx, "The user lives in Osaka.")
	gt.NoError(t, err)
	gt.Equal(t, second.ID, first.ID)

	gt.Equal(t, index.upserts, 1)
}

func TestRetryTransientEmbedderFailure(t *testing.T) {
	embedder := &mockEmbedder{failN: 2}
	index := newMockIndex()
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	store := memory.New(embedder, index, cfg)

	_, err := store.Store(context.Background(), "The user prefers window seats.")
	gt.NoError(t, err)
	gt.Equal(t, embedder.calls, 3)
}

func TestRetryExhausted(t *testing.T) {
	embedder := &mockEmbedder{}
	index := newMockIndex()
	index.upsertErrN = 10
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	store := memory.New(embedder, index, cfg)

	_, err := store.Store(context.Background(), "The user prefers window seats.")
	gt.Error(t, err)
	gt.True(t, model.IsRetryable(err))
	gt.Equal(t, index.upserts, 2)
}

func TestTimeoutBoundsHangingEmbedder(t *testing.T) {
	embedder := &hangingEmbedder{}
	index := newMockIndex()
	cfg := fastConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxAttempts = 2
	store := memory.New(embedder, index, cfg)

	start := time.Now()
	_, err := store.Store(context.Background(), "The user prefers window seats.")
	elapsed := time.Since(start)

	gt.Error(t, err)
	gt.True(t, model.IsRetryable(err))
	gt.Equal(t, embedder.calls, 2)
	gt.True(t, elapsed < time.Second)
	gt.Equal(t, index.upserts, 0)
}

func TestCancelAbandonsHangingEmbedder(t *testing.T) {
	embedder := &hangingEmbedder{}
	index := newMockIndex()
	cfg := fastConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxAttempts = 3
	store := memory.New(embedder, index, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(30*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	_, err := store.Store(ctx, "The user prefers aisle seats.")
	elapsed := time.Since(start)

	gt.Error(t, err)
	gt.Equal(t, embedder.calls, 1)
	gt.True(t, elapsed < time.Second)
	gt.Equal(t, index.upserts, 0)
}

func TestUserScopeAppliedToRecall(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"The user's cat is named Mochi.": {1, 0, 0},
	}}
	index := newMockIndex()

	cfgAlice := fastConfig()
	cfgAlice.UserID = "alice"
	alice := memory.New(embedder, index, cfgAlice)

	cfgBob := fastConfig()
	cfgBob.UserID = "bob"
	bob := memory.New(embedder, index, cfgBob)

	ctx := context.Background()
	_, err := alice.Store(ctx, "The user's cat is named Mochi.")
	gt.NoError(t, err)

	results, err := bob.Recall(ctx, "The user's cat is named Mochi.", 0, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)
	gt.Equal(t, index.lastFilters["user_id"], "bob")

	results, err = alice.Recall(ctx, "The user's cat is named Mochi.", 0, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
}

func TestForget(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"The user dislikes cilantro.": {1, 0, 0},
	}}
	index := newMockIndex()
	store := memory.New(embedder, index, fastConfig())
	ctx := context.Background()

	note, err := store.Store(ctx, "The user dislikes cilantro.")
	gt.NoError(t, err)

	gt.NoError(t, store.Forget(ctx, note.ID))

	results, err := store.Recall(ctx, "The user dislikes cilantro.", 0, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	err = store.Forget(ctx, model.NoteID(""))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}
