package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/service/dispatch"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

// Mock executor
type mockExecutor struct {
	mu        sync.Mutex
	stored    []string
	recalled  []string
	storeErr  error
	recallErr error
	delay     time.Duration
}

func (m *mockExecutor) Store(ctx context.Context, text string) (*model.Note, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return nil, m.storeErr
	}
	m.stored = append(m.stored, text)
	return &model.Note{ID: model.NewNoteID(), Text: text}, nil
}

func (m *mockExecutor) Recall(ctx context.Context, query string) ([]*model.Retrieved, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recallErr != nil {
		return nil, m.recallErr
	}
	m.recalled = append(m.recalled, query)
	return []*model.Retrieved{
		{Note: &model.Note{ID: model.NewNoteID(), Text: "The user's favorite color is teal."}, Score: 0.98},
	}, nil
}

func TestExecuteEmptyBatch(t *testing.T) {
	d := dispatch.New(&mockExecutor{})

	results, err := d.Execute(context.Background(), nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)
}

func TestExecutePreservesEmissionOrder(t *testing.T) {
	// Stores sleep, so recalls finish first; positions must still line up.
	exec := &mockExecutor{delay: 10 * time.Millisecond}
	d := dispatch.New(exec)

	ops := []model.Operation{
		{Kind: model.OpStore, Payload: "The user lives in Osaka."},
		{Kind: model.OpRecall, Payload: "places the user has lived"},
		{Kind: model.OpStore, Payload: "The user has two cats."},
		{Kind: model.OpRecall, Payload: "the user's pets"},
	}

	results, err := d.Execute(context.Background(), ops)
	gt.NoError(t, err)
	gt.A(t, results).Length(4)

	for i, r := range results {
		gt.Equal(t, r.Position, i)
		gt.Equal(t, r.Kind, ops[i].Kind)
		gt.NoError(t, r.Err)
	}
	gt.NotNil(t, results[0].Note)
	gt.Equal(t, results[0].Note.Text, "The user lives in Osaka.")
	gt.A(t, results[1].Retrieved).Length(1)
}

func TestExecuteIsolatesFailures(t *testing.T) {
	exec := &mockExecutor{
		recallErr: goerr.Wrap(model.ErrUnavailable, "index unreachable"),
	}
	d := dispatch.New(exec)

	ops := []model.Operation{
		{Kind: model.OpRecall, Payload: "the user's pets"},
		{Kind: model.OpStore, Payload: "The user has two cats."},
	}

	results, err := d.Execute(context.Background(), ops)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)

	gt.Error(t, results[0].Err)
	gt.True(t, model.IsRetryable(results[0].Err))
	gt.NoError(t, results[1].Err)
	gt.A(t, exec.stored).Length(1)
}

func TestExecuteAllRetryableFailures(t *testing.T) {
	exec := &mockExecutor{
		storeErr:  goerr.Wrap(model.ErrUnavailable, "index unreachable"),
		recallErr: goerr.Wrap(model.ErrUnavailable, "index unreachable"),
	}
	d := dispatch.New(exec)

	ops := []model.Operation{
		{Kind: model.OpStore, Payload: "The user lives in Osaka."},
		{Kind: model.OpRecall, Payload: "places the user has lived"},
	}

	results, err := d.Execute(context.Background(), ops)
	gt.Error(t, err)
	gt.True(t, model.IsRetryable(err))
	gt.A(t, results).Length(2)
	for _, r := range results {
		gt.Error(t, r.Err)
	}
}

func TestExecuteValidationFailureIsNotBatchFailure(t *testing.T) {
	exec := &mockExecutor{
		storeErr: goerr.Wrap(model.ErrInvalidInput, "note text is empty"),
	}
	d := dispatch.New(exec)

	ops := []model.Operation{
		{Kind: model.OpStore, Payload: ""},
	}

	results, err := d.Execute(context.Background(), ops)
	gt.NoError(t, err)
	gt.Error(t, results[0].Err)
	gt.False(t, model.IsRetryable(results[0].Err))
}

func TestExecuteUnknownKind(t *testing.T) {
	d := dispatch.New(&mockExecutor{})

	results, err := d.Execute(context.Background(), []model.Operation{
		{Kind: model.OpKind("update"), Payload: "x"},
	})
	gt.NoError(t, err)
	gt.Error(t, results[0].Err)
	gt.False(t, model.IsRetryable(results[0].Err))
}
