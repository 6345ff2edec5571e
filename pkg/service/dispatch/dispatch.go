package dispatch

import (
	"context"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Executor is the contract the dispatcher drives operations against. The
// local implementation is the memory store service; a remote implementation
// calls the same tools over MCP.
type Executor interface {
	Store(ctx context.Context, text string) (*model.Note, error)
	Recall(ctx context.Context, query string) ([]*model.Retrieved, error)
}

// Dispatcher executes a classified operation batch and enforces the strict
// output contract: one result per operation, in emission order, each tagged
// with its kind and position.
type Dispatcher struct {
	exec Executor
}

func New(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec}
}

// Execute runs all operations concurrently and joins them. Operations within
// a batch are mutually independent, so a failure in one never aborts the
// others; each result carries its own outcome. The returned error is non-nil
// only when every operation in a non-empty batch failed retryably, which
// signals that the backing services are unreachable as a whole.
func (d *Dispatcher) Execute(ctx context.Context, ops []model.Operation) ([]*model.OpResult, error) {
	results := make([]*model.OpResult, len(ops))
	if len(ops) == 0 {
		return results, nil
	}

	var eg errgroup.Group
	for i, op := range ops {
		eg.Go(func() error {
			results[i] = d.execute(ctx, i, op)
			return nil
		})
	}
	// Goroutines report through the results slice, never through errgroup.
	_ = eg.Wait()

	allUnavailable := true
	for _, r := range results {
		if r.Err == nil || !model.IsRetryable(r.Err) {
			allUnavailable = false
			break
		}
	}
	if allUnavailable {
		return results, goerr.Wrap(model.ErrUnavailable, "all memory operations failed",
			goerr.V("operations", len(ops)))
	}

	return results, nil
}

func (d *Dispatcher) execute(ctx context.Context, pos int, op model.Operation) *model.OpResult {
	result := &model.OpResult{
		Kind:     op.Kind,
		Position: pos,
	}

	switch op.Kind {
	case model.OpStore:
		result.Note, result.Err = d.exec.Store(ctx, op.Payload)
	case model.OpRecall:
		result.Retrieved, result.Err = d.exec.Recall(ctx, op.Payload)
	default:
		result.Err = goerr.Wrap(model.ErrInvalidInput, "unknown operation kind",
			goerr.V("kind", op.Kind))
	}

	return result
}
