package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RemoteExecutor drives memory operations against an engine running behind
// an MCP endpoint. It satisfies the dispatcher's Executor contract, so a
// turn can be dispatched against a remote engine exactly like a local one.
type RemoteExecutor struct {
	client     *Client
	serverName string
}

func NewRemoteExecutor(client *Client, serverName string) *RemoteExecutor {
	return &RemoteExecutor{
		client:     client,
		serverName: serverName,
	}
}

func (e *RemoteExecutor) Store(ctx context.Context, text string) (*model.Note, error) {
	result, err := e.client.CallTool(ctx, e.serverName, "memory_store", map[string]any{
		"text": text,
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "memory_store call failed", goerr.V("cause", err))
	}

	var stored StoredNote
	if err := decodeStructured(result, &stored); err != nil {
		return nil, err
	}

	return &model.Note{
		ID:        model.NoteID(stored.ID),
		Text:      stored.Text,
		CreatedAt: stored.CreatedAt,
	}, nil
}

func (e *RemoteExecutor) Recall(ctx context.Context, query string) ([]*model.Retrieved, error) {
	result, err := e.client.CallTool(ctx, e.serverName, "memory_recall", map[string]any{
		"context": query,
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "memory_recall call failed", goerr.V("cause", err))
	}

	var output RecallOutput
	if err := decodeStructured(result, &output); err != nil {
		return nil, err
	}

	retrieved := make([]*model.Retrieved, 0, len(output.Notes))
	for _, n := range output.Notes {
		retrieved = append(retrieved, &model.Retrieved{
			Note: &model.Note{
				ID:        model.NoteID(n.ID),
				Text:      n.Text,
				CreatedAt: n.CreatedAt,
			},
			Score: n.Score,
		})
	}

	return retrieved, nil
}

// decodeStructured extracts the structured tool output into v.
func decodeStructured(result *mcp.CallToolResult, v any) error {
	if result.IsError {
		return goerr.New("tool reported an error", goerr.V("content", toolText(result)))
	}

	raw, err := json.Marshal(result.StructuredContent)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal structured content")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return goerr.Wrap(err, "failed to decode structured content")
	}

	return nil
}

func toolText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
