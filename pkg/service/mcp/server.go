package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/service/memory"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes the memory store as MCP tools so that any MCP-capable agent
// can drive store/recall/forget without linking the engine in-process.
type Server struct {
	store *memory.Store
	srv   *mcp.Server
}

type storeParams struct {
	Text string `json:"text" jsonschema:"The note text to persist, already rewritten into an impersonal third-person statement"`
}

type recallParams struct {
	Context string `json:"context" jsonschema:"A context-rich phrase describing the class of information to look up"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of notes to return (default: configured top-K)"`
}

type forgetParams struct {
	ID string `json:"id" jsonschema:"Identifier of the note to remove"`
}

// StoredNote is the structured result of memory_store.
type StoredNote struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RecalledNote is one entry of the structured memory_recall result.
type RecalledNote struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// RecallOutput is the structured result of memory_recall, ordered by
// descending score.
type RecallOutput struct {
	Notes []RecalledNote `json:"notes"`
}

type forgetOutput struct {
	ID string `json:"id"`
}

// NewServer creates an MCP server wrapping the given memory store.
func NewServer(store *memory.Store, version string) *Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "engram",
		Version: version,
	}, nil)

	s := &Server{
		store: store,
		srv:   srv,
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name: "memory_store",
		Description: "Persist a user-specific fact as long-term memory. " +
			"Use only for information specific to the user; never store general knowledge.",
	}, s.memoryStore)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "memory_recall",
		Description: "Semantic search over previously stored memory. " +
			"Provide a broadened context phrase describing the kind of information sought.",
	}, s.memoryRecall)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "memory_forget",
		Description: "Remove a stored note by its identifier. Administrative use only.",
	}, s.memoryForget)

	return s
}

// Run serves MCP requests on the given transport until the context is
// cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.srv.Run(ctx, transport)
}

// Handler returns an http.Handler speaking the streamable HTTP transport,
// for serving over a network instead of stdio.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.srv
	}, nil)
}

func (s *Server) memoryStore(ctx context.Context, req *mcp.CallToolRequest, params *storeParams) (*mcp.CallToolResult, any, error) {
	note, err := s.store.Store(ctx, params.Text)
	if err != nil {
		return nil, nil, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Stored note: " + note.Text},
		},
	}, StoredNote{ID: string(note.ID), Text: note.Text, CreatedAt: note.CreatedAt}, nil
}

func (s *Server) memoryRecall(ctx context.Context, req *mcp.CallToolRequest, params *recallParams) (*mcp.CallToolResult, any, error) {
	results, err := s.store.Recall(ctx, params.Context, params.Limit, nil)
	if err != nil {
		return nil, nil, err
	}

	output := RecallOutput{Notes: make([]RecalledNote, 0, len(results))}
	var lines []string
	for _, r := range results {
		output.Notes = append(output.Notes, RecalledNote{
			ID:        string(r.Note.ID),
			Text:      r.Note.Text,
			Score:     r.Score,
			CreatedAt: r.Note.CreatedAt,
		})
		lines = append(lines, "- "+r.Note.Text)
	}

	text := fmt.Sprintf("No notes relevant to %q available.", params.Context)
	if len(lines) > 0 {
		text = strings.Join(lines, "\n")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}

func (s *Server) memoryForget(ctx context.Context, req *mcp.CallToolRequest, params *forgetParams) (*mcp.CallToolResult, any, error) {
	if err := s.store.Forget(ctx, model.NoteID(params.ID)); err != nil {
		return nil, nil, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Forgot note " + params.ID},
		},
	}, forgetOutput{ID: params.ID}, nil
}
