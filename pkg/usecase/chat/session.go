package chat

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/engram/pkg/adapter"
	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/service/dispatch"
	"github.com/m-mizutani/engram/pkg/service/policy"
	"github.com/m-mizutani/engram/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// recentWindow is how many past utterances are handed to the decision policy
// for disambiguation.
const recentWindow = 6

const systemPrompt = `You are an assistant that focuses on the user's most recent message and responds based solely on that message, using previously stored or recalled memory only when it is directly relevant to the current query. Do not introduce unrelated facts or stories from memory, and avoid adding general knowledge or commentary unless it is necessary to answer the user's specific request.`

// Session manages one memory-augmented conversation: each message is
// classified into memory operations, the operations are dispatched, and the
// reply is generated with the retrieved context.
type Session struct {
	policy     *policy.Policy
	dispatcher *dispatch.Dispatcher
	claude     adapter.Claude

	history []anthropic.MessageParam
	recent  []string
}

// NewInput contains the collaborators for a chat session
type NewInput struct {
	Policy     *policy.Policy
	Dispatcher *dispatch.Dispatcher
	Claude     adapter.Claude
}

func New(input NewInput) *Session {
	return &Session{
		policy:     input.Policy,
		dispatcher: input.Dispatcher,
		claude:     input.Claude,
	}
}

// Send processes one user message and returns the assistant reply. Memory
// failures degrade gracefully: the reply is generated without memory context
// rather than failing the turn.
func (s *Session) Send(ctx context.Context, message string) (string, error) {
	logger := logging.From(ctx)

	ops, err := s.policy.Classify(ctx, message, s.recent...)
	if err != nil {
		logger.Warn("classification failed, answering without memory", "error", err)
		ops = nil
	}

	results, err := s.dispatcher.Execute(ctx, ops)
	if err != nil {
		logger.Warn("memory backend unreachable, answering without memory", "error", err)
	}

	system := systemPrompt
	if memoryContext := buildMemoryContext(ctx, results); memoryContext != "" {
		system += "\n\n" + memoryContext
	}

	userMsg := anthropic.NewUserMessage(anthropic.NewTextBlock(message))
	messages := append(append([]anthropic.MessageParam{}, s.history...), userMsg)

	reply, err := s.claude.Chat(ctx, system, messages)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate response")
	}

	s.history = append(s.history, userMsg, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	s.remember(message, reply)

	return reply, nil
}

// buildMemoryContext renders dispatched results, in emission order, into a
// context block for the response model.
func buildMemoryContext(ctx context.Context, results []*model.OpResult) string {
	var recalled, stored []string

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			logging.From(ctx).Warn("memory operation failed",
				"kind", r.Kind, "position", r.Position, "error", r.Err)
			continue
		}

		switch r.Kind {
		case model.OpRecall:
			for _, m := range r.Retrieved {
				recalled = append(recalled, "- "+m.Note.Text)
			}
		case model.OpStore:
			if r.Note != nil {
				stored = append(stored, "- "+r.Note.Text)
			}
		}
	}

	var sections []string
	if len(recalled) > 0 {
		sections = append(sections, "Previously stored notes that may be relevant:\n"+strings.Join(recalled, "\n"))
	}
	if len(stored) > 0 {
		sections = append(sections, "Noted during this turn for future reference:\n"+strings.Join(stored, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func (s *Session) remember(message, reply string) {
	s.recent = append(s.recent, "user: "+message, "assistant: "+reply)
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}
}
