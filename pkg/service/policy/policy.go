package policy

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/engram/pkg/adapter"
	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/engram/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/decide.md
var decidePromptRaw string

var decidePromptTmpl = template.Must(template.New("decide").Parse(decidePromptRaw))

// Policy classifies an incoming user message into an ordered sequence of
// memory operations. An incorrect store or recall is worse than inaction, so
// any malformed classifier output fails closed to an empty sequence.
type Policy struct {
	gemini adapter.Gemini
}

func New(gemini adapter.Gemini) *Policy {
	return &Policy{gemini: gemini}
}

// responseSchema constrains the model to the closed operation set.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"operations": {
			Type:        genai.TypeArray,
			Description: "Ordered memory operations, empty when none apply",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"action": {
						Type:        genai.TypeString,
						Description: "Memory operation to perform",
						Enum:        []string{string(model.OpStore), string(model.OpRecall)},
					},
					"text": {
						Type:        genai.TypeString,
						Description: "Note text to store, or broadened context phrase to recall",
					},
				},
				Required: []string{"action", "text"},
			},
		},
	},
	Required: []string{"operations"},
}

// Classify inspects the latest user message, with optional recent turns for
// disambiguation, and returns the operations to dispatch. A nil, nil return
// means no memory action. A non-nil error is retryable (the classifier
// itself was unreachable); malformed output never produces an error.
func (p *Policy) Classify(ctx context.Context, message string, recent ...string) ([]model.Operation, error) {
	var buf bytes.Buffer
	if err := decidePromptTmpl.Execute(&buf, map[string]any{
		"Message": message,
		"Context": recent,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute decide prompt template")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := p.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(model.ErrUnavailable, "failed to classify message", goerr.V("cause", err))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		logging.From(ctx).Warn("empty classifier response, taking no memory action")
		return nil, nil
	}

	rawJSON := resp.Candidates[0].Content.Parts[0].Text

	ops, ok := parseOperations(rawJSON)
	if !ok {
		logging.From(ctx).Warn("malformed classifier output, taking no memory action",
			"raw", rawJSON)
		return nil, nil
	}

	return ops, nil
}

// parseOperations converts the classifier JSON into operations. Any
// violation of the contract invalidates the whole sequence: the policy never
// guesses or partially repairs.
func parseOperations(rawJSON string) ([]model.Operation, bool) {
	var decision struct {
		Operations []struct {
			Action string `json:"action"`
			Text   string `json:"text"`
		} `json:"operations"`
	}

	if err := json.Unmarshal([]byte(rawJSON), &decision); err != nil {
		return nil, false
	}

	ops := make([]model.Operation, 0, len(decision.Operations))
	for _, op := range decision.Operations {
		kind := model.OpKind(op.Action)
		if !kind.Valid() || op.Text == "" {
			return nil, false
		}
		ops = append(ops, model.Operation{Kind: kind, Payload: op.Text})
	}

	return ops, true
}
