// Package evaluate asks a Gemini model on Vertex AI whether a deployed agent's
// answer actually addresses the smoke-test query.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dhamidi/agentdeploy/platform"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrNoVerdict is returned when the model reply does not start with PASS or FAIL.
var ErrNoVerdict = errors.New("evaluate: model reply contained no verdict")

const systemInstruction = `You review smoke tests of deployed conversational agents.
You are given the user's query and the agent's full reply.
Answer on the first line with exactly PASS if the reply is a relevant, non-empty attempt to help with the query, or FAIL otherwise.
On the following lines give a one-sentence reason.`

// Verdict is the model's judgement.
type Verdict struct {
	Pass   bool
	Reason string
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Evaluator judges transcripts with one model.
type Evaluator struct {
	models generator
	model  string
}

// NewVertex creates an Evaluator backed by Vertex AI in project/location.
func NewVertex(ctx context.Context, project, location, model string, creds platform.CredentialsProvider) (*Evaluator, error) {
	authCreds, err := creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:     project,
		Location:    location,
		Backend:     genai.BackendVertexAI,
		Credentials: authCreds,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: failed to create genai client: %w", err)
	}
	return newEvaluator(client.Models, model), nil
}

func newEvaluator(models generator, model string) *Evaluator {
	if model == "" {
		model = DefaultModel
	}
	return &Evaluator{models: models, model: model}
}

// Model returns the model name in use.
func (e *Evaluator) Model() string {
	return e.model
}

// Evaluate judges transcript as a reply to query. An empty transcript fails
// without contacting the model.
func (e *Evaluator) Evaluate(ctx context.Context, query, transcript string) (Verdict, error) {
	if strings.TrimSpace(transcript) == "" {
		return Verdict{Pass: false, Reason: "agent returned no content"}, nil
	}

	prompt := fmt.Sprintf("Query:\n%s\n\nAgent reply:\n%s\n", query, transcript)
	response, err := e.models.GenerateContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
			MaxOutputTokens:   256,
		},
	)
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluate: %s: %w", e.model, err)
	}

	return parseVerdict(responseText(response))
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func parseVerdict(text string) (Verdict, error) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)

	var v Verdict
	switch upper := strings.ToUpper(first); {
	case strings.HasPrefix(upper, "PASS"):
		v.Pass = true
		first = first[len("PASS"):]
	case strings.HasPrefix(upper, "FAIL"):
		first = first[len("FAIL"):]
	default:
		return Verdict{}, fmt.Errorf("%w: %q", ErrNoVerdict, text)
	}

	reason := strings.TrimSpace(strings.TrimLeft(first, ":.- "))
	if r := strings.TrimSpace(rest); r != "" {
		if reason != "" {
			reason += " "
		}
		reason += r
	}
	v.Reason = reason
	return v, nil
}
