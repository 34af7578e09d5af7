// Package synthesis turns a completed interview transcript into a structured
// knowledge-transfer document via the Gemini API.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
)

// Synthesizer produces one structured document from a transcript.
type Synthesizer interface {
	Synthesize(ctx context.Context, sess *interview.Session, transcript string) (*interview.Document, error)
}

type GeminiSynthesizer struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*GeminiSynthesizer, error) {
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiSynthesizer{client: client, model: model}, nil
}

func (g *GeminiSynthesizer) Synthesize(ctx context.Context, sess *interview.Session, transcript string) (*interview.Document, error) {
	prompt := buildPrompt(sess, transcript)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   documentSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("generate document: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("empty synthesis response")
	}
	var doc interview.Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode document json: %w", err)
	}
	return &doc, nil
}

func buildPrompt(sess *interview.Session, transcript string) string {
	p := sess.Participant

	var b strings.Builder
	b.WriteString("You are a technical writer producing a knowledge-transfer document from a spoken interview transcript.\n")
	if p.Role != "" {
		fmt.Fprintf(&b, "The interviewee works as %s.\n", p.Role)
	}
	if p.Goal != "" {
		fmt.Fprintf(&b, "The interview goal was: %s.\n", p.Goal)
	}
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, "Target topics: %s.\n", strings.Join(p.Topics, "; "))
	}
	b.WriteString("\nFrom the transcript below, extract the concrete knowledge shared. " +
		"Organize it by topic, call out critical knowledge that only the interviewee holds, " +
		"list gaps the interview did not cover, recommend concrete next actions, and " +
		"propose follow-up questions for a future session.\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

var documentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":   {Type: genai.TypeString},
		"summary": {Type: genai.TypeString},
		"sections": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"topic":   {Type: genai.TypeString},
					"content": {Type: genai.TypeString},
				},
				Required: []string{"topic", "content"},
			},
		},
		"criticalKnowledge": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"gaps":              {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"recommendedSteps":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"followUpQuestions": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "summary", "sections"},
}
