package grading

import (
	"fmt"
	"strings"

	"github.com/kalambet/salesdojo/internal/engine"
	"github.com/kalambet/salesdojo/internal/progression"
	"github.com/kalambet/salesdojo/internal/storage"
)

const rubricDirective = `You are a sales coach grading a recorded roleplay between a sales rep and a prospect. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Score each category with an integer from 1 (poor) to 5 (excellent):
- "opener": did the rep introduce themselves clearly and earn the right to keep talking?
- "discovery": did the rep ask questions that uncovered the prospect's situation and needs?
- "objections": did the rep acknowledge and handle pushback instead of ignoring or arguing with it?
- "confidence": did the rep sound calm, credible and in control of the conversation?
- "close": did the rep ask for a clear next step or commitment at the right moment?

Add "summary": two or three sentences of concrete, encouraging feedback addressed to the rep.

The JSON object must have exactly two keys, "scores" and "summary". "scores" must have exactly the five keys above.`

// BuildPrompt renders the transcript as one user message, labelling each line
// with its speaker.
func BuildPrompt(transcript []storage.Message) []engine.Message {
	var sb strings.Builder
	sb.WriteString("Transcript:\n")
	for _, m := range transcript {
		speaker := "Prospect"
		if m.Role == storage.RoleUser {
			speaker = "Rep"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	return []engine.Message{{Role: engine.RoleUser, Content: sb.String()}}
}

// reportSchema returns the structured-output schema for a score report.
func reportSchema() *engine.Schema {
	lo, hi := progression.MinScore, progression.MaxScore
	props := make(map[string]engine.SchemaProperty, len(progression.Categories))
	for _, c := range progression.Categories {
		props[c] = engine.SchemaProperty{Type: "integer", Minimum: &lo, Maximum: &hi}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"scores": {
				Type:       "object",
				Properties: props,
				Required:   progression.Categories,
			},
			"summary": {Type: "string", Description: "Short feedback for the rep"},
		},
		Required: []string{"scores", "summary"},
	}
}
