// Package grading scores a finished roleplay transcript against a fixed
// five-category rubric.
package grading

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/engine"
	"github.com/kalambet/salesdojo/internal/storage"
)

const defaultTimeout = 90 * time.Second

// Scores should not drift between identical transcripts.
var gradingTemperature = 0.0

// Grader asks a completion backend to score transcripts.
type Grader struct {
	completer engine.Engine
	model     string
	timeout   time.Duration
}

// New creates a Grader for model. A non-positive timeout selects the default.
func New(completer engine.Engine, model string, timeout time.Duration) *Grader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Grader{completer: completer, model: model, timeout: timeout}
}

// Grade scores transcript. Unparseable output never fails: it yields the
// Fallback report. Only a failed completion call returns an error, a
// *apperr.ProviderError.
func (g *Grader) Grade(ctx context.Context, transcript []storage.Message) (Report, error) {
	if len(transcript) == 0 {
		return Report{}, apperr.Invalid("cannot grade an empty transcript")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.completer.Complete(ctx, engine.Request{
		Model:       g.model,
		System:      rubricDirective,
		Messages:    BuildPrompt(transcript),
		Schema:      reportSchema(),
		Temperature: &gradingTemperature,
	})
	if err != nil {
		return Report{}, &apperr.ProviderError{Op: "grading", Err: err}
	}

	report, err := Parse(raw)
	if err != nil {
		slog.Warn("grading output not parseable, using fallback report", "error", err, "response", raw)
		return Fallback(), nil
	}
	return report, nil
}
