package engine

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when a backend answers without any text
// candidates.
var ErrEmptyCompletion = errors.New("completion returned no candidates")

// Engine abstracts a completion backend (a local Ollama server, an
// OpenAI-compatible router or the Gemini API). The roleplay and grading
// services use this interface instead of depending on a concrete client.
type Engine interface {
	// Name identifies the backend in logs and health output.
	Name() string

	// Complete sends the request and returns the raw assistant text.
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelManager is implemented by backends that host models locally and can
// pull missing ones.
type ModelManager interface {
	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
