package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/salesdojo/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine and
// ModelManager interfaces.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Name() string { return "ollama" }

// Complete sends req as a non-streaming chat. A model that has not been
// pulled yet comes back with a hint instead of Ollama's bare 404.
func (e *OllamaEngine) Complete(ctx context.Context, req Request) (string, error) {
	out, err := e.client.Chat(ctx, ollama.ChatRequest{
		Model:       req.Model,
		Messages:    toOllamaMessages(req.System, req.Messages),
		Format:      toOllamaSchema(req.Schema),
		Temperature: req.Temperature,
	})
	if ollama.IsModelMissing(err) {
		return "", fmt.Errorf("model %q is not pulled; run `ollama pull %s`: %w", req.Model, req.Model, err)
	}
	return out, err
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
