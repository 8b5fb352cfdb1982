package engine

import (
	"context"

	"github.com/kalambet/salesdojo/internal/proxy"
)

// RouterEngine sends completions to an OpenAI-compatible API such as
// OpenRouter.
type RouterEngine struct {
	client *proxy.Client
}

// NewRouterEngine creates a RouterEngine. An empty baseURL targets OpenRouter.
func NewRouterEngine(apiKey, baseURL string) *RouterEngine {
	return &RouterEngine{client: proxy.NewClientWithBaseURL(apiKey, baseURL)}
}

func (e *RouterEngine) Name() string { return "openrouter" }

// Complete maps a Schema onto the json_object response format; the schema
// itself is described to the model in the directive.
func (e *RouterEngine) Complete(ctx context.Context, req Request) (string, error) {
	cr := proxy.ChatRequest{
		Model:       req.Model,
		Messages:    toProxyMessages(req.System, req.Messages),
		Temperature: req.Temperature,
	}
	if req.Schema != nil {
		cr.ResponseFormat = &proxy.ResponseFormat{Type: "json_object"}
	}
	return e.client.Complete(ctx, cr)
}
