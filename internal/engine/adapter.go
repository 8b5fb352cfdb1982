package engine

import (
	"strings"

	"google.golang.org/genai"

	"github.com/kalambet/salesdojo/internal/ollama"
	"github.com/kalambet/salesdojo/internal/proxy"
)

// toOllamaMessages prepends the system directive and converts to the Ollama
// wire type.
func toOllamaMessages(system string, messages []Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, ollama.Message{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	return &ollama.Schema{
		Type:       s.Type,
		Properties: toOllamaProperties(s.Properties),
		Required:   s.Required,
	}
}

func toOllamaProperties(props map[string]SchemaProperty) map[string]ollama.SchemaProperty {
	if props == nil {
		return nil
	}
	out := make(map[string]ollama.SchemaProperty, len(props))
	for k, v := range props {
		out[k] = ollama.SchemaProperty{
			Type:        v.Type,
			Description: v.Description,
			Properties:  toOllamaProperties(v.Properties),
			Required:    v.Required,
			Minimum:     v.Minimum,
			Maximum:     v.Maximum,
		}
	}
	return out
}

func toProxyMessages(system string, messages []Message) []proxy.Message {
	out := make([]proxy.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, proxy.Message{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, proxy.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// toGenaiContents maps assistant turns onto the "model" role; Gemini has no
// system role in contents, the directive goes into SystemInstruction.
func toGenaiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	return &genai.Schema{
		Type:       genai.Type(strings.ToUpper(s.Type)),
		Properties: toGenaiProperties(s.Properties),
		Required:   s.Required,
	}
}

func toGenaiProperties(props map[string]SchemaProperty) map[string]*genai.Schema {
	if props == nil {
		return nil
	}
	out := make(map[string]*genai.Schema, len(props))
	for k, v := range props {
		gs := &genai.Schema{
			Type:        genai.Type(strings.ToUpper(v.Type)),
			Description: v.Description,
			Properties:  toGenaiProperties(v.Properties),
			Required:    v.Required,
		}
		if v.Minimum != nil {
			f := float64(*v.Minimum)
			gs.Minimum = &f
		}
		if v.Maximum != nil {
			f := float64(*v.Maximum)
			gs.Maximum = &f
		}
		out[k] = gs
	}
	return out
}
