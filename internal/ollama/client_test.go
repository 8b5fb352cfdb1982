package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func modelsHandler(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		var resp tagsResponse
		for _, n := range names {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{Name: n})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// chatServer answers /api/chat with reply and hands each raw request body to
// onBody.
func chatServer(t *testing.T, reply string, onBody func(map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding chat body: %v", err)
		}
		if onBody != nil {
			onBody(body)
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: reply}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIsRunning(t *testing.T) {
	up := httptest.NewServer(modelsHandler("llama3.2:latest"))
	defer up.Close()
	if !New(up.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false against a live server")
	}

	down := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	down.Close()
	if New(down.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true against a closed server")
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	if New(broken.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true against a server answering 500")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(modelsHandler("llama3.2:latest", "qwen2.5:7b"))
	defer srv.Close()

	models, err := New(srv.URL + "/").ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if diff := cmp.Diff([]string{"llama3.2:latest", "qwen2.5:7b"}, models); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(modelsHandler("llama3.2:latest", "qwen2.5:7b"))
	defer srv.Close()

	c := New(srv.URL)
	tests := []struct {
		name string
		want bool
	}{
		{"llama3.2", true},
		{"llama3.2:latest", true},
		{"qwen2.5:7b", true},
		{"qwen2.5:14b", false},
		{"llama3", false},
		{"mistral", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestChat_PlainText(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "We already have a pest guy.", func(b map[string]any) { body = b })

	result, err := New(srv.URL).Chat(context.Background(), ChatRequest{
		Model: "llama3.2",
		Messages: []Message{
			{Role: "system", Content: "You are a homeowner."},
			{Role: "user", Content: "Hi there!"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "We already have a pest guy." {
		t.Errorf("result = %q", result)
	}
	if body["stream"] != false {
		t.Errorf("stream = %v, want false", body["stream"])
	}
	if _, ok := body["format"]; ok {
		t.Errorf("format = %v, want omitted", body["format"])
	}
	if _, ok := body["options"]; ok {
		t.Errorf("options = %v, want omitted without a temperature", body["options"])
	}
}

func TestChat_Temperature(t *testing.T) {
	tests := []struct {
		name string
		temp float64
	}{
		{"zero is sent", 0},
		{"warm", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := chatServer(t, "ok", func(b map[string]any) { body = b })

			temp := tt.temp
			if _, err := New(srv.URL).Chat(context.Background(), ChatRequest{
				Model:       "llama3.2",
				Messages:    []Message{{Role: "user", Content: "hi"}},
				Temperature: &temp,
			}); err != nil {
				t.Fatalf("Chat: %v", err)
			}

			opts, ok := body["options"].(map[string]any)
			if !ok {
				t.Fatalf("options = %v, want an object", body["options"])
			}
			if opts["temperature"] != tt.temp {
				t.Errorf("options.temperature = %v, want %v", opts["temperature"], tt.temp)
			}
		})
	}
}

func TestChat_JSONSchema(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, `{"scores":{"opener":3},"summary":"ok"}`, func(b map[string]any) { body = b })

	one, five := 1, 5
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"scores": {
				Type: "object",
				Properties: map[string]SchemaProperty{
					"opener": {Type: "integer", Minimum: &one, Maximum: &five},
				},
				Required: []string{"opener"},
			},
			"summary": {Type: "string"},
		},
		Required: []string{"scores", "summary"},
	}

	result, err := New(srv.URL).Chat(context.Background(), ChatRequest{
		Model:    "llama3.2",
		Messages: []Message{{Role: "user", Content: "grade this"}},
		Format:   schema,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	format, ok := body["format"].(map[string]any)
	if !ok {
		t.Fatalf("format = %T, want a schema object", body["format"])
	}
	props := format["properties"].(map[string]any)
	scores := props["scores"].(map[string]any)
	opener := scores["properties"].(map[string]any)["opener"].(map[string]any)
	if opener["maximum"] != float64(5) {
		t.Errorf("opener.maximum = %v, want 5", opener["maximum"])
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Errorf("response is not valid JSON: %v", err)
	}
}

func TestChat_StatusError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantMissing bool
	}{
		{"model not pulled", http.StatusNotFound, `{"error":"model \"llama9\" not found, try pulling it first"}`, `model "llama9" not found, try pulling it first`, true},
		{"server fault with raw body", http.StatusInternalServerError, "  out of memory\n", "out of memory", false},
		{"empty body", http.StatusBadGateway, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Chat(context.Background(), ChatRequest{
				Model:    "llama9",
				Messages: []Message{{Role: "user", Content: "hi"}},
			})
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v (%T), want *StatusError", err, err)
			}
			if se.StatusCode != tt.status || se.Path != "/api/chat" {
				t.Errorf("StatusError = %+v, want status %d on /api/chat", se, tt.status)
			}
			if se.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", se.Message, tt.wantMessage)
			}
			if got := IsModelMissing(err); got != tt.wantMissing {
				t.Errorf("IsModelMissing = %v, want %v", got, tt.wantMissing)
			}
			if !strings.Contains(err.Error(), fmt.Sprint(tt.status)) {
				t.Errorf("error %q does not carry the status", err)
			}
		})
	}
}

func TestIsModelMissing_OtherErrors(t *testing.T) {
	if IsModelMissing(nil) {
		t.Error("IsModelMissing(nil) = true")
	}
	if IsModelMissing(errors.New("connection refused")) {
		t.Error("IsModelMissing(plain error) = true")
	}
	wrapped := fmt.Errorf("turn: %w", &StatusError{Path: "/api/chat", StatusCode: http.StatusNotFound})
	if !IsModelMissing(wrapped) {
		t.Error("IsModelMissing(wrapped 404) = false")
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		var req pullRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "llama3.2" || !req.Stream {
			t.Errorf("pull request = %+v, want streamed llama3.2", req)
		}

		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var got []PullProgress
	err := New(srv.URL).PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		got = append(got, p)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	want := []PullProgress{
		{Status: "downloading", Total: 1000, Completed: 500},
		{Status: "downloading", Total: 1000, Completed: 1000},
		{Status: "success"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestPullModel_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(map[string]string{"error": "pull model manifest: file does not exist"})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var updates int
	err := New(srv.URL).PullModel(context.Background(), "llama9", func(PullProgress) { updates++ })
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Fatalf("err = %v, want the streamed error", err)
	}
	if updates != 1 {
		t.Errorf("updates = %d, want 1 before the error line", updates)
	}
}

func TestPullModel_NilCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	if err := New(srv.URL).PullModel(context.Background(), "llama3.2", nil); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
}
