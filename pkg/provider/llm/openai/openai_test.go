package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxturn/pkg/provider/llm"
)

func TestToSDK(t *testing.T) {
	tests := []struct {
		role    string
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got, err := toSDK(llm.Message{Role: tt.role, Content: "hello"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unsupported role")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var set bool
			switch tt.role {
			case llm.RoleSystem:
				set = got.OfSystem != nil
			case llm.RoleUser:
				set = got.OfUser != nil
			case llm.RoleAssistant:
				set = got.OfAssistant != nil
			}
			if !set {
				t.Errorf("role %q mapped to the wrong union member", tt.role)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr bool
	}{
		{name: "hosted without key", model: "gpt-4o", wantErr: true},
		{name: "no model", key: "sk-test", wantErr: true},
		{name: "negative retries", key: "sk-test", model: "gpt-4o", opts: []Option{WithMaxRetries(-1)}, wantErr: true},
		{name: "self-hosted without key", model: "llama3.2", opts: []Option{WithBaseURL("http://localhost:8000/v1")}},
		{
			name:  "all options",
			key:   "sk-test",
			model: "gpt-4o",
			opts: []Option{
				WithBaseURL("https://custom.example.com"),
				WithOrganization("org-123"),
				WithTimeout(5 * time.Second),
				WithMaxRetries(0),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// chatServer answers every request with body and records the last request.
type chatServer struct {
	mu   sync.Mutex
	path string
	auth string
	req  map[string]any
}

func (s *chatServer) start(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.path = r.URL.Path
		s.auth = r.Header.Get("Authorization")
		s.req = nil
		_ = json.Unmarshal(raw, &s.req)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

const noonReply = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "stop",
		"message": {"role": "assistant", "content": "It is noon."}
	}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func TestComplete_AgainstServer(t *testing.T) {
	var srv chatServer
	url := srv.start(t, noonReply)

	c, err := New("sk-test", "gpt-4o-mini", WithBaseURL(url), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := c.Complete(t.Context(), llm.CompletionRequest{
		SystemPrompt: "Answer in one sentence.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "what time is it"}},
		Temperature:  0.4,
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "It is noon." {
		t.Errorf("Content = %q, want %q", resp.Content, "It is noon.")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.path != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", srv.path)
	}
	if srv.auth != "Bearer sk-test" {
		t.Errorf("auth = %q", srv.auth)
	}
	msgs, _ := srv.req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if srv.req["max_completion_tokens"] != float64(64) {
		t.Errorf("max_completion_tokens = %v, want 64", srv.req["max_completion_tokens"])
	}
	if srv.req["temperature"] != 0.4 {
		t.Errorf("temperature = %v, want 0.4", srv.req["temperature"])
	}
}

func TestComplete_ReasoningModelOmitsTemperature(t *testing.T) {
	var srv chatServer
	url := srv.start(t, noonReply)

	c, err := New("", "o3-mini", WithBaseURL(url), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Complete(t.Context(), llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.req["temperature"]; ok {
		t.Errorf("temperature sent to reasoning model: %v", srv.req["temperature"])
	}
	if srv.auth != "Bearer "+localAPIKey {
		t.Errorf("auth = %q, want placeholder key", srv.auth)
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "empty choices",
			body: `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`,
		},
		{
			name: "refusal",
			body: `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"","refusal":"I can't help with that."}}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var srv chatServer
			url := srv.start(t, tt.body)
			c, err := New("sk-test", "gpt-4o", WithBaseURL(url), WithMaxRetries(0))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := c.Complete(t.Context(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			}); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
