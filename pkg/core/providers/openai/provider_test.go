package openai

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

func TestProvider_Name(t *testing.T) {
	p := New("test-key")
	if got := p.Name(); got != "openai" {
		t.Errorf("Name() = %q, want %q", got, "openai")
	}
}

func TestProvider_Generate(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}

		var reqBody openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if reqBody.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", reqBody.Model)
		}
		if len(reqBody.Messages) != 2 || reqBody.Messages[0].Role != openai.ChatMessageRoleSystem {
			t.Errorf("unexpected messages: %+v", reqBody.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: "散歩をしました。",
					},
					FinishReason: openai.FinishReasonStop,
				},
			},
		})
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL+"/v1"))

	reply, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model:  "gpt-4o",
		System: "あなたは人間です。",
		Turns: []types.DialogueTurn{
			{Role: types.RoleUser, Text: "今日は何をしましたか"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "散歩をしました。" {
		t.Errorf("reply = %q, want %q", reply, "散歩をしました。")
	}
}

func TestProvider_Generate_APIError(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Incorrect API key provided",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
	}))
	defer server.Close()

	p := New("bad-key", WithBaseURL(server.URL+"/v1"))
	_, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model: "gpt-4o",
		Turns: []types.DialogueTurn{{Role: types.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	oaiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error (%v)", err, err)
	}
	if oaiErr.Type != ErrAuthentication {
		t.Errorf("Type = %q, want %q", oaiErr.Type, ErrAuthentication)
	}
	if oaiErr.IsRetryable() {
		t.Error("authentication errors must not be retryable")
	}
}

func TestBuildRequest(t *testing.T) {
	temp := 0.9
	topP := 0.95
	req := buildRequest(&types.GenerateRequest{
		Model:  "gpt-4o",
		System: "あなたは会話の相手です。",
		Turns: []types.DialogueTurn{
			{Role: types.RoleUser, Text: "こんにちは"},
			{Role: types.RoleAssistant, Text: "こんにちは！"},
			{Role: types.RoleUser, Text: "元気ですか"},
		},
		MaxTokens:   1024,
		Temperature: &temp,
		TopP:        &topP,
	})

	if len(req.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages[0].Role = %q, want system", req.Messages[0].Role)
	}
	if req.Messages[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("messages[2].Role = %q, want assistant", req.Messages[2].Role)
	}
	if req.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", req.MaxTokens)
	}
	if req.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", req.Temperature)
	}

	defaults := buildRequest(&types.GenerateRequest{Model: "gpt-4o"})
	if defaults.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", defaults.MaxTokens, DefaultMaxTokens)
	}
	if len(defaults.Messages) != 0 {
		t.Errorf("empty request should carry no messages, got %d", len(defaults.Messages))
	}
}
