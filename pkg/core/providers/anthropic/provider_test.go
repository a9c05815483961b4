package anthropic

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

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
	if got := p.Name(); got != "anthropic" {
		t.Errorf("Name() = %q, want %q", got, "anthropic")
	}
}

func TestProvider_Generate(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected X-API-Key header")
		}
		if r.Header.Get("anthropic-version") != APIVersion {
			t.Errorf("expected anthropic-version header")
		}

		var reqBody anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if reqBody.Model != "claude-3-opus" {
			t.Errorf("expected model claude-3-opus, got %s", reqBody.Model)
		}
		if reqBody.System == "" {
			t.Error("expected system prompt to be forwarded")
		}
		if len(reqBody.Messages) != 1 || reqBody.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", reqBody.Messages)
		}

		resp := map[string]any{
			"id":    "msg_123",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-3-opus",
			"content": []map[string]any{
				{"type": "text", "text": "こんにちは！"},
			},
			"stop_reason": "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL))

	reply, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model:  "claude-3-opus",
		System: "あなたは会話の相手です。",
		Turns: []types.DialogueTurn{
			{Role: types.RoleUser, Text: "こんにちは"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "こんにちは！" {
		t.Errorf("reply = %q, want %q", reply, "こんにちは！")
	}
}

func TestProvider_Generate_DefaultMaxTokens(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if reqBody.MaxTokens != DefaultMaxTokens {
			t.Errorf("max_tokens = %d, want default %d", reqBody.MaxTokens, DefaultMaxTokens)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL))
	if _, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model: "claude-3-sonnet",
		Turns: []types.DialogueTurn{{Role: types.RoleUser, Text: "hi"}},
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestProvider_Generate_APIError(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]string{
				"type":    "authentication_error",
				"message": "invalid x-api-key",
			},
		})
	}))
	defer server.Close()

	p := New("bad-key", WithBaseURL(server.URL))
	_, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model: "claude-3-opus",
		Turns: []types.DialogueTurn{{Role: types.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	anthErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if anthErr.Type != ErrAuthentication {
		t.Errorf("Type = %q, want %q", anthErr.Type, ErrAuthentication)
	}
	if anthErr.IsRetryable() {
		t.Error("authentication errors must not be retryable")
	}
}

func TestProvider_Generate_EmptyCompletion(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{},
			"stop_reason": "max_tokens",
		})
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL))
	_, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model: "claude-3-opus",
		Turns: []types.DialogueTurn{{Role: types.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty completion")
	}
}

func TestBuildMessages_AlternationRules(t *testing.T) {
	turns := []types.DialogueTurn{
		{Role: types.RoleAssistant, Text: "はい"}, // leading filler, dropped
		{Role: types.RoleUser, Text: "こんにちは"},
		{Role: types.RoleAssistant, Text: "こんにちは！"},
		{Role: types.RoleAssistant, Text: "なるほど"}, // merged into previous
		{Role: types.RoleUser, Text: "今日は暑いですね"},
	}

	messages := buildMessages(turns)

	if len(messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "こんにちは" {
		t.Errorf("messages[0] = %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "こんにちは！\nなるほど" {
		t.Errorf("messages[1] = %+v", messages[1])
	}
	if messages[2].Role != "user" || messages[2].Content != "今日は暑いですね" {
		t.Errorf("messages[2] = %+v", messages[2])
	}
}

func TestParseError_Unparseable(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream gateway timeout"))
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL))
	_, err := p.Generate(context.Background(), &types.GenerateRequest{
		Model: "claude-3-opus",
		Turns: []types.DialogueTurn{{Role: types.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	anthErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if anthErr.Type != ErrProvider {
		t.Errorf("Type = %q, want %q", anthErr.Type, ErrProvider)
	}
}
