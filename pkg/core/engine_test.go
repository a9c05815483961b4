package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// mockBackend records requests and replies with a canned response.
type mockBackend struct {
	name  string
	reply string
	err   error
	delay time.Duration

	mu       sync.Mutex
	requests []*types.GenerateRequest
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return "re: " + req.LastUserText(), nil
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockBackend) lastRequest() *types.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func newTestEngine(backends ...Backend) *Engine {
	engine := NewEngine(DefaultEngineConfig(), map[string]string{})
	for _, b := range backends {
		engine.RegisterBackend(b)
	}
	return engine
}

func TestEngine_Respond(t *testing.T) {
	backend := &mockBackend{name: "gemini"}
	engine := newTestEngine(backend)

	reply, err := engine.Respond(context.Background(), "今日の天気はどうですか")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "re: 今日の天気はどうですか" {
		t.Errorf("reply = %q", reply)
	}

	turns := engine.History().Snapshot()
	if len(turns) != 2 {
		t.Fatalf("history length = %d, want 2", len(turns))
	}
	if turns[0].Role != types.RoleUser || turns[0].Text != "今日の天気はどうですか" {
		t.Errorf("first turn = %+v, want user turn", turns[0])
	}
	if turns[1].Role != types.RoleAssistant || turns[1].Text != reply {
		t.Errorf("second turn = %+v, want assistant reply", turns[1])
	}
}

func TestEngine_Respond_IncludesHistoryAndPrompt(t *testing.T) {
	backend := &mockBackend{name: "gemini"}
	engine := newTestEngine(backend)

	if _, err := engine.Respond(context.Background(), "こんにちは"); err != nil {
		t.Fatalf("first Respond() error = %v", err)
	}
	if _, err := engine.Respond(context.Background(), "続きをどうぞ"); err != nil {
		t.Fatalf("second Respond() error = %v", err)
	}

	req := backend.lastRequest()
	if req == nil {
		t.Fatal("backend never called")
	}
	if req.System != DefaultSystemPrompt {
		t.Errorf("System = %q, want default system prompt", req.System)
	}
	// Second request sees the committed first exchange plus the new user turn.
	if len(req.Turns) != 3 {
		t.Fatalf("request turns = %d, want 3", len(req.Turns))
	}
	if req.LastUserText() != "続きをどうぞ" {
		t.Errorf("LastUserText() = %q", req.LastUserText())
	}
	if req.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", req.MaxTokens)
	}
	if req.Temperature == nil || *req.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", req.Temperature)
	}
}

func TestEngine_Respond_GenerationError(t *testing.T) {
	backend := &mockBackend{name: "gemini", err: errors.New("upstream 503")}
	engine := newTestEngine(backend)

	_, err := engine.Respond(context.Background(), "長めの発言をしてみます")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsType(err, ErrGeneration) {
		t.Errorf("error type = %q, want %q", TypeOf(err), ErrGeneration)
	}

	turns := engine.History().Snapshot()
	if len(turns) != 1 {
		t.Fatalf("history length = %d, want 1", len(turns))
	}
	if turns[0].Role != types.RoleUser {
		t.Errorf("surviving turn role = %q, want user", turns[0].Role)
	}
}

func TestEngine_Respond_SerializesTurnPairs(t *testing.T) {
	backend := &mockBackend{name: "gemini", delay: 20 * time.Millisecond}
	engine := newTestEngine(backend)

	var wg sync.WaitGroup
	for _, text := range []string{"ひとつめの長い発言です", "ふたつめの長い発言です"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if _, err := engine.Respond(context.Background(), text); err != nil {
				t.Errorf("Respond(%q) error = %v", text, err)
			}
		}(text)
	}
	wg.Wait()

	turns := engine.History().Snapshot()
	if len(turns) != 4 {
		t.Fatalf("history length = %d, want 4", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != types.RoleUser || turns[i+1].Role != types.RoleAssistant {
			t.Fatalf("turns %d/%d roles = %q/%q, want user/assistant", i, i+1, turns[i].Role, turns[i+1].Role)
		}
		if turns[i+1].Text != "re: "+turns[i].Text {
			t.Errorf("reply %q does not pair with user turn %q", turns[i+1].Text, turns[i].Text)
		}
	}
}

func TestEngine_ResolveModel(t *testing.T) {
	gemini := &mockBackend{name: "gemini"}
	openai := &mockBackend{name: "openai"}
	anthropic := &mockBackend{name: "anthropic"}
	engine := newTestEngine(gemini, openai, anthropic)

	tests := []struct {
		model       string
		wantBackend string
		wantModel   string
		wantErr     bool
	}{
		{"gemini-2.0-flash-lite", "gemini", "gemini-2.0-flash-lite", false},
		{"gemini-1.5-pro", "gemini", "gemini-1.5-pro", false},
		{"gpt-4o", "openai", "gpt-4o", false},
		{"o1-mini", "openai", "o1-mini", false},
		{"claude-3-opus", "anthropic", "claude-3-opus", false},
		{"anthropic/claude-sonnet-4", "anthropic", "claude-sonnet-4", false},
		{"openai/gpt-4o", "openai", "gpt-4o", false},
		{"mistral-7b", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			backend, model, err := engine.ResolveModel(tt.model)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveModel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !IsType(err, ErrInvalidConfig) {
					t.Errorf("error type = %q, want %q", TypeOf(err), ErrInvalidConfig)
				}
				return
			}
			if backend.Name() != tt.wantBackend {
				t.Errorf("backend = %q, want %q", backend.Name(), tt.wantBackend)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestEngine_ResolveModel_UnregisteredBackend(t *testing.T) {
	engine := newTestEngine() // nothing registered

	_, _, err := engine.ResolveModel("gemini-2.0-flash-lite")
	if err == nil {
		t.Fatal("expected error for unregistered backend")
	}
	if !IsType(err, ErrInvalidConfig) {
		t.Errorf("error type = %q, want %q", TypeOf(err), ErrInvalidConfig)
	}
}

func TestEngine_GetAPIKey(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig(), map[string]string{"gemini": "explicit-key"})

	if got := engine.GetAPIKey("gemini"); got != "explicit-key" {
		t.Errorf("GetAPIKey(gemini) = %q, want explicit key", got)
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	if got := engine.GetAPIKey("openai"); got != "env-key" {
		t.Errorf("GetAPIKey(openai) = %q, want env key", got)
	}

	if got := engine.GetAPIKey("anthropic"); got != "" {
		t.Errorf("GetAPIKey(anthropic) = %q, want empty", got)
	}
}

func TestEngine_Simulate(t *testing.T) {
	assistant := &mockBackend{name: "gemini", reply: "こんにちは、今日は何をしましたか？"}
	human := &mockBackend{name: "openai", reply: "散歩をしました。"}
	engine := newTestEngine(assistant, human)

	var seen []types.DialogueTurn
	transcript, err := engine.Simulate(context.Background(), SimulateOptions{
		InitialPrompt: "こんにちは",
		Turns:         2,
		OnTurn:        func(turn types.DialogueTurn) { seen = append(seen, turn) },
	})
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}

	// Initial prompt plus two assistant/human exchanges.
	if len(transcript) != 5 {
		t.Fatalf("transcript length = %d, want 5", len(transcript))
	}
	wantRoles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant, types.RoleUser}
	for i, want := range wantRoles {
		if transcript[i].Role != want {
			t.Errorf("turn %d role = %q, want %q", i, transcript[i].Role, want)
		}
	}
	if len(seen) != len(transcript) {
		t.Errorf("OnTurn calls = %d, want %d", len(seen), len(transcript))
	}

	req := human.lastRequest()
	if req == nil {
		t.Fatal("human backend never called")
	}
	if !strings.HasPrefix(req.LastUserText(), humanReplyPreamble) {
		t.Errorf("human prompt missing preamble: %q", req.LastUserText())
	}
	if engine.History().Len() != 0 {
		t.Errorf("session history length = %d, want 0 after simulation", engine.History().Len())
	}
}

func TestEngine_Simulate_StopsOnError(t *testing.T) {
	assistant := &mockBackend{name: "gemini", err: errors.New("quota exceeded")}
	human := &mockBackend{name: "openai"}
	engine := newTestEngine(assistant, human)

	transcript, err := engine.Simulate(context.Background(), SimulateOptions{InitialPrompt: "こんにちは"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsType(err, ErrGeneration) {
		t.Errorf("error type = %q, want %q", TypeOf(err), ErrGeneration)
	}
	if len(transcript) != 1 {
		t.Errorf("transcript length = %d, want just the initial prompt", len(transcript))
	}
	if human.callCount() != 0 {
		t.Errorf("human backend called %d times, want 0", human.callCount())
	}
}
