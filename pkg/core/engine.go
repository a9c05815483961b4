package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// DefaultSystemPrompt frames the assistant as a natural conversation
// partner: answer questions, offer perspective, keep the exchange moving.
const DefaultSystemPrompt = `あなたは会話の相手です。ユーザーの発言に対して、自然な会話を続けるように返答してください。
質問には答え、意見には共感や別の視点を提供し、会話を発展させてください。
返答は簡潔で自然な会話調にしてください。`

// DefaultHumanSystemPrompt frames the human-simulation side of a
// model-to-model conversation.
const DefaultHumanSystemPrompt = `あなたは人間です。AIアシスタントと自然な会話をしてください。
質問したり、感想を述べたり、話題を広げたりしてください。
返答は簡潔な会話調にしてください。`

// humanReplyPreamble wraps the assistant's message when asking the
// human-simulation model for its next line.
const humanReplyPreamble = "以下はAIアシスタントからのメッセージです。あなたは人間として自然に返信してください。\n\n"

// EngineConfig holds dialogue generation settings.
type EngineConfig struct {
	// AssistantModel answers the operator's utterances.
	AssistantModel string

	// HumanModel plays the operator side in model-to-model simulation.
	HumanModel string

	// SystemPrompt is sent with every assistant generation.
	SystemPrompt string

	// Generation parameters applied to every request.
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AssistantModel: "gemini-2.0-flash-lite",
		HumanModel:     "gpt-4o",
		SystemPrompt:   DefaultSystemPrompt,
		MaxTokens:      2048,
		Temperature:    0.9,
		TopP:           0.95,
		TopK:           40,
	}
}

// Engine routes utterances to conversational model backends and owns the
// dialogue history. Respond commits a whole turn pair under one lock, so
// overlapping calls serialize as (user, reply, user, reply) with no
// interleaving.
type Engine struct {
	config      EngineConfig
	registry    BackendRegistry
	backendKeys map[string]string
	history     *History

	mu sync.Mutex // serializes turn commits
}

// NewEngine creates an Engine with the given configuration and explicit
// backend API keys. If backendKeys is nil, environment variables are used.
func NewEngine(config EngineConfig, backendKeys map[string]string) *Engine {
	if backendKeys == nil {
		backendKeys = make(map[string]string)
	}
	return &Engine{
		config:      config,
		registry:    NewBackendRegistry(),
		backendKeys: backendKeys,
		history:     NewHistory(),
	}
}

// RegisterBackend adds a backend to the engine.
func (e *Engine) RegisterBackend(backend Backend) {
	e.registry.Register(backend)
}

// BackendNames returns the list of registered backend names.
func (e *Engine) BackendNames() []string {
	return e.registry.List()
}

// History returns the engine's dialogue history.
func (e *Engine) History() *History {
	return e.history
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// GetAPIKey returns the API key for a backend. It checks the explicit keys
// first, then the {BACKEND}_API_KEY environment variable.
func (e *Engine) GetAPIKey(backend string) string {
	if key, ok := e.backendKeys[backend]; ok {
		return key
	}
	envKey := strings.ToUpper(backend) + "_API_KEY"
	return os.Getenv(envKey)
}

// ResolveModel maps a model name to its registered backend. Explicit
// "backend/model-name" strings route directly; bare names route by family
// prefix (gemini-*, gpt-*/o-series, claude-*).
func (e *Engine) ResolveModel(model string) (Backend, string, error) {
	backendName, modelName := "", model
	if i := strings.IndexByte(model, '/'); i >= 0 {
		backendName, modelName = model[:i], model[i+1:]
	} else {
		switch {
		case strings.HasPrefix(model, "gemini"):
			backendName = "gemini"
		case strings.HasPrefix(model, "gpt"),
			strings.HasPrefix(model, "o1"),
			strings.HasPrefix(model, "o3"),
			strings.HasPrefix(model, "chatgpt"):
			backendName = "openai"
		case strings.HasPrefix(model, "claude"):
			backendName = "anthropic"
		}
	}
	if backendName == "" {
		return nil, "", NewInvalidConfigError(fmt.Sprintf("no backend for model %q", model))
	}
	backend, ok := e.registry.Get(backendName)
	if !ok {
		return nil, "", NewInvalidConfigError(fmt.Sprintf("backend %q not registered (model %q)", backendName, model))
	}
	return backend, modelName, nil
}

// Respond appends userText as a user turn, asks the assistant model for a
// reply over the full history, and appends the reply as an assistant turn.
// On failure the user turn stays recorded, no assistant turn is appended,
// and the returned error carries ErrGeneration.
func (e *Engine) Respond(ctx context.Context, userText string) (string, error) {
	backend, modelName, err := e.ResolveModel(e.config.AssistantModel)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history.AppendUser(userText)
	req := e.buildRequest(modelName, e.config.SystemPrompt, e.history.Snapshot())
	reply, err := backend.Generate(ctx, req)
	if err != nil {
		return "", NewGenerationError(backend.Name(), err)
	}
	e.history.AppendAssistant(reply)
	return reply, nil
}

func (e *Engine) buildRequest(model, system string, turns []types.DialogueTurn) *types.GenerateRequest {
	temp := e.config.Temperature
	topP := e.config.TopP
	topK := e.config.TopK
	return &types.GenerateRequest{
		Model:       model,
		System:      system,
		Turns:       turns,
		MaxTokens:   e.config.MaxTokens,
		Temperature: &temp,
		TopP:        &topP,
		TopK:        &topK,
	}
}

// SimulateOptions configure a model-to-model conversation run.
type SimulateOptions struct {
	// InitialPrompt is the human side's opening line.
	InitialPrompt string

	// Turns is the number of assistant/human exchanges (default 5).
	Turns int

	// AssistantSystem and HumanSystem override the role system prompts.
	AssistantSystem string
	HumanSystem     string

	// OnTurn, when set, is called as each turn is produced.
	OnTurn func(turn types.DialogueTurn)
}

// Simulate runs a conversation between the assistant model and the
// human-simulation model, starting from the initial prompt. Each side sees
// only the other side's latest message, matching a spoken exchange. The
// transcript is returned without touching the engine's session history;
// on a failed generation the turns produced so far are returned with the
// error.
func (e *Engine) Simulate(ctx context.Context, opts SimulateOptions) ([]types.DialogueTurn, error) {
	if opts.Turns <= 0 {
		opts.Turns = 5
	}
	if opts.AssistantSystem == "" {
		opts.AssistantSystem = e.config.SystemPrompt
	}
	if opts.HumanSystem == "" {
		opts.HumanSystem = DefaultHumanSystemPrompt
	}

	emit := func(turns []types.DialogueTurn, role types.Role, text string) []types.DialogueTurn {
		turn := types.DialogueTurn{Role: role, Text: text, Timestamp: time.Now()}
		if opts.OnTurn != nil {
			opts.OnTurn(turn)
		}
		return append(turns, turn)
	}

	var transcript []types.DialogueTurn
	transcript = emit(transcript, types.RoleUser, opts.InitialPrompt)

	current := opts.InitialPrompt
	for i := 0; i < opts.Turns; i++ {
		reply, err := e.generateOnce(ctx, e.config.AssistantModel, opts.AssistantSystem, current)
		if err != nil {
			return transcript, err
		}
		transcript = emit(transcript, types.RoleAssistant, reply)

		humanReply, err := e.generateOnce(ctx, e.config.HumanModel, opts.HumanSystem, humanReplyPreamble+reply)
		if err != nil {
			return transcript, err
		}
		transcript = emit(transcript, types.RoleUser, humanReply)

		current = humanReply
	}
	return transcript, nil
}

// generateOnce runs a single-prompt generation with no history context.
func (e *Engine) generateOnce(ctx context.Context, model, system, prompt string) (string, error) {
	backend, modelName, err := e.ResolveModel(model)
	if err != nil {
		return "", err
	}
	req := e.buildRequest(modelName, system, []types.DialogueTurn{
		{Role: types.RoleUser, Text: prompt, Timestamp: time.Now()},
	})
	reply, err := backend.Generate(ctx, req)
	if err != nil {
		return "", NewGenerationError(backend.Name(), err)
	}
	return reply, nil
}
