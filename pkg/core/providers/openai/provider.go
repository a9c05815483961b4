// Package openai implements the GPT dialogue backend on the go-openai
// Chat Completions client.
package openai

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// DefaultMaxTokens is the default max tokens if not specified.
const DefaultMaxTokens = 2048

// Provider implements the OpenAI Chat Completions backend.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	client     *openai.Client
}

// New creates a new OpenAI backend.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}

	config := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		config.BaseURL = p.baseURL
	}
	if p.httpClient != nil {
		config.HTTPClient = p.httpClient
	}
	p.client = openai.NewClientWithConfig(config)
	return p
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Generate sends the dialogue to the Chat Completions API and returns the
// reply text. An empty completion is reported as an error, never as "".
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return "", mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty completion (finish reason %q)", resp.Choices[0].FinishReason)
	}

	return content, nil
}

// buildRequest converts a generate request to the Chat Completions format.
// The system prompt becomes the leading system message. The API has no
// top_k parameter, so that setting is ignored here.
func buildRequest(req *types.GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == types.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if chatReq.MaxTokens == 0 {
		chatReq.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}

	return chatReq
}
