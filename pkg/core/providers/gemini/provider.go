// Package gemini implements the Google Gemini dialogue backend on the
// official genai SDK.
package gemini

import (
	"context"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// DefaultMaxTokens is the default max output tokens if not specified.
const DefaultMaxTokens = 2048

// Provider implements the Gemini backend.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	clientOnce sync.Once
	client     *genai.Client
	clientErr  error
}

// New creates a new Gemini backend. The underlying SDK client is built
// lazily on first use.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// ensureClient builds the SDK client once and caches the result.
func (p *Provider) ensureClient(ctx context.Context) (*genai.Client, error) {
	p.clientOnce.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if p.httpClient != nil {
			cfg.HTTPClient = p.httpClient
		}
		if p.baseURL != "" {
			cfg.HTTPOptions.BaseURL = p.baseURL
		}
		p.client, p.clientErr = genai.NewClient(ctx, cfg)
	})
	return p.client, p.clientErr
}

// Generate sends the dialogue to the Gemini API and returns the reply
// text. An empty completion is reported as an error, never as "".
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	contents := buildContents(req.Turns)
	config := buildConfig(req)

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", mapError(err)
	}

	return extractText(resp)
}
