// Package anthropic implements the Claude dialogue backend over the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"net/http"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the required Anthropic API version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 2048
)

// Provider implements the Anthropic Messages API backend.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Anthropic backend.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// Generate sends the dialogue to the Messages API and returns the reply
// text. An empty completion is reported as an error, never as "".
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	anthReq := buildRequest(req)

	respBody, err := p.doRequest(ctx, anthReq)
	if err != nil {
		return "", err
	}

	return parseResponse(respBody)
}
