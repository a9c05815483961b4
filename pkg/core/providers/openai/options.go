package openai

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL including the version path, e.g.
// "http://127.0.0.1:8080/v1". Used for testing or proxying.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}
