package types

// GenerateRequest carries everything a backend needs to produce the next
// assistant reply: the resolved model name, an optional system prompt, and
// the ordered dialogue history ending with the newest user turn.
type GenerateRequest struct {
	Model  string         `json:"model"`
	System string         `json:"system,omitempty"`
	Turns  []DialogueTurn `json:"turns"`

	// Generation parameters
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// LastUserText returns the text of the most recent user turn, or "" when
// the request holds none.
func (r *GenerateRequest) LastUserText() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Role == RoleUser {
			return r.Turns[i].Text
		}
	}
	return ""
}
