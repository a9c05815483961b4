package anthropic

import (
	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// anthropicRequest is the Messages API request format.
type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []messageJSON `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	TopK        *int          `json:"top_k,omitempty"`
}

// messageJSON is the wire format for messages.
type messageJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequest converts a generate request to the Anthropic format.
func buildRequest(req *types.GenerateRequest) *anthropicRequest {
	anthReq := &anthropicRequest{
		Model:       req.Model,
		Messages:    buildMessages(req.Turns),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}

	if anthReq.MaxTokens == 0 {
		anthReq.MaxTokens = DefaultMaxTokens
	}

	return anthReq
}

// buildMessages maps dialogue turns onto the Messages API shape. The API
// requires a user-first, strictly alternating sequence, so leading
// assistant turns (acknowledgment fillers with no preceding user turn) are
// dropped and consecutive same-role turns are merged.
func buildMessages(turns []types.DialogueTurn) []messageJSON {
	messages := make([]messageJSON, 0, len(turns))

	for _, turn := range turns {
		role := "user"
		if turn.Role == types.RoleAssistant {
			role = "assistant"
		}

		if len(messages) == 0 {
			if role == "assistant" {
				continue
			}
			messages = append(messages, messageJSON{Role: role, Content: turn.Text})
			continue
		}

		if last := &messages[len(messages)-1]; last.Role == role {
			last.Content += "\n" + turn.Text
			continue
		}

		messages = append(messages, messageJSON{Role: role, Content: turn.Text})
	}

	return messages
}
