package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// anthropicResponse matches the Messages API response format.
type anthropicResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// contentBlock is a single response content entry. Only text blocks are
// meaningful to the dialogue loop.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// parseResponse extracts the reply text from a Messages API response.
func parseResponse(body []byte) (string, error) {
	var anthResp anthropicResponse
	if err := json.Unmarshal(body, &anthResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range anthResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("empty completion (stop_reason %q)", anthResp.StopReason)
	}

	return text.String(), nil
}
