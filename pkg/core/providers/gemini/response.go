package gemini

import (
	"fmt"

	"google.golang.org/genai"
)

// extractText pulls the reply text out of a generation response.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	text := resp.Text()
	if text == "" {
		finish := resp.Candidates[0].FinishReason
		return "", fmt.Errorf("empty completion (finish reason %q)", finish)
	}

	return text, nil
}
