package gemini

import (
	"google.golang.org/genai"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// buildContents maps dialogue turns onto Gemini content entries. The API
// expects a user-first, alternating user/model sequence, so leading
// assistant turns (acknowledgment fillers with no preceding user turn) are
// dropped and consecutive same-role turns are merged.
func buildContents(turns []types.DialogueTurn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))

	for _, turn := range turns {
		role := "user"
		if turn.Role == types.RoleAssistant {
			role = "model"
		}

		if len(contents) == 0 {
			if role == "model" {
				continue
			}
			contents = append(contents, newContent(role, turn.Text))
			continue
		}

		if last := contents[len(contents)-1]; last.Role == role {
			last.Parts = append(last.Parts, &genai.Part{Text: "\n" + turn.Text})
			continue
		}

		contents = append(contents, newContent(role, turn.Text))
	}

	return contents
}

func newContent(role, text string) *genai.Content {
	return &genai.Content{
		Role:  role,
		Parts: []*genai.Part{{Text: text}},
	}
}

// buildConfig converts generation parameters to the SDK config.
func buildConfig(req *types.GenerateRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = DefaultMaxTokens
	}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.TopK != nil {
		config.TopK = genai.Ptr(float32(*req.TopK))
	}

	return config
}
