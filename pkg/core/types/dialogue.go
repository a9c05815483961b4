package types

import "time"

// Role identifies the speaker of a dialogue turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DialogueTurn is a single committed entry in a conversation history.
// Turns are immutable once appended; every assistant turn corresponds to
// exactly one successful generation or one canned acknowledgment.
type DialogueTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
