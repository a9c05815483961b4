package core

import (
	"sync"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// History is the append-only ordered record of committed dialogue turns.
// Appends come from a single writer at a time (the session's dispatch
// worker); reads may come from any goroutine and always observe whole
// turns, never a partially appended one.
type History struct {
	mu    sync.RWMutex
	turns []types.DialogueTurn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// AppendUser appends a user turn and returns it.
func (h *History) AppendUser(text string) types.DialogueTurn {
	return h.append(types.RoleUser, text)
}

// AppendAssistant appends an assistant turn and returns it.
func (h *History) AppendAssistant(text string) types.DialogueTurn {
	return h.append(types.RoleAssistant, text)
}

func (h *History) append(role types.Role, text string) types.DialogueTurn {
	turn := types.DialogueTurn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()
	return turn
}

// Snapshot returns a copy of all turns in append order. The copy never
// aliases internal state.
func (h *History) Snapshot() []types.DialogueTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.DialogueTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Clear removes every turn. This is the only destructive operation in the
// system and is valid regardless of session state.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the most recent turn, or false when the history is empty.
func (h *History) Last() (types.DialogueTurn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return types.DialogueTurn{}, false
	}
	return h.turns[len(h.turns)-1], true
}
