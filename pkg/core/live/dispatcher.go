package live

import (
	"context"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/kaiwalab/kaiwa/pkg/core"
)

// Outcome classifies what happened to a committed utterance.
type Outcome int

const (
	// OutcomeDropped means the utterance was empty and left no trace.
	OutcomeDropped Outcome = iota
	// OutcomeAcknowledged means the utterance was short and got a canned
	// filler; the user text itself is not recorded.
	OutcomeAcknowledged
	// OutcomeAnswered means the model generated a reply and both turns
	// are in the history.
	OutcomeAnswered
	// OutcomeFailed means generation failed; the user turn stays in the
	// history without a reply.
	OutcomeFailed
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "DROPPED"
	case OutcomeAcknowledged:
		return "ACKNOWLEDGED"
	case OutcomeAnswered:
		return "ANSWERED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Responder generates a model reply for a user utterance. Implemented
// by core.Engine.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// Result describes how one utterance was handled.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Utterance string  `json:"utterance,omitempty"`
	Reply     string  `json:"reply,omitempty"`
}

// Dispatcher routes committed utterances. Whitespace-only utterances
// are dropped, short ones get a filler without touching the model, and
// everything else goes to the responder. Length is measured in runes so
// Japanese text is not penalized for its byte width.
type Dispatcher struct {
	threshold int
	fillers   []string
	history   *core.History
	responder Responder
	pick      func(n int) int
}

// NewDispatcher creates a dispatcher appending filler turns to history
// and routing long utterances to the responder.
func NewDispatcher(threshold int, fillers []string, history *core.History, responder Responder) *Dispatcher {
	if len(fillers) == 0 {
		fillers = DefaultFillers
	}
	return &Dispatcher{
		threshold: threshold,
		fillers:   fillers,
		history:   history,
		responder: responder,
		pick:      rand.IntN,
	}
}

// Dispatch classifies one utterance and carries out its handling. The
// returned error is non-nil only for OutcomeFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Outcome: OutcomeDropped}, nil
	}

	if utf8.RuneCountInString(trimmed) < d.threshold {
		filler := d.fillers[d.pick(len(d.fillers))]
		d.history.AppendAssistant(filler)
		return Result{
			Outcome:   OutcomeAcknowledged,
			Utterance: trimmed,
			Reply:     filler,
		}, nil
	}

	reply, err := d.responder.Respond(ctx, trimmed)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Utterance: trimmed}, err
	}
	return Result{
		Outcome:   OutcomeAnswered,
		Utterance: trimmed,
		Reply:     reply,
	}, nil
}
