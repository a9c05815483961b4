package live

// Event is the interface for all dialogue session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// RecordingStartedEvent is emitted when capture and recognition are up.
type RecordingStartedEvent struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language"`
}

func (e *RecordingStartedEvent) EventType() string { return "recording.started" }

// RecordingStoppedEvent is emitted when the session returns to idle.
type RecordingStoppedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *RecordingStoppedEvent) EventType() string { return "recording.stopped" }

// TranscriptInterimEvent is emitted as the current utterance's working
// hypothesis changes. Each one replaces the last.
type TranscriptInterimEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptInterimEvent) EventType() string { return "transcript.interim" }

// TranscriptFinalEvent is emitted when an utterance is committed.
type TranscriptFinalEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptFinalEvent) EventType() string { return "transcript.final" }

// TurnDroppedEvent is emitted when a committed utterance was empty and
// produced no dialogue turn.
type TurnDroppedEvent struct{}

func (e *TurnDroppedEvent) EventType() string { return "turn.dropped" }

// TurnAcknowledgedEvent is emitted when a short utterance was answered
// with a canned filler instead of a model call.
type TurnAcknowledgedEvent struct {
	Utterance string `json:"utterance"`
	Filler    string `json:"filler"`
}

func (e *TurnAcknowledgedEvent) EventType() string { return "turn.acknowledged" }

// TurnAnsweredEvent is emitted when the model replied to an utterance.
type TurnAnsweredEvent struct {
	Utterance string `json:"utterance"`
	Reply     string `json:"reply"`
}

func (e *TurnAnsweredEvent) EventType() string { return "turn.answered" }

// HistoryClearedEvent is emitted when the dialogue history is wiped.
type HistoryClearedEvent struct{}

func (e *HistoryClearedEvent) EventType() string { return "history.cleared" }

// ErrorEvent is emitted when an error occurs. Fatal errors are followed
// by a RecordingStoppedEvent; turn-level errors are not.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
