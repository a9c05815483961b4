// Package live runs the microphone-to-dialogue loop.
//
// A Session owns one capture source and one recognition stream at a
// time and feeds every finalized utterance through a single dispatch
// worker into the conversation engine.
//
// # Data Flow
//
//	Microphone → audio.Source → stt.Stream → Dispatcher → core.Engine
//	                                 │             │
//	                            interim events   filler turns
//
// # State Machine
//
// The session cycles through these states:
//
//	IDLE → RECORDING → STOPPING → IDLE
//
// Double starts and stops are benign no-ops. A device failure or an
// unrecovered recognition failure drops the session back to IDLE with
// the device released, and the user starts again.
//
// # Usage
//
//	cfg := live.DefaultConfig()
//	cfg.Project = "my-project"
//
//	session := live.NewSession(cfg, engine)
//	if err := session.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range session.Events() {
//	    switch e := event.(type) {
//	    case *live.TranscriptInterimEvent:
//	        fmt.Print("\r", e.Text)
//	    case *live.TurnAnsweredEvent:
//	        fmt.Println("\nAI:", e.Reply)
//	    }
//	}
package live
