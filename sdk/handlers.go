package voxlive

import "github.com/voxjot/voxlive/pkg/live"

// Handlers are the caller's event sinks. Every field is optional; nil
// handlers are skipped. Handlers run on session goroutines and should return
// quickly.
type Handlers struct {
	// OnStateChange observes every connection state transition.
	OnStateChange func(state live.State)
	// OnReady fires once the handshake completes and capture is starting.
	OnReady func()
	// OnMessage fires for each finalized conversation message.
	OnMessage func(m Message)
	// OnInputTranscript surfaces the accumulated in-progress user transcript
	// after every fragment; it is called with "" when a turn finalizes.
	OnInputTranscript func(text string)
	// OnOutputTranscript is the assistant-side equivalent of
	// OnInputTranscript.
	OnOutputTranscript func(text string)
	// OnAssistantText surfaces non-spoken assistant text parts.
	OnAssistantText func(text string)
	// OnTurnComplete fires when a turn ends normally.
	OnTurnComplete func()
	// OnInterrupted fires when the server cancels the assistant's turn.
	OnInterrupted func()
	// OnError receives transport and capture errors as human-readable
	// *core.Error values.
	OnError func(err error)
}
