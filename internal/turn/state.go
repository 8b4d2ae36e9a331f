package turn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrWong99/voxturn/pkg/provider/stt"
)

// State is the conversation state owned by the [Controller].
type State int

const (
	// StateListening waits for the user to speak. It is both the initial
	// and the recurring state.
	StateListening State = iota

	// StateRecording is accumulating an utterance.
	StateRecording

	// StateAwaitingResponse has handed an utterance to transcription and
	// response generation and waits for the reply.
	StateAwaitingResponse

	// StateSpeaking is playing a reply while the arbiter watches for barge-in.
	StateSpeaking

	// StateInterrupted is the short transition after a barge-in while
	// playback is being halted.
	StateInterrupted
)

// String returns the upper-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateRecording:
		return "RECORDING"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TranscriptionError reports a failed transcription. The turn loop recovers
// from it by returning to listening.
type TranscriptionError struct {
	Turn uuid.UUID
	Err  error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("turn %s: transcription failed: %v", e.Turn, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ResponseError reports a failure to produce a reply for a transcript.
type ResponseError struct {
	Turn uuid.UUID
	Err  error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("turn %s: response failed: %v", e.Turn, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// PlaybackError reports a reply that could not be played to the end.
type PlaybackError struct {
	Turn uuid.UUID
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("turn %s: playback failed: %v", e.Turn, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Notice returns the short user-facing message for a recoverable turn error.
// It returns "" for errors that should pass silently, such as an utterance
// that held no recognisable words.
func Notice(err error) string {
	var (
		te *TranscriptionError
		re *ResponseError
		pe *PlaybackError
	)
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		return ""
	case errors.As(err, &te):
		return "Sorry, I didn't catch that."
	case errors.As(err, &re):
		return "Sorry, I couldn't come up with a reply."
	case errors.As(err, &pe):
		return "Sorry, I couldn't play my reply."
	default:
		return ""
	}
}
