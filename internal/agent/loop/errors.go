package loop

import (
	"fmt"

	"github.com/moolen/boxfixer/internal/agent/provider"
)

// Kind classifies a terminal loop failure.
type Kind int

const (
	// KindExhausted means the model was still calling tools after the
	// iteration cap.
	KindExhausted Kind = iota
	// KindToolResolutionFailed means tool calls could not be correlated
	// with results (missing name or id, duplicate ids).
	KindToolResolutionFailed
	// KindModelFailed means the model backend returned an error.
	KindModelFailed
	// KindCancelled means the context was cancelled.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindExhausted:
		return "exhausted"
	case KindToolResolutionFailed:
		return "tool_resolution_failed"
	case KindModelFailed:
		return "model_failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LoopError is returned for every run that does not end in a final message.
// Conversation holds everything exchanged up to the failure.
type LoopError struct {
	Kind         Kind
	Iterations   int
	Conversation []provider.Message
	Err          error
}

func (e *LoopError) Error() string {
	switch e.Kind {
	case KindExhausted:
		return fmt.Sprintf("agent loop exhausted after %d iterations without a final answer", e.Iterations)
	default:
		if e.Err != nil {
			return fmt.Sprintf("agent loop %s after %d iterations: %v", e.Kind, e.Iterations, e.Err)
		}
		return fmt.Sprintf("agent loop %s after %d iterations", e.Kind, e.Iterations)
	}
}

func (e *LoopError) Unwrap() error { return e.Err }
