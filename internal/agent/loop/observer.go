package loop

import (
	"time"

	"github.com/moolen/boxfixer/internal/agent/provider"
)

// Observer receives progress events from a run. Implementations must not
// block; they are called from the loop goroutine (and from tool goroutines
// when read-only calls run in parallel).
type Observer interface {
	RunStarted(run string)
	ModelResponded(run string, iteration int, resp *provider.Response)
	ToolStarted(run string, call provider.ToolCall)
	ToolFinished(run string, call provider.ToolCall, result provider.Message, elapsed time.Duration)
	// RunFinished receives "success" or the LoopError kind.
	RunFinished(run string, outcome string)
}

// NopObserver can be embedded to implement only some events.
type NopObserver struct{}

func (NopObserver) RunStarted(string)                                                       {}
func (NopObserver) ModelResponded(string, int, *provider.Response)                          {}
func (NopObserver) ToolStarted(string, provider.ToolCall)                                   {}
func (NopObserver) ToolFinished(string, provider.ToolCall, provider.Message, time.Duration) {}
func (NopObserver) RunFinished(string, string)                                              {}

// observers fans events out to several observers.
type observers []Observer

func (o observers) RunStarted(run string) {
	for _, ob := range o {
		ob.RunStarted(run)
	}
}

func (o observers) ModelResponded(run string, iteration int, resp *provider.Response) {
	for _, ob := range o {
		ob.ModelResponded(run, iteration, resp)
	}
}

func (o observers) ToolStarted(run string, call provider.ToolCall) {
	for _, ob := range o {
		ob.ToolStarted(run, call)
	}
}

func (o observers) ToolFinished(run string, call provider.ToolCall, result provider.Message, elapsed time.Duration) {
	for _, ob := range o {
		ob.ToolFinished(run, call, result, elapsed)
	}
}

func (o observers) RunFinished(run string, outcome string) {
	for _, ob := range o {
		ob.RunFinished(run, outcome)
	}
}
