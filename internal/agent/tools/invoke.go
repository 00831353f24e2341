package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Invoke runs t with a per-call timeout. The handler runs in its own
// goroutine, so a handler that ignores its context still yields a
// KindTimeout error once the deadline passes. Failures come back as
// *ToolError; a nil result from the handler counts as an empty success.
// Tools implementing TimeoutOverride replace timeout with their own.
func Invoke(ctx context.Context, t Tool, input json.RawMessage, timeout time.Duration) (*Result, error) {
	if o, ok := t.(TimeoutOverride); ok {
		if d := o.CallTimeout(); d > 0 {
			timeout = d
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := t.Execute(callCtx, input)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &ToolError{Kind: KindTimeout, Tool: t.Name(), Timeout: timeout, Err: o.err}
			}
			return nil, &ToolError{Kind: KindHandlerFailure, Tool: t.Name(), Err: o.err}
		}
		res := o.res
		if res == nil {
			res = &Result{Success: true}
		}
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		return truncateResult(res, MaxToolResponseBytes), nil

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, &ToolError{Kind: KindHandlerFailure, Tool: t.Name(), Err: ctx.Err()}
		}
		return nil, &ToolError{Kind: KindTimeout, Tool: t.Name(), Timeout: timeout, Err: callCtx.Err()}
	}
}
