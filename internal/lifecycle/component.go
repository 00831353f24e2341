// Package lifecycle starts and stops the background services of a session
// (diagnostics clients, metrics endpoint, trace exporter) in order.
package lifecycle

import "context"

// Component is a service owned by the Manager.
type Component interface {
	// Start brings the component up. It must not block.
	Start(ctx context.Context) error

	// Stop releases the component within the context deadline.
	Stop(ctx context.Context) error

	// Name is used in logs and errors.
	Name() string
}

// Func adapts plain functions to a Component. Nil functions are no-ops.
type Func struct {
	ComponentName string
	OnStart       func(ctx context.Context) error
	OnStop        func(ctx context.Context) error
}

func (f *Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

func (f *Func) Name() string { return f.ComponentName }
