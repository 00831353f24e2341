package commands

import (
	"fmt"
	"strings"
)

func init() {
	DefaultRegistry.Register(&statusHandler{})
	DefaultRegistry.Register(&resourcesHandler{})
	DefaultRegistry.Register(&stepsHandler{})
}

var errNoDiagnostics = fail("Diagnostics are not available in this session")

// statusHandler implements /status.
type statusHandler struct{}

func (h *statusHandler) Entry() Entry {
	return Entry{
		Name:        "status",
		Description: "Check services now, optionally only the named ones",
		Usage:       "/status [service...]",
	}
}

func (h *statusHandler) Execute(ctx *Context, args []string) Result {
	if ctx.Diagnostics == nil || ctx.Diagnostics.Checker == nil {
		return errNoDiagnostics
	}
	statuses := ctx.Diagnostics.Checker.CheckAll(ctx.context(), args)
	if ctx.Renderer != nil {
		ctx.Renderer.Statuses(statuses)
	}
	var failing int
	for _, st := range statuses {
		if st.Failing() {
			failing++
		}
	}
	return done(fmt.Sprintf("%d/%d services failing", failing, len(statuses)))
}

// resourcesHandler implements /resources.
type resourcesHandler struct{}

func (h *resourcesHandler) Entry() Entry {
	return Entry{
		Name:        "resources",
		Description: "Show CPU, memory and disk usage",
		Usage:       "/resources",
	}
}

func (h *resourcesHandler) Execute(ctx *Context, args []string) Result {
	if ctx.Diagnostics == nil || ctx.Diagnostics.Monitor == nil {
		return errNoDiagnostics
	}
	res, err := ctx.Diagnostics.Monitor.Sample(ctx.context())
	if err != nil {
		return fail(err.Error())
	}
	if ctx.Renderer != nil {
		ctx.Renderer.Resources(res)
	}
	return done("")
}

// stepsHandler implements /steps.
type stepsHandler struct{}

func (h *stepsHandler) Entry() Entry {
	return Entry{
		Name:        "steps",
		Description: "Show troubleshooting steps for a category",
		Usage:       "/steps <category>",
	}
}

func (h *stepsHandler) Execute(ctx *Context, args []string) Result {
	if ctx.Diagnostics == nil || ctx.Diagnostics.Catalog == nil {
		return errNoDiagnostics
	}
	catalog := ctx.Diagnostics.Catalog
	if len(args) != 1 {
		return fail("Usage: /steps <category> (available: " + strings.Join(catalog.Categories(), ", ") + ")")
	}
	guide, ok := catalog.Lookup(args[0])
	if !ok {
		return fail(fmt.Sprintf("Unknown category %q (available: %s)", args[0], strings.Join(catalog.Categories(), ", ")))
	}
	if ctx.Renderer != nil {
		ctx.Renderer.Guide(strings.ToLower(args[0]), guide)
	}
	return done("")
}
