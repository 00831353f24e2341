package commands

func init() {
	DefaultRegistry.Register(&reportHandler{})
}

// reportHandler implements /report.
type reportHandler struct{}

func (h *reportHandler) Entry() Entry {
	return Entry{
		Name:        "report",
		Description: "Show the latest health report",
		Usage:       "/report",
	}
}

func (h *reportHandler) Execute(ctx *Context, args []string) Result {
	if ctx.Report == nil {
		return fail("No health report yet")
	}
	if ctx.Renderer != nil {
		ctx.Renderer.Report(*ctx.Report)
	}
	return done("")
}
