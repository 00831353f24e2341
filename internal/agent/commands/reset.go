package commands

func init() {
	DefaultRegistry.Register(resetHandler{})
}

type resetHandler struct{}

func (resetHandler) Entry() Entry {
	return Entry{
		Name:        "reset",
		Description: "Forget the follow-up conversation, keep the health report",
		Usage:       "/reset",
	}
}

func (resetHandler) Execute(ctx *Context, _ []string) Result {
	if ctx.ResetFunc == nil {
		return fail("No follow-up conversation to reset")
	}
	ctx.ResetFunc()
	return done("Follow-up history cleared")
}
