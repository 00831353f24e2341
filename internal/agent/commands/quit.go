package commands

func init() {
	DefaultRegistry.Register(quitHandler{})
}

type quitHandler struct{}

func (quitHandler) Entry() Entry {
	return Entry{
		Name:        "quit",
		Aliases:     []string{"exit"},
		Description: "End the session",
		Usage:       "/quit",
	}
}

func (quitHandler) Execute(ctx *Context, _ []string) Result {
	if ctx.QuitFunc != nil {
		ctx.QuitFunc()
	}
	return done("Goodbye!")
}
