package commands

func init() {
	DefaultRegistry.Register(&modeHandler{})
}

// modeHandler implements /mode.
type modeHandler struct{}

var modeHelp = map[string]string{
	"off":        "commands are never run; the assistant suggests them instead",
	"supervised": "every command needs your approval",
	"autonomous": "safe commands run without asking; destructive ones are always refused",
}

func (h *modeHandler) Entry() Entry {
	return Entry{
		Name:        "mode",
		Description: "Show the command safety mode",
		Usage:       "/mode",
	}
}

func (h *modeHandler) Execute(ctx *Context, args []string) Result {
	msg := "Safety mode: " + ctx.SafetyMode
	if help, ok := modeHelp[ctx.SafetyMode]; ok {
		msg += " (" + help + ")"
	}
	return done(msg)
}
