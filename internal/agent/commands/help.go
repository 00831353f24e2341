package commands

import (
	"fmt"
	"strings"
)

func init() {
	DefaultRegistry.Register(helpHandler{})
}

type helpHandler struct{}

func (helpHandler) Entry() Entry {
	return Entry{
		Name:        "help",
		Description: "List commands",
		Usage:       "/help",
	}
}

func (helpHandler) Execute(*Context, []string) Result {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, e := range DefaultRegistry.AllEntries() {
		usage := e.Usage
		for _, a := range e.Aliases {
			usage += ", /" + a
		}
		fmt.Fprintf(&b, "  %-24s %s\n", usage, e.Description)
	}
	b.WriteString("\nAny other input is a question for the assistant. exit, quit or q leaves.")
	return done(b.String())
}
