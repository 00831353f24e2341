package commands

import (
	"fmt"
	"strconv"
	"strings"
)

func init() {
	DefaultRegistry.Register(statsHandler{})
}

type statsHandler struct{}

func (statsHandler) Entry() Entry {
	return Entry{
		Name:        "stats",
		Description: "Show model and tool usage for this session",
		Usage:       "/stats",
	}
}

func (statsHandler) Execute(ctx *Context, _ []string) Result {
	s := ctx.Stats
	rows := [][2]string{
		{"Session", ctx.SessionID},
		{"Safety mode", ctx.SafetyMode},
		{"Model calls", strconv.Itoa(s.ModelCalls)},
		{"Tool calls", strconv.Itoa(s.ToolCalls)},
		{"Input tokens", strconv.Itoa(s.InputTokens)},
		{"Output tokens", strconv.Itoa(s.OutputTokens)},
		{"Total tokens", strconv.Itoa(s.InputTokens + s.OutputTokens)},
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-15s %s", row[0]+":", row[1])
	}
	return done(b.String())
}
