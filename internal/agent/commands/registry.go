package commands

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultRegistry holds the handlers registered by this package's init funcs.
var DefaultRegistry = NewRegistry()

// Registry maps command names and aliases to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

// Register adds h under its entry name and aliases. A later registration
// of the same name replaces the earlier one.
func (r *Registry) Register(h Handler) {
	entry := h.Entry()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entry.Name] = h
	for _, alias := range entry.Aliases {
		r.aliases[alias] = entry.Name
	}
}

// Lookup resolves a name or alias.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Execute runs cmd. Unknown commands produce an info result with the
// closest known command, if any.
func (r *Registry) Execute(ctx *Context, cmd *Command) Result {
	handler, ok := r.Lookup(cmd.Name)
	if !ok {
		msg := fmt.Sprintf("Unknown command: /%s", cmd.Name)
		if suggestion := r.Suggest(cmd.Name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean /%s?)", suggestion)
		} else {
			msg += " (type /help for available commands)"
		}
		return fail(msg)
	}
	return handler.Execute(ctx, cmd.Args)
}

// AllEntries returns one entry per handler, sorted by name.
func (r *Registry) AllEntries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.handlers))
	for _, h := range r.handlers {
		entries = append(entries, h.Entry())
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// maxSuggestDistance bounds how far a typo may be from a known name.
const maxSuggestDistance = 2

// Suggest returns the known name or alias closest to name: a unique
// prefix match first, then the smallest edit distance within
// maxSuggestDistance. It returns "" when nothing is close.
func (r *Registry) Suggest(name string) string {
	name = strings.ToLower(name)
	if name == "" {
		return ""
	}

	r.mu.RLock()
	known := make([]string, 0, len(r.handlers)+len(r.aliases))
	for n := range r.handlers {
		known = append(known, n)
	}
	for a := range r.aliases {
		known = append(known, a)
	}
	r.mu.RUnlock()
	sort.Strings(known)

	var prefixed []string
	for _, k := range known {
		if strings.HasPrefix(k, name) {
			prefixed = append(prefixed, k)
		}
	}
	if len(prefixed) == 1 {
		return prefixed[0]
	}

	best, bestDist := "", maxSuggestDistance+1
	for _, k := range known {
		if d := editDistance(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// ParseCommand parses "/name arg..." into a Command. Input that does not
// start with a slash, or has nothing after it, is not a command.
func ParseCommand(input string) *Command {
	rest, ok := strings.CutPrefix(input, "/")
	if !ok {
		return nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil
	}
	return &Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}
