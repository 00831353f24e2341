// Package safety decides whether a model-proposed shell command may run.
//
// Destructive commands are denied in every mode. Anything else runs without
// asking in autonomous mode and needs operator confirmation in supervised
// mode. Commands are parsed as POSIX shell so that every simple command in a
// list, pipeline, subshell or command substitution is checked; a command
// that does not parse is denied.
package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Mode is the operator-selected execution mode.
type Mode string

const (
	// ModeOff disables command execution entirely.
	ModeOff Mode = "off"
	// ModeSupervised asks the operator before every non-destructive command.
	ModeSupervised Mode = "supervised"
	// ModeAutonomous runs non-destructive commands without asking.
	ModeAutonomous Mode = "autonomous"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeSupervised, ModeAutonomous:
		return m, nil
	}
	return "", fmt.Errorf("unknown safety mode %q (want off, supervised or autonomous)", s)
}

// Verdict is the outcome of a policy evaluation.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	AskUser
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case AskUser:
		return "ask_user"
	}
	return "unknown"
}

// Decision explains a verdict. Rule names the destructive rule that matched.
type Decision struct {
	Verdict Verdict
	Reason  string
	Rule    string
}

// Policy classifies commands.
type Policy struct {
	patterns []namedPattern
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// builtinPatterns are matched against the raw command text and catch shapes
// the argv rules cannot see.
var builtinPatterns = []string{
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, // fork bomb
	`(?i)\bredis-cli\b.*\bflush(all|db)\b`,
	`(?i)\bdrop\s+(database|table|schema)\b`,
}

// NewPolicy compiles the built-in rules plus extra regular expressions.
func NewPolicy(extraPatterns []string) (*Policy, error) {
	p := &Policy{}
	for _, src := range builtinPatterns {
		p.patterns = append(p.patterns, namedPattern{name: "pattern:" + src, re: regexp.MustCompile(src)})
	}
	for _, src := range extraPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", src, err)
		}
		p.patterns = append(p.patterns, namedPattern{name: "pattern:" + src, re: re})
	}
	return p, nil
}

// Evaluate decides what to do with command in mode.
func (p *Policy) Evaluate(command string, mode Mode) Decision {
	if mode == ModeOff {
		return Decision{Verdict: Deny, Reason: "command execution is disabled"}
	}
	if strings.TrimSpace(command) == "" {
		return Decision{Verdict: Deny, Reason: "empty command"}
	}
	if match := p.Classify(command); match != nil {
		return Decision{
			Verdict: Deny,
			Rule:    match.Rule,
			Reason:  fmt.Sprintf("destructive command refused (%s)", match.Reason),
		}
	}
	if mode == ModeAutonomous {
		return Decision{Verdict: Allow, Reason: "autonomous mode"}
	}
	return Decision{Verdict: AskUser, Reason: "operator confirmation required"}
}

// Match describes why a command is destructive.
type Match struct {
	Rule   string
	Reason string
}

// Classify returns the first destructive rule command matches, or nil.
func (p *Policy) Classify(command string) *Match {
	for _, np := range p.patterns {
		if np.re.MatchString(command) {
			return &Match{Rule: np.name, Reason: "matches deny pattern"}
		}
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return &Match{Rule: "unparseable", Reason: "command could not be parsed: " + err.Error()}
	}

	var found *Match
	syntax.Walk(file, func(node syntax.Node) bool {
		if found != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			found = p.checkCall(n)
		case *syntax.Redirect:
			found = checkRedirect(n)
		}
		return found == nil
	})
	return found
}

func (p *Policy) checkCall(call *syntax.CallExpr) *Match {
	if len(call.Args) == 0 {
		return nil
	}
	argv := make([]string, len(call.Args))
	for i, w := range call.Args {
		argv[i] = wordText(w)
	}
	if argv[0] == "" {
		return &Match{Rule: "dynamic-command", Reason: "command name is not a literal"}
	}
	return p.checkArgv(argv)
}

// checkArgv applies the argv rules, looking through wrappers such as env,
// timeout and xargs, and into sh -c / bash -c scripts.
func (p *Policy) checkArgv(argv []string) *Match {
	if len(argv) == 0 {
		return nil
	}
	name := baseName(argv[0])

	if isShell(name) {
		for i := 1; i < len(argv)-1; i++ {
			if argv[i] == "-c" || (strings.HasPrefix(argv[i], "-") && strings.HasSuffix(argv[i], "c")) {
				return p.Classify(argv[i+1])
			}
		}
	}
	if name == "eval" {
		return p.Classify(strings.Join(argv[1:], " "))
	}
	if wrappers[name] {
		for i := 1; i < len(argv); i++ {
			if strings.HasPrefix(argv[i], "-") || strings.Contains(argv[i], "=") {
				continue
			}
			if m := p.checkArgv(argv[i:]); m != nil {
				return m
			}
		}
		return nil
	}
	if name == "find" {
		for _, execArgv := range findExecs(argv[1:]) {
			if m := p.checkArgv(execArgv); m != nil {
				return m
			}
		}
	}

	for _, rule := range argvRules {
		if rule.match(name, argv[1:]) {
			return &Match{Rule: rule.name, Reason: rule.reason}
		}
	}
	return nil
}

// checkRedirect denies writes to devices and truncating writes to absolute
// paths outside /tmp. Appending to a regular file is allowed.
func checkRedirect(r *syntax.Redirect) *Match {
	truncating := false
	switch r.Op {
	case syntax.RdrOut, syntax.ClbOut, syntax.RdrAll:
		truncating = true
	case syntax.AppOut, syntax.AppAll:
	default:
		return nil
	}
	if r.Word == nil {
		return nil
	}
	target := wordText(r.Word)
	if safeDevices[target] {
		return nil
	}
	if strings.HasPrefix(target, "/dev/") {
		return &Match{Rule: "device-write", Reason: "redirect to " + target}
	}
	if truncating && (strings.HasPrefix(target, "/") || strings.HasPrefix(target, "~")) && !underTmp(target) {
		return &Match{Rule: "file-truncate", Reason: "truncating redirect to " + target}
	}
	return nil
}

func underTmp(path string) bool {
	clean := filepath.Clean(path)
	return strings.HasPrefix(clean, "/tmp/")
}

var safeDevices = map[string]bool{
	"/dev/null":   true,
	"/dev/stdout": true,
	"/dev/stderr": true,
	"/dev/tty":    true,
}

// wordText returns the static text of a word, or "" if it contains
// expansions that cannot be resolved without running the shell.
func wordText(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return ""
				}
				b.WriteString(lit.Value)
			}
		default:
			return ""
		}
	}
	return b.String()
}

// findExecs returns the command lines of every -exec, -execdir, -ok and
// -okdir action, each ending before its ";" or "+" terminator.
func findExecs(args []string) [][]string {
	var execs [][]string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-exec", "-execdir", "-ok", "-okdir":
		default:
			continue
		}
		start := i + 1
		end := start
		for end < len(args) && !isFindTerminator(args[end]) {
			end++
		}
		if end > start {
			execs = append(execs, args[start:end])
		}
		i = end
	}
	return execs
}

func isFindTerminator(arg string) bool {
	switch arg {
	case ";", `\;`, "+":
		return true
	}
	return false
}

func baseName(cmd string) string {
	if i := strings.LastIndex(cmd, "/"); i >= 0 {
		return cmd[i+1:]
	}
	return cmd
}

func isShell(name string) bool {
	switch name {
	case "sh", "bash", "dash", "zsh", "ash", "ksh":
		return true
	}
	return false
}

var wrappers = map[string]bool{
	"env": true, "nohup": true, "time": true, "nice": true, "ionice": true,
	"timeout": true, "xargs": true, "watch": true, "command": true,
	"exec": true, "stdbuf": true, "setsid": true,
}
