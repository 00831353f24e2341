// Package prompt renders the named prompt templates used by the agent.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ErrUnknownTemplate is wrapped by TemplateError for unregistered names.
var ErrUnknownTemplate = errors.New("unknown template")

// TemplateError reports a template that could not be rendered.
type TemplateError struct {
	Template string
	Missing  []string
	Err      error
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %q: missing variables %s", e.Template, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Template is a named prompt and the variables it requires.
type Template struct {
	Name        string
	Description string
	Text        string
	Required    []string
}

type compiled struct {
	def  Template
	tmpl *template.Template
}

// Composer renders templates by name.
type Composer struct {
	templates map[string]compiled
}

// NewComposer registers the built-in templates, replacing the text of any
// named in overrides. Overrides keep the built-in required variables.
func NewComposer(overrides map[string]string) (*Composer, error) {
	c := &Composer{templates: map[string]compiled{}}
	for _, def := range Defaults() {
		if text, ok := overrides[def.Name]; ok && strings.TrimSpace(text) != "" {
			def.Text = text
		}
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	for name := range overrides {
		if _, ok := c.templates[name]; !ok {
			return nil, &TemplateError{Template: name, Err: fmt.Errorf("override for %w", ErrUnknownTemplate)}
		}
	}
	return c, nil
}

// Register parses def and adds or replaces it.
func (c *Composer) Register(def Template) error {
	tmpl, err := template.New(def.Name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(def.Text)
	if err != nil {
		return &TemplateError{Template: def.Name, Err: err}
	}
	c.templates[def.Name] = compiled{def: def, tmpl: tmpl}
	return nil
}

// Compose renders the named template with vars. Every required variable
// must be present; a nil value counts as missing.
func (c *Composer) Compose(name string, vars map[string]interface{}) (string, error) {
	entry, ok := c.templates[name]
	if !ok {
		return "", &TemplateError{Template: name, Err: ErrUnknownTemplate}
	}

	var missing []string
	for _, key := range entry.def.Required {
		if v, ok := vars[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", &TemplateError{Template: name, Missing: missing}
	}

	var b strings.Builder
	if err := entry.tmpl.Execute(&b, vars); err != nil {
		return "", &TemplateError{Template: name, Err: err}
	}
	return strings.TrimSpace(b.String()), nil
}

// Templates returns the registered templates sorted by name.
func (c *Composer) Templates() []Template {
	out := make([]Template, 0, len(c.templates))
	for _, entry := range c.templates {
		out = append(out, entry.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
