package diagnostics

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moolen/boxfixer/internal/agent/tools"
)

//go:embed steps.yaml
var defaultSteps []byte

// Step is one diagnostic step with the commands that perform it.
type Step struct {
	Name     string   `yaml:"name" json:"name"`
	Commands []string `yaml:"commands" json:"commands"`
}

// Guide is the troubleshooting knowledge for one category.
type Guide struct {
	Steps       []Step   `yaml:"steps" json:"steps"`
	CommonFixes []string `yaml:"common_fixes" json:"common_fixes"`
	OtherTips   []string `yaml:"other_tips" json:"other_tips"`
}

// Catalog maps categories to guides.
type Catalog struct {
	guides map[string]Guide
}

// LoadCatalog reads a catalog file; an empty path loads the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultSteps)
	}
	// #nosec G304 -- catalog path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read steps file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog keyed by category.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]Guide
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse steps catalog: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("steps catalog is empty")
	}

	guides := make(map[string]Guide, len(raw))
	for category, guide := range raw {
		key := strings.ToLower(strings.TrimSpace(category))
		if len(guide.Steps) == 0 {
			return nil, fmt.Errorf("category %q has no steps", category)
		}
		guides[key] = guide
	}
	return &Catalog{guides: guides}, nil
}

// Categories returns the known categories, sorted.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.guides))
	for k := range c.guides {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the guide of category.
func (c *Catalog) Lookup(category string) (Guide, bool) {
	g, ok := c.guides[strings.ToLower(strings.TrimSpace(category))]
	return g, ok
}

// Get returns the guide of category, or a guide explaining that the
// category is unknown and listing the available ones.
func (c *Catalog) Get(category string) (Guide, bool) {
	if g, ok := c.Lookup(category); ok {
		return g, true
	}
	available := strings.Join(c.Categories(), ", ")
	return Guide{
		Steps: []Step{{
			Name:     fmt.Sprintf("Category %q not found in troubleshooting catalog", category),
			Commands: []string{fmt.Sprintf("echo 'Available categories: %s'", available)},
		}},
		CommonFixes: []string{"Verify that the category name is correct"},
		OtherTips:   []string{"Available categories: " + available},
	}, false
}

// Steps implements the troubleshooting step source.
func (c *Catalog) Steps(_ context.Context, category string) (*tools.Result, error) {
	guide, found := c.Get(category)
	if !found {
		return &tools.Result{
			Success: false,
			Data:    guide,
			Error:   fmt.Sprintf("unknown category %q; available: %s", category, strings.Join(c.Categories(), ", ")),
		}, nil
	}
	return tools.OK(guide, fmt.Sprintf("%d steps for %s", len(guide.Steps), category)), nil
}
