package troubleshoot

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/moolen/boxfixer/internal/config"
)

// CategoryResolver maps a service name to its troubleshooting category.
type CategoryResolver interface {
	Resolve(service string) string
}

// ResolverFunc adapts a function to CategoryResolver.
type ResolverFunc func(service string) string

func (f ResolverFunc) Resolve(service string) string { return f(service) }

// PatternResolver assigns categories by glob rules. Rules are checked in
// order and the first match wins; unmatched services get the fallback.
type PatternResolver struct {
	rules    []compiledRule
	fallback string
}

type compiledRule struct {
	category string
	patterns []glob.Glob
}

// NewPatternResolver compiles rules. Patterns are matched case-insensitively.
func NewPatternResolver(rules []config.CategoryRule, fallback string) (*PatternResolver, error) {
	r := &PatternResolver{fallback: fallback}
	for _, rule := range rules {
		cr := compiledRule{category: rule.Name}
		for _, pattern := range rule.Patterns {
			g, err := glob.Compile(strings.ToLower(pattern))
			if err != nil {
				return nil, fmt.Errorf("category %q: invalid pattern %q: %w", rule.Name, pattern, err)
			}
			cr.patterns = append(cr.patterns, g)
		}
		r.rules = append(r.rules, cr)
	}
	return r, nil
}

// Resolve returns the first matching category or the fallback.
func (r *PatternResolver) Resolve(service string) string {
	name := strings.ToLower(strings.TrimSpace(service))
	for _, rule := range r.rules {
		for _, g := range rule.patterns {
			if g.Match(name) {
				return rule.category
			}
		}
	}
	return r.fallback
}

// Group is a category and the failing services that belong to it.
type Group struct {
	Category string
	Services []string
}

// GroupServices groups services by category. Categories appear in the order
// their first service appears; blank and repeated service names are dropped.
// A service the resolver cannot place goes to fallback.
func GroupServices(resolver CategoryResolver, services []string, fallback string) []Group {
	var groups []Group
	index := make(map[string]int)
	seen := make(map[string]bool)

	for _, svc := range services {
		svc = strings.TrimSpace(svc)
		if svc == "" || seen[svc] {
			continue
		}
		seen[svc] = true

		category := strings.TrimSpace(resolver.Resolve(svc))
		if category == "" {
			category = fallback
		}
		i, ok := index[category]
		if !ok {
			i = len(groups)
			index[category] = i
			groups = append(groups, Group{Category: category})
		}
		groups[i].Services = append(groups[i].Services, svc)
	}
	return groups
}
