package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/boxfixer/internal/logging"
)

// Service status values.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusNotFound = "not found"
	StatusError    = "error"
)

const (
	statusCacheSize   = 256
	maxParallelProbes = 4
)

// ServiceStatus is the observed state of one service.
type ServiceStatus struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
	Running  bool   `json:"running"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
	// Source is the prober that found the service.
	Source string `json:"source,omitempty"`
	// RunningDays is how long the service has been up, when known.
	RunningDays int `json:"running_days,omitempty"`
}

// Failing reports whether the service needs troubleshooting.
func (s ServiceStatus) Failing() bool {
	return !s.Running || s.Status == StatusError || s.Status == StatusNotFound
}

// Prober looks a service up in one runtime. A nil status with a nil error
// means the runtime does not know the service.
type Prober interface {
	Name() string
	Probe(ctx context.Context, service string) (*ServiceStatus, error)
}

// Checker probes services through a chain of probers and caches results
// for a short time.
type Checker struct {
	services   []string
	probers    []Prober
	cache      *expirable.LRU[string, ServiceStatus]
	categorize func(string) string
	logger     *logging.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCacheTTL caches probe results for ttl. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		if ttl > 0 {
			c.cache = expirable.NewLRU[string, ServiceStatus](statusCacheSize, nil, ttl)
		} else {
			c.cache = nil
		}
	}
}

// WithCategorizer sets the function that fills ServiceStatus.Category.
func WithCategorizer(fn func(service string) string) CheckerOption {
	return func(c *Checker) { c.categorize = fn }
}

// NewChecker creates a Checker for the configured services. Probers are
// tried in order and the first one that finds the service wins.
func NewChecker(services []string, probers []Prober, opts ...CheckerOption) *Checker {
	c := &Checker{
		services: append([]string(nil), services...),
		probers:  probers,
		logger:   logging.GetLogger("diagnostics.status"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Services returns the configured service names.
func (c *Checker) Services() []string {
	return append([]string(nil), c.services...)
}

// Probers returns the names of the active probers, in order.
func (c *Checker) Probers() []string {
	names := make([]string, len(c.probers))
	for i, p := range c.probers {
		names[i] = p.Name()
	}
	return names
}

// Check returns the status of one service.
func (c *Checker) Check(ctx context.Context, service string) ServiceStatus {
	if c.cache != nil {
		if st, ok := c.cache.Get(service); ok {
			return st
		}
	}

	st := c.probe(ctx, service)
	if c.categorize != nil {
		st.Category = c.categorize(service)
	}
	if c.cache != nil && st.Status != StatusError {
		c.cache.Add(service, st)
	}
	return st
}

func (c *Checker) probe(ctx context.Context, service string) ServiceStatus {
	var probeErrs []error
	for _, p := range c.probers {
		st, err := p.Probe(ctx, service)
		if err != nil {
			c.logger.Debug("Probe %s failed for %s: %v", p.Name(), service, err)
			probeErrs = append(probeErrs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if st != nil {
			st.Name = service
			st.Source = p.Name()
			return *st
		}
	}

	if len(probeErrs) > 0 {
		err := errors.Join(probeErrs...)
		return ServiceStatus{
			Name:    service,
			Status:  StatusError,
			Message: "Error checking service: " + err.Error(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{
		Name:    service,
		Status:  StatusNotFound,
		Message: "Service not found in " + strings.Join(c.Probers(), ", "),
	}
}

// CheckAll checks services concurrently and returns results in input
// order. An empty list checks the configured services.
func (c *Checker) CheckAll(ctx context.Context, services []string) []ServiceStatus {
	if len(services) == 0 {
		services = c.services
	}
	results := make([]ServiceStatus, len(services))

	var g errgroup.Group
	g.SetLimit(maxParallelProbes)
	for i, svc := range services {
		g.Go(func() error {
			results[i] = c.Check(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FailingServices returns the names of failing services in statuses.
func FailingServices(statuses []ServiceStatus) []string {
	var out []string
	for _, st := range statuses {
		if st.Failing() {
			out = append(out, st.Name)
		}
	}
	return out
}

func daysSince(t time.Time, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}
