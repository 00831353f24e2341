package diagnostics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	name    string
	mu      sync.Mutex
	results map[string]*ServiceStatus
	err     error
	calls   map[string]int
}

func newStubProber(name string, results map[string]*ServiceStatus) *stubProber {
	return &stubProber{name: name, results: results, calls: map[string]int{}}
}

func (s *stubProber) Name() string { return s.name }

func (s *stubProber) Probe(_ context.Context, service string) (*ServiceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[service]++
	if s.err != nil {
		return nil, s.err
	}
	if st, ok := s.results[service]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (s *stubProber) callsFor(service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[service]
}

func TestCheckerUsesFirstProberThatFindsService(t *testing.T) {
	systemd := newStubProber(ProberSystemd, map[string]*ServiceStatus{
		"pgbouncer": {Status: StatusOK, Running: true, Message: "System service: loaded and active (running)"},
	})
	docker := newStubProber(ProberDocker, map[string]*ServiceStatus{
		"pgbouncer": {Status: StatusWarning},
		"passkeys":  {Status: StatusOK, Running: true, Message: "Docker container: Up 2 days"},
	})
	c := NewChecker(nil, []Prober{systemd, docker})

	st := c.Check(context.Background(), "pgbouncer")
	assert.Equal(t, "pgbouncer", st.Name)
	assert.Equal(t, ProberSystemd, st.Source)
	assert.True(t, st.Running)
	assert.Equal(t, 0, docker.callsFor("pgbouncer"))

	st = c.Check(context.Background(), "passkeys")
	assert.Equal(t, ProberDocker, st.Source)
	assert.Equal(t, 1, systemd.callsFor("passkeys"))
}

func TestCheckerNotFound(t *testing.T) {
	c := NewChecker(nil, []Prober{
		newStubProber(ProberSystemd, nil),
		newStubProber(ProberDocker, nil),
		newStubProber(ProberKubernetes, nil),
	})

	st := c.Check(context.Background(), "ghost")
	assert.Equal(t, StatusNotFound, st.Status)
	assert.False(t, st.Running)
	assert.Equal(t, "Service not found in systemd, docker, kubernetes", st.Message)
	assert.True(t, st.Failing())
}

func TestCheckerProbeErrors(t *testing.T) {
	broken := newStubProber(ProberDocker, nil)
	broken.err = errors.New("daemon down")
	c := NewChecker(nil, []Prober{newStubProber(ProberSystemd, nil), broken}, WithCacheTTL(time.Minute))

	st := c.Check(context.Background(), "passkeys")
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Error, "docker: daemon down")

	// errors are not cached
	c.Check(context.Background(), "passkeys")
	assert.Equal(t, 2, broken.callsFor("passkeys"))
}

func TestCheckerProbeErrorThenFound(t *testing.T) {
	broken := newStubProber(ProberSystemd, nil)
	broken.err = errors.New("no dbus")
	docker := newStubProber(ProberDocker, map[string]*ServiceStatus{
		"passkeys": {Status: StatusOK, Running: true},
	})

	st := NewChecker(nil, []Prober{broken, docker}).Check(context.Background(), "passkeys")
	assert.Equal(t, StatusOK, st.Status)
	assert.Empty(t, st.Error)
}

func TestCheckerCache(t *testing.T) {
	docker := newStubProber(ProberDocker, map[string]*ServiceStatus{
		"passkeys": {Status: StatusOK, Running: true},
	})

	cached := NewChecker(nil, []Prober{docker}, WithCacheTTL(time.Minute))
	cached.Check(context.Background(), "passkeys")
	cached.Check(context.Background(), "passkeys")
	assert.Equal(t, 1, docker.callsFor("passkeys"))

	uncached := NewChecker(nil, []Prober{docker}, WithCacheTTL(0))
	uncached.Check(context.Background(), "passkeys")
	uncached.Check(context.Background(), "passkeys")
	assert.Equal(t, 3, docker.callsFor("passkeys"))
}

func TestCheckAllKeepsOrderAndCategories(t *testing.T) {
	docker := newStubProber(ProberDocker, map[string]*ServiceStatus{
		"passkeys":  {Status: StatusOK, Running: true},
		"dd_agent":  {Status: StatusWarning},
		"pgbouncer": {Status: StatusOK, Running: true},
	})
	services := []string{"passkeys", "dd_agent", "ghost", "pgbouncer", "service-kyc-rules"}
	c := NewChecker(services, []Prober{docker}, WithCategorizer(func(s string) string {
		return "cat-" + s
	}))

	statuses := c.CheckAll(context.Background(), nil)
	require.Len(t, statuses, len(services))
	for i, svc := range services {
		assert.Equal(t, svc, statuses[i].Name)
		assert.Equal(t, "cat-"+svc, statuses[i].Category)
	}
	assert.Equal(t, []string{"dd_agent", "ghost", "service-kyc-rules"}, FailingServices(statuses))

	subset := c.CheckAll(context.Background(), []string{"pgbouncer"})
	require.Len(t, subset, 1)
	assert.Equal(t, "pgbouncer", subset[0].Name)
}

func TestCheckerServicesIsCopy(t *testing.T) {
	services := []string{"a", "b"}
	c := NewChecker(services, nil)
	services[0] = "changed"
	got := c.Services()
	got[1] = "changed"
	assert.Equal(t, []string{"a", "b"}, c.Services())
}

func TestFailing(t *testing.T) {
	assert.False(t, ServiceStatus{Status: StatusOK, Running: true}.Failing())
	assert.True(t, ServiceStatus{Status: StatusWarning}.Failing())
	assert.True(t, ServiceStatus{Status: StatusError, Running: true}.Failing())
	assert.True(t, ServiceStatus{Status: StatusNotFound}.Failing())
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, daysSince(time.Time{}, now))
	assert.Equal(t, 0, daysSince(now.Add(time.Hour), now))
	assert.Equal(t, 6, daysSince(now.Add(-7*24*time.Hour+time.Minute), now))
}
