package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) component(name string, startErr, stopErr error) *Func {
	return &Func{
		ComponentName: name,
		OnStart: func(context.Context) error {
			r.events = append(r.events, "start "+name)
			return startErr
		},
		OnStop: func(context.Context) error {
			r.events = append(r.events, "stop "+name)
			return stopErr
		},
	}
}

func TestStartAndStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(rec.component("diagnostics", nil, nil), rec.component("metrics", nil, nil)))
	require.NoError(t, m.Register(rec.component("tracing", nil, nil)))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"diagnostics", "metrics", "tracing"}, m.Running())

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{
		"start diagnostics", "start metrics", "start tracing",
		"stop tracing", "stop metrics", "stop diagnostics",
	}, rec.events)
	assert.Empty(t, m.Running())
}

func TestStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(
		rec.component("a", nil, nil),
		rec.component("b", errors.New("port in use"), nil),
		rec.component("c", nil, nil),
	))

	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "failed to start b: port in use")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.events)
	assert.Empty(t, m.Running())
}

func TestStopJoinsErrors(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(
		rec.component("a", nil, errors.New("flush failed")),
		rec.component("b", nil, nil),
	))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(context.Background())
	assert.ErrorContains(t, err, "a: flush failed")
	assert.Equal(t, "stop a", rec.events[len(rec.events)-1])
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager()
	c := &Func{ComponentName: "x"}

	var typedNil *Func
	require.NoError(t, m.Register(nil, typedNil, c))
	assert.ErrorContains(t, m.Register(c), "already registered")
	assert.Error(t, m.Register(&Func{}))
}

func TestStartOnlyStartsNewComponents(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	require.NoError(t, m.Register(rec.component("a", nil, nil)))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Register(rec.component("b", nil, nil)))
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, []string{"start a", "start b"}, rec.events)
}
