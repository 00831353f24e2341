package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.RunStarted("assessment")
	m.RunFinished("assessment", "success")

	srv := NewServer("127.0.0.1:0", reg)
	require.NoError(t, srv.Start(context.Background()))
	defer func() { assert.NoError(t, srv.Stop(context.Background())) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `boxfixer_agent_runs_total{outcome="success",run="assessment"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServerStopBeforeStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRegistry())
	assert.NoError(t, srv.Stop(context.Background()))
}
