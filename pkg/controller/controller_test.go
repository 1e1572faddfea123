package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/coco/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "coco.yaml")
	body := `
port: 0
storage_path: ` + filepath.Join(dir, "state") + `
blocklist_path: ` + filepath.Join(dir, "blocklist.json") + `
endpoints:
  - name: ping
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	c, err := New(writeTestConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Config())
	assert.NotNil(t, c.State())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, err := New(writeTestConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = c.Run(ctx)
	assert.NoError(t, err)
}

func TestNewPrimesDropCounterForEveryEndpoint(t *testing.T) {
	c, err := New(writeTestConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.QueueDroppedTotal.WithLabelValues("ping")))
}

func TestStartMetricsServesHealthAndReadiness(t *testing.T) {
	c, err := New(writeTestConfig(t))
	require.NoError(t, err)
	defer c.Close()

	c.cfg.MetricsPort = 0
	c.startMetrics()
	defer c.stopMetrics()

	// Run marks the frontend as serving before it accepts traffic; do the
	// same here, since health state is process-wide and an earlier Run in
	// this package leaves the frontend marked as stopped.
	metrics.RegisterComponent("frontend", true, "serving")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	c.metricsSrv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr = httptest.NewRecorder()
	c.metricsSrv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
