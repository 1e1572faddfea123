package frontend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/coco/pkg/blocklist"
	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/queue"
	"github.com/cuemby/coco/pkg/state"
	"github.com/cuemby/coco/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrontend(t *testing.T, cfg Config, specs ...*endpoint.Spec) (*Frontend, *worker.Worker) {
	t.Helper()

	st, err := state.Open(filepath.Join(t.TempDir(), "store"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	registry := endpoint.NewRegistry([]hostset.Group{}, specs)
	eng := endpoint.New(registry, nil, st)
	w := worker.New(q, eng, registry, st)

	bl, err := blocklist.Open(filepath.Join(t.TempDir(), "blocklist.json"), nil)
	require.NoError(t, err)

	fe := New(cfg, registry, q, bl)
	return fe, w
}

func TestHandleEndpointRoundTrip(t *testing.T) {
	spec := &endpoint.Spec{Name: "ping", Method: "GET"}
	fe, w := newTestFrontend(t, Config{NWorkers: 2, Timeout: time.Second}, spec)
	w.Start()
	defer w.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestQueueFullReturns503(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second}, &endpoint.Spec{Name: "ping"})
	fe.queue.Close()
	q, err := queue.Open(filepath.Join(t.TempDir(), "q2.db"), 1)
	require.NoError(t, err)
	defer q.Close()
	fe.queue = q

	require.NoError(t, q.Enqueue(queue.Entry{Key: queue.NewKey(), Endpoint: "ping"}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Coco queue is full.", body["reply"])
}

func TestFrontendTimeoutReturns504(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: 10 * time.Millisecond}, &endpoint.Spec{Name: "ping"})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}

func TestControlEndpointSaveState(t *testing.T) {
	fe, w := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second})
	w.Start()
	defer w.Stop()

	body, _ := json.Marshal(map[string]string{"name": "snap-a"})
	req := httptest.NewRequest(http.MethodPost, "/save-state", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleWaitDoesNotTouchQueue(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second})

	body, _ := json.Marshal(map[string]float64{"seconds": 0.01})
	req := httptest.NewRequest(http.MethodPost, "/wait", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	start := time.Now()
	fe.server.Handler.ServeHTTP(rr, req)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleWaitRejectsMissingSeconds(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second})

	req := httptest.NewRequest(http.MethodPost, "/wait", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleWaitRejectsNonNumericSeconds(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second})

	body, _ := json.Marshal(map[string]string{"seconds": "soon"})
	req := httptest.NewRequest(http.MethodPost, "/wait", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBlocklistRouteWired(t *testing.T) {
	fe, _ := newTestFrontend(t, Config{NWorkers: 1, Timeout: time.Second})

	req := httptest.NewRequest(http.MethodGet, "/blocklist", nil)
	rr := httptest.NewRecorder()
	fe.server.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

