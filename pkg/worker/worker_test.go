package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/coco/pkg/endpoint"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/queue"
	"github.com/cuemby/coco/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, specs ...*endpoint.Spec) (*Worker, *queue.Queue, *state.State) {
	t.Helper()

	st, err := state.Open(filepath.Join(t.TempDir(), "store"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	registry := endpoint.NewRegistry([]hostset.Group{}, specs)
	eng := endpoint.New(registry, nil, st)
	w := New(q, eng, registry, st)
	return w, q, st
}

func TestHandleControlStateLifecycle(t *testing.T) {
	w, _, st := newTestWorker(t)
	require.NoError(t, st.Write("version", "v1"))

	handled, status, _ := w.handleControl(queue.Entry{
		Endpoint: ControlSaveState,
		Body:     map[string]interface{}{"name": "snap-a"},
	})
	require.True(t, handled)
	assert.Equal(t, 200, status)

	handled, status, body := w.handleControl(queue.Entry{Endpoint: ControlSavedStates})
	require.True(t, handled)
	assert.Equal(t, 200, status)
	names, ok := body.([]string)
	require.True(t, ok)
	assert.Contains(t, names, "snap-a")

	require.NoError(t, st.Write("version", "v2"))
	handled, status, _ = w.handleControl(queue.Entry{
		Endpoint: ControlLoadState,
		Body:     map[string]interface{}{"name": "snap-a"},
	})
	require.True(t, handled)
	assert.Equal(t, 200, status)
	v, err := st.Read("version")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	handled, status, _ = w.handleControl(queue.Entry{Endpoint: ControlResetState})
	require.True(t, handled)
	assert.Equal(t, 200, status)
}

func TestHandleControlIgnoresOrdinaryEndpoints(t *testing.T) {
	w, _, _ := newTestWorker(t)
	handled, _, _ := w.handleControl(queue.Entry{Endpoint: "deploy"})
	assert.False(t, handled)
}

func TestConsumeExecutesOrdinaryEndpoint(t *testing.T) {
	spec := &endpoint.Spec{Name: "ping", Method: "GET"}
	w, q, _ := newTestWorker(t, spec)

	w.Start()
	defer w.Stop()

	entry := queue.Entry{Key: queue.NewKey(), Endpoint: "ping"}
	require.NoError(t, q.Enqueue(entry))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := q.Await(ctx, entry.Key)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
}

func TestRunStartupEndpoints(t *testing.T) {
	spec := &endpoint.Spec{
		Name:        "bootstrap",
		CallOnStart: true,
		SaveState:   []string{"bootstrapped"},
		Values:      map[string]endpoint.ValueSpec{},
	}
	w, _, st := newTestWorker(t, spec)

	w.RunStartupEndpoints(context.Background())

	v, err := st.Read("bootstrapped")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestScheduledEndpointRunsPeriodically(t *testing.T) {
	spec := &endpoint.Spec{
		Name:      "tick",
		SaveState: []string{"ticks"},
		Schedule:  &endpoint.ScheduleSpec{Period: 20 * time.Millisecond},
	}
	w, _, st := newTestWorker(t, spec)

	w.Start()
	defer w.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := st.Read("ticks"); err == nil && v != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scheduled endpoint never ran")
}
