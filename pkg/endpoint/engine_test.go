package endpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/coco/pkg/blocklist"
	"github.com/cuemby/coco/pkg/check"
	"github.com/cuemby/coco/pkg/forwarder"
	"github.com/cuemby/coco/pkg/hostset"
	"github.com/cuemby/coco/pkg/state"
	"github.com/cuemby/coco/pkg/testfarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, farm *testfarm.Farm) (*Engine, *Registry, *state.State) {
	t.Helper()
	hosts := farm.Hosts()

	bl, err := blocklist.Open(filepath.Join(t.TempDir(), "blocklist.json"), hosts)
	require.NoError(t, err)
	fwd := forwarder.New(len(hosts), time.Second, bl)

	st, err := state.Open(filepath.Join(t.TempDir(), "store"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := NewRegistry([]hostset.Group{{Name: "backends", Hosts: hosts}}, nil)
	return New(registry, fwd, st), registry, st
}

// TestSaveGetStateRoundTrip covers the save_state/get_state round trip.
func TestSaveGetStateRoundTrip(t *testing.T) {
	farm := testfarm.New(1, nil)
	defer farm.Stop()

	eng, registry, _ := newTestEngine(t, farm)
	spec := &Spec{
		Name:   "deploy",
		Method: "POST",
		Values: map[string]ValueSpec{
			"version": {Type: TypeString, Required: true},
		},
		SaveState: []string{"deploy"},
		GetState:  "deploy",
	}
	registry.specs["deploy"] = spec
	eng.registry = registry

	res, err := eng.Invoke(context.Background(), "deploy", map[string]interface{}{"version": "1.2.3"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)

	saved, ok := res.Body["state"].(map[string]interface{})
	require.True(t, ok)
	inner, ok := saved["deploy"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1.2.3", inner["version"])
}

// TestForwardAndIdenticalCheck covers the identical-replies check
// against a multi-host forward.
func TestForwardAndIdenticalCheck(t *testing.T) {
	farm := testfarm.New(2, map[string]testfarm.Callback{
		"status": func(body map[string]interface{}) interface{} {
			return map[string]interface{}{"ready": true}
		},
	})
	defer farm.Stop()

	eng, registry, _ := newTestEngine(t, farm)
	spec := &Spec{
		Name:   "status",
		Method: "GET",
		Forward: &ForwardSpec{
			Group:  "backends",
			Method: "GET",
			Path:   "/status",
			Checks: []check.Check{check.Identical{}},
		},
	}
	registry.specs["status"] = spec
	eng.registry = registry

	res, err := eng.Invoke(context.Background(), "status", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)

	replies, ok := res.Body["status"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, replies, 2)
}

func TestInvokeUnknownEndpointIsInternalError(t *testing.T) {
	farm := testfarm.New(0, nil)
	defer farm.Stop()

	eng, _, _ := newTestEngine(t, farm)
	_, err := eng.Invoke(context.Background(), "does-not-exist", nil)
	assert.Error(t, err)
}

func TestInvokeMissingRequiredValueIsInvalidUsage(t *testing.T) {
	farm := testfarm.New(0, nil)
	defer farm.Stop()

	eng, registry, _ := newTestEngine(t, farm)
	registry.specs["deploy"] = &Spec{
		Name: "deploy",
		Values: map[string]ValueSpec{
			"version": {Type: TypeString, Required: true},
		},
	}
	eng.registry = registry

	_, err := eng.Invoke(context.Background(), "deploy", map[string]interface{}{})
	require.Error(t, err)
}
