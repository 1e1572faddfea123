package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/coco-state", cfg.StoragePath)
	assert.Equal(t, "/tmp/coco-blocklist.json", cfg.BlocklistPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.FrontendTimeout)
}

func TestLoadAggregatesMultipleErrors(t *testing.T) {
	path := writeConfig(t, `
storage_path: relative/path
blocklist_path: ""
timeout: not-a-duration
`)
	_, err := Load(path)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "storage_path")
	assert.Contains(t, msg, "blocklist_path")
	assert.Contains(t, msg, "timeout")
}

func TestLoadRejectsUnknownGroupReference(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
endpoints:
  - name: deploy
    group: missing-group
    call:
      forward:
        path: /deploy
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-group")
}

func TestLoadRejectsDuplicateEndpointNames(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
endpoints:
  - name: deploy
  - name: deploy
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared more than once")
}

func TestLoadRejectsChainReferenceToUnknownEndpoint(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
endpoints:
  - name: deploy
    before:
      - ghost
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

// TestLoadRejectsSaveStateWithoutValues covers Open Question (b): an
// endpoint declaring save_state must also declare a values schema.
func TestLoadRejectsSaveStateWithoutValues(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
endpoints:
  - name: deploy
    save_state:
      - deploy
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save_state requires a values schema")
}

// TestLoadRejectsCoForwardTargetWithOwnForward covers Open Question (a):
// an endpoint used as a forward_to_coco target cannot also declare its
// own call.forward.
func TestLoadRejectsCoForwardTargetWithOwnForward(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
groups:
  backends:
    - http://10.0.0.1:9000
endpoints:
  - name: upstream
    group: backends
    call:
      forward:
        path: /upstream
  - name: gateway
    forward_to_coco:
      - upstream
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coco-forward target")
}

func TestLoadChainEntryBothForms(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
endpoints:
  - name: first
  - name: second
    before:
      - first
      - first: {identical: true}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	spec, ok := cfg.Registry.Spec("second")
	require.True(t, ok)
	require.Len(t, spec.Before, 2)
	assert.Equal(t, "first", spec.Before[0].Name)
	assert.False(t, spec.Before[0].Identical)
	assert.Equal(t, "first", spec.Before[1].Name)
	assert.True(t, spec.Before[1].Identical)
}

func TestLoadDurationAcceptsBareSecondsAndDurationString(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
timeout: 5
frontend_timeout: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 120*time.Second, cfg.FrontendTimeout)
}

func TestLoadForwardSpecAndChecks(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
groups:
  backends:
    - http://10.0.0.1:9000
    - http://10.0.0.2:9000
endpoints:
  - name: status
    group: backends
    call:
      forward:
        method: get
        checks:
          - type: identical
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	spec, ok := cfg.Registry.Spec("status")
	require.True(t, ok)
	require.NotNil(t, spec.Forward)
	assert.Equal(t, "backends", spec.Forward.Group)
	assert.Equal(t, "GET", spec.Forward.Method)
	assert.Equal(t, "/status", spec.Forward.Path)
	assert.Len(t, spec.Forward.Checks, 1)
}

func TestLoadRelativeInitialStatePathResolvedAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	initial := filepath.Join(dir, "initial.yaml")
	require.NoError(t, os.WriteFile(initial, []byte("a: 1\n"), 0o644))

	cfgPath := filepath.Join(dir, "coco.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
load_state:
  "": initial.yaml
`), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Len(t, cfg.InitialState, 1)
	assert.Equal(t, initial, cfg.InitialState[0].File)
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadCometBrokerRequiresHostAndPortWhenEnabled(t *testing.T) {
	path := writeConfig(t, `
storage_path: /tmp/coco-state
blocklist_path: /tmp/coco-blocklist.json
comet_broker:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comet_broker")
}
