package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInitialFile(t *testing.T, dir, name, yamlBody string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func TestOpenHydratesFromInitialState(t *testing.T) {
	dir := t.TempDir()
	file := writeInitialFile(t, dir, "initial.yaml", "version: 1\ncounters:\n  hits: 0\n")

	s, err := Open(filepath.Join(dir, "store"), []InitialStateFile{{Path: "", File: file}}, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Read("version")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.FindOrCreate("config")
	require.NoError(t, err)
	require.NoError(t, s.Write("config/enabled", true))

	v, err := s.Read("config/enabled")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSaveLoadAndListSaved(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("counter", 1.0))
	require.NoError(t, s.Save("snapshot-a"))

	require.NoError(t, s.Write("counter", 2.0))

	names, err := s.ListSaved()
	require.NoError(t, err)
	assert.Contains(t, names, "snapshot-a")

	require.NoError(t, s.Load("snapshot-a"))
	v, err := s.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestLoadUnknownSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Error(t, s.Load("does-not-exist"))
}

func TestResetPreservesExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	file := writeInitialFile(t, dir, "initial.yaml", "counters:\n  hits: 0\n")

	s, err := Open(filepath.Join(dir, "store"), []InitialStateFile{{Path: "", File: file}}, []string{"session"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("counters/hits", 99.0))
	_, err = s.FindOrCreate("session")
	require.NoError(t, err)
	require.NoError(t, s.Write("session/id", "abc"))

	require.NoError(t, s.Reset())

	hits, err := s.Read("counters/hits")
	require.NoError(t, err)
	assert.EqualValues(t, 0, hits)

	id, err := s.Read("session/id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestHashStableForEqualTrees(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("a", map[string]interface{}{"b": 1.0}))
	h1, err := s.Hash("")
	require.NoError(t, err)
	h2, err := s.Hash("")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsEmpty())
	require.NoError(t, s.Write("x", 1.0))
	assert.False(t, s.IsEmpty())
}
