package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missionYAML(name string) string {
	return "name: " + name + "\nroot:\n  name: hold\n  kind: sleep\n  duration: 5s\n"
}

func writeMission(t *testing.T, dir, file, name string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(missionYAML(name)), 0o644))
	return path
}

func TestOpenScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeMission(t, dir, "patrol.yaml", "patrol")
	writeMission(t, dir, "inspect.yml", "inspect")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a mission"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0o644))

	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	entries := lib.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "inspect", entries[0].Name)
	assert.Equal(t, "patrol", entries[1].Name)

	e, ok := lib.Get("patrol")
	require.True(t, ok)
	require.NotNil(t, e.Definition)
	assert.Equal(t, "patrol", e.Definition.Name)

	_, ok = lib.Get("broken")
	assert.False(t, ok)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestHotReloadPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	writeMission(t, dir, "late.yaml", "late-arrival")

	require.Eventually(t, func() bool {
		_, ok := lib.Get("late-arrival")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHotReloadDropsRemovedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeMission(t, dir, "patrol.yaml", "patrol")

	lib, err := Open(dir)
	require.NoError(t, err)
	defer lib.Close()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := lib.Get("patrol")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}
