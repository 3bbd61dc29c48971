package mission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outland-robotics/missiond/internal/tree"
)

const sampleMission = `
name: inspect-lab
root:
  name: inspect
  kind: sequence
  children:
    - name: announce
      kind: set_blackboard
      key: phase
      value:
        const: {kind: string, string: "inspecting"}
    - name: hold
      kind: sleep
      duration: 90s
    - name: patrol-a
      reference: patrol
references:
  patrol:
    name: patrol
    kind: repeat
    max_starts: 2
    children:
      - name: leg
        kind: sleep
        duration: 1.5
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleMission))
	require.NoError(t, err)

	assert.Equal(t, "inspect-lab", def.Name)
	require.NotNil(t, def.Root)
	require.Len(t, def.Root.Children, 3)

	// Duration strings and bare seconds both parse.
	assert.Equal(t, 90*time.Second, def.Root.Children[1].Duration.Std())
	ref := def.References["patrol"]
	require.NotNil(t, ref)
	assert.Equal(t, 1500*time.Millisecond, ref.Children[0].Duration.Std())

	// The parsed tree compiles.
	compiled, failed := tree.Compile(def.Root, def.References)
	require.Empty(t, failed)
	assert.NotNil(t, compiled)
}

func TestParseDefinitionRejectsUnknownField(t *testing.T) {
	_, err := ParseDefinition([]byte(`
name: typo
root:
  name: hold
  kind: sleep
  durration: 5s
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "durration")
}

func TestParseDefinitionRejectsEmptyAndIncomplete(t *testing.T) {
	_, err := ParseDefinition(nil)
	assert.ErrorContains(t, err, "empty")

	_, err = ParseDefinition([]byte("root:\n  name: x\n  kind: sequence\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = ParseDefinition([]byte("name: headless\n"))
	assert.ErrorContains(t, err, "no root")
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMission), 0o644))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "inspect-lab", def.Name)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
