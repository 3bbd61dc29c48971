package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outland-robotics/missiond/internal/bb"
)

func constSource(v bb.Value) *ValueSource {
	return &ValueSource{Const: &v}
}

func successLeaf(name string) *NodeSpec {
	return &NodeSpec{Name: name, Kind: KindConstantResult, Result: "success"}
}

func TestCompileAssignsMonotonicIDs(t *testing.T) {
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			successLeaf("a"),
			successLeaf("b"),
			successLeaf("c"),
		},
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	require.Len(t, compiled.Arena, 4)

	seen := make(map[int64]bool)
	for _, inst := range compiled.Arena {
		assert.False(t, seen[inst.ID], "duplicate instance id %d", inst.ID)
		seen[inst.ID] = true
	}
	assert.Equal(t, int64(1), compiled.Root.ID)
}

func TestCompileExpandsSharedReferenceIntoIndependentInstances(t *testing.T) {
	refs := map[string]*NodeSpec{
		"shared": {
			Name: "shared-seq",
			Kind: KindSequence,
			Children: []*NodeSpec{
				successLeaf("inner"),
			},
		},
	}
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			{Name: "first", Reference: "shared"},
			{Name: "second", Reference: "shared"},
		},
	}

	compiled, failed := Compile(root, refs)
	require.Empty(t, failed)

	// Root + two copies of (sequence + leaf).
	require.Len(t, compiled.Arena, 5)
	first := compiled.Root.Children[0]
	second := compiled.Root.Children[1]
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Children[0].ID, second.Children[0].ID)
	assert.Equal(t, "first", first.Name)
	assert.Equal(t, "second", second.Name)
}

func TestCompileDetectsReferenceCycle(t *testing.T) {
	refs := map[string]*NodeSpec{
		"a": {Name: "a", Kind: KindSequence, Children: []*NodeSpec{{Name: "to-b", Reference: "b"}}},
		"b": {Name: "b", Kind: KindSequence, Children: []*NodeSpec{{Name: "to-a", Reference: "a"}}},
	}
	root := &NodeSpec{Name: "root", Reference: "a"}

	compiled, failed := Compile(root, refs)
	assert.Nil(t, compiled)
	require.NotEmpty(t, failed)
	assert.Contains(t, failed[0].Error, "cycle")
}

func TestCompileReportsUnresolvedReference(t *testing.T) {
	root := &NodeSpec{Name: "root", Reference: "nowhere"}

	compiled, failed := Compile(root, nil)
	assert.Nil(t, compiled)
	require.Len(t, failed, 1)
	assert.Equal(t, "root", failed[0].NodeName)
	assert.Contains(t, failed[0].Error, `unresolved node reference "nowhere"`)
}

func TestCompileBindsReferenceParameters(t *testing.T) {
	refs := map[string]*NodeSpec{
		"set-speed": {
			Name:       "set-speed",
			Kind:       KindSetBlackboard,
			Key:        "speed",
			Value:      &ValueSource{FromParameter: "speed"},
			Parameters: []ParameterDecl{{Name: "speed", Kind: bb.KindFloat}},
		},
	}
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			{
				Name:      "slow",
				Reference: "set-speed",
				ParameterValues: []ParameterBinding{
					{Name: "speed", Value: *constSource(bb.FloatValue(0.5))},
				},
			},
		},
	}

	compiled, failed := Compile(root, refs)
	require.Empty(t, failed)

	inst := compiled.Root.Children[0]
	require.NotNil(t, inst.Value)
	require.NotNil(t, inst.Value.Const)
	assert.Equal(t, 0.5, inst.Value.Const.Float)
}

func TestCompileRejectsUnboundParameter(t *testing.T) {
	refs := map[string]*NodeSpec{
		"set-speed": {
			Name:       "set-speed",
			Kind:       KindSetBlackboard,
			Key:        "speed",
			Value:      &ValueSource{FromParameter: "speed"},
			Parameters: []ParameterDecl{{Name: "speed", Kind: bb.KindFloat}},
		},
	}
	root := &NodeSpec{Name: "occ", Reference: "set-speed"}

	compiled, failed := Compile(root, refs)
	assert.Nil(t, compiled)
	require.NotEmpty(t, failed)
	assert.Contains(t, failed[0].Error, `parameter "speed"`)
}

func TestCompileRejectsParameterKindMismatch(t *testing.T) {
	refs := map[string]*NodeSpec{
		"set-speed": {
			Name:       "set-speed",
			Kind:       KindSetBlackboard,
			Key:        "speed",
			Value:      &ValueSource{FromParameter: "speed"},
			Parameters: []ParameterDecl{{Name: "speed", Kind: bb.KindFloat}},
		},
	}
	root := &NodeSpec{
		Name:      "occ",
		Reference: "set-speed",
		ParameterValues: []ParameterBinding{
			{Name: "speed", Value: *constSource(bb.StringValue("fast"))},
		},
	}

	compiled, failed := Compile(root, refs)
	assert.Nil(t, compiled)
	require.NotEmpty(t, failed)
	assert.Contains(t, failed[0].Error, "expects kind float")
}

func TestCompileAppliesFieldOverrides(t *testing.T) {
	refs := map[string]*NodeSpec{
		"pause": {Name: "pause", Kind: KindSleep, Duration: Duration(time.Second)},
	}
	root := &NodeSpec{
		Name:      "long-pause",
		Reference: "pause",
		Overrides: []FieldOverride{
			{Field: "duration", Value: *constSource(bb.FloatValue(7.5))},
		},
	}

	compiled, failed := Compile(root, refs)
	require.Empty(t, failed)
	assert.Equal(t, 7500*time.Millisecond, compiled.Root.Duration)
}

func TestCompileRejectsUnknownOverrideField(t *testing.T) {
	refs := map[string]*NodeSpec{
		"pause": {Name: "pause", Kind: KindSleep, Duration: Duration(time.Second)},
	}
	root := &NodeSpec{
		Name:      "occ",
		Reference: "pause",
		Overrides: []FieldOverride{
			{Field: "color", Value: *constSource(bb.IntValue(1))},
		},
	}

	compiled, failed := Compile(root, refs)
	assert.Nil(t, compiled)
	require.NotEmpty(t, failed)
	assert.Contains(t, failed[0].Error, `unknown field "color"`)
}

func TestCompileRejectsEmptySequenceAndSelector(t *testing.T) {
	for _, kind := range []Kind{KindSequence, KindSelector} {
		compiled, failed := Compile(&NodeSpec{Name: "empty", Kind: kind}, nil)
		assert.Nil(t, compiled, "kind %s", kind)
		require.NotEmpty(t, failed, "kind %s", kind)
		assert.Contains(t, failed[0].Error, "at least one child")
	}
}

func TestCompileAllOrNothing(t *testing.T) {
	// One bad leaf fails the whole tree even though siblings are fine.
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			successLeaf("ok"),
			{Name: "bad", Kind: KindConstantResult, Result: "sideways"},
		},
	}

	compiled, failed := Compile(root, nil)
	assert.Nil(t, compiled)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].NodeName)
	assert.Equal(t, KindConstantResult, failed[0].Kind)
}

func TestCompileCollectsLeaseUnion(t *testing.T) {
	root := &NodeSpec{
		Name:    "root",
		Kind:    KindSimpleParallel,
		Primary: successLeaf("work"),
		Secondary: &NodeSpec{
			Name:           "guard",
			Kind:           KindRetainLease,
			LeaseResources: []string{"body", "arm"},
		},
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	assert.Equal(t, []string{"arm", "body"}, compiled.LeaseResources)
}

func TestCompileTracksRemoteInstances(t *testing.T) {
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			{Name: "spin", Kind: KindRemote, Service: "spin-svc"},
			{Name: "scan", Kind: KindRemote, Service: "scan-svc"},
		},
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	require.Len(t, compiled.RemoteInstances, 2)
	assert.Equal(t, "spin-svc", compiled.RemoteInstances[0].Service)
	assert.Equal(t, "scan-svc", compiled.RemoteInstances[1].Service)
}

func TestCompileSingleChildKindsTakeFirstChild(t *testing.T) {
	root := &NodeSpec{
		Name:      "root",
		Kind:      KindRepeat,
		MaxStarts: 3,
		Children:  []*NodeSpec{successLeaf("body")},
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	require.NotNil(t, compiled.Root.Child)
	assert.Empty(t, compiled.Root.Children)
	assert.Equal(t, "body", compiled.Root.Child.Name)
}

func TestCompileConditionDefaults(t *testing.T) {
	root := &NodeSpec{
		Name: "check",
		Kind: KindCondition,
		Key:  "status",
		Rhs:  constSource(bb.IntValue(2)),
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	assert.Equal(t, OpEqual, compiled.Root.Op)
	assert.Equal(t, bb.ReadAnyway, compiled.Root.Policy)
}

func TestCompileSwitchCasesAndDefault(t *testing.T) {
	root := &NodeSpec{
		Name:  "route",
		Kind:  KindSwitch,
		Pivot: constSource(bb.IntValue(1)),
		Cases: []SwitchCase{
			{Value: 1, Child: successLeaf("one")},
			{Value: 2, Child: successLeaf("two")},
		},
		Default: successLeaf("fallback"),
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	assert.Equal(t, []int64{1, 2}, compiled.Root.CaseValues)
	require.Len(t, compiled.Root.Children, 2)
	require.NotNil(t, compiled.Root.Default)
	assert.Equal(t, "fallback", compiled.Root.Default.Name)
}

func TestCompileBuildsInfoTree(t *testing.T) {
	root := &NodeSpec{
		Name: "root",
		Kind: KindSequence,
		Children: []*NodeSpec{
			successLeaf("a"),
			successLeaf("b"),
		},
		UserData: map[string]any{"display": "Mission"},
	}

	compiled, failed := Compile(root, nil)
	require.Empty(t, failed)
	require.NotNil(t, compiled.Info)
	assert.Equal(t, compiled.Root.ID, compiled.Info.ID)
	assert.Len(t, compiled.Info.Children, 2)

	found := FindInfo(compiled.Info, compiled.Root.Children[1].ID)
	require.NotNil(t, found)
	assert.Equal(t, "b", found.Name)
}
