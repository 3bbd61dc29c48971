package bb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeDefineAndRead(t *testing.T) {
	root := NewScope(nil)
	root.Define("speed", FloatValue(1.5), 3)

	v, tick, ok := root.Read("speed")
	require.True(t, ok)
	assert.Equal(t, FloatValue(1.5), v)
	assert.Equal(t, int64(3), tick)

	_, _, ok = root.Read("missing")
	assert.False(t, ok)
}

func TestScopeShadowing(t *testing.T) {
	root := NewScope(nil)
	root.Define("target", StringValue("dock-1"), 1)

	inner := NewScope(root)
	inner.Define("target", StringValue("dock-2"), 2)

	v, _, ok := inner.Read("target")
	require.True(t, ok)
	assert.Equal(t, "dock-2", v.Str)

	// The outer binding is untouched.
	v, _, ok = root.Read("target")
	require.True(t, ok)
	assert.Equal(t, "dock-1", v.Str)
}

func TestScopeWriteNearestEnclosing(t *testing.T) {
	root := NewScope(nil)
	root.Define("count", IntValue(0), 1)
	inner := NewScope(root)

	require.NoError(t, inner.Write("count", IntValue(7), 5))

	v, tick, ok := root.Read("count")
	require.True(t, ok)
	assert.Equal(t, int64(7), v.Int)
	assert.Equal(t, int64(5), tick)
}

func TestScopeWriteUndefinedFails(t *testing.T) {
	root := NewScope(nil)
	inner := NewScope(root)

	err := inner.Write("never_defined", BoolValue(true), 1)
	assert.Error(t, err)
}

func TestScopeBindingsDoNotLeakOutward(t *testing.T) {
	root := NewScope(nil)
	inner := NewScope(root)
	inner.Define("local", IntValue(42), 1)

	// Popping the frame is just dropping the reference.
	_, _, ok := root.Read("local")
	assert.False(t, ok)
}

func TestReadWithPolicyStaleness(t *testing.T) {
	root := NewScope(nil)
	root.Define("status", IntValue(2), 4)

	_, staleness := root.ReadWithPolicy("status", 4)
	assert.Equal(t, Fresh, staleness)

	_, staleness = root.ReadWithPolicy("status", 5)
	assert.Equal(t, Stale, staleness)

	_, staleness = root.ReadWithPolicy("absent", 1)
	assert.Equal(t, Missing, staleness)
}

func TestSnapshotInnerShadowsOuter(t *testing.T) {
	root := NewScope(nil)
	root.Define("a", IntValue(1), 1)
	root.Define("b", IntValue(2), 1)
	inner := NewScope(root)
	inner.Define("b", IntValue(20), 2)

	snap := inner.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap["a"].Value.Int)
	assert.Equal(t, int64(20), snap["b"].Value.Int)
}

func TestValueEqualNumericWidening(t *testing.T) {
	assert.True(t, IntValue(3).Equal(FloatValue(3)))
	assert.True(t, FloatValue(3).Equal(IntValue(3)))
	assert.False(t, IntValue(3).Equal(FloatValue(3.5)))
	assert.False(t, IntValue(1).Equal(BoolValue(true)))
	assert.True(t, StringValue("x").Equal(StringValue("x")))
}
