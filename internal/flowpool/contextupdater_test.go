package flowpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextUpdaterScalarModeCallsInitOncePerSlot(t *testing.T) {
	var calls []any
	u := NewContextUpdater(func(prev any) (any, error) {
		calls = append(calls, prev)
		return len(calls), nil
	}, true)

	require.NoError(t, u.CycleStart(false, 3))
	require.Len(t, calls, 3, "init must be called exactly once per concurrency slot, not once extra for slot 0")
	require.Equal(t, []any{1, 2, 3}, u.Contexts())
}

func TestContextUpdaterScalarModeRebuildCallsInitOncePerSlot(t *testing.T) {
	callCount := make(map[any]int)
	u := NewContextUpdater(func(prev any) (any, error) {
		callCount[prev]++
		return prev, nil
	}, true)
	// Bypass a real first cycle: seed the previous-cycle contexts directly
	// so the rebuild below exercises slot 0's prev (not nil).
	u.contexts = []any{"a", "b"}

	require.NoError(t, u.CycleStart(true, 2))
	require.Equal(t, []any{"a", "b"}, u.Contexts())
	require.Equal(t, 1, callCount["a"], "slot 0's prev context must only be derived once (via the probe call)")
	require.Equal(t, 1, callCount["b"], "slot 1's prev context must be derived exactly once")
}
