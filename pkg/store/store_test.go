package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/types"
)

func testRoute(id string, updated time.Time, steps ...types.ExecutionStatus) *types.Route {
	route := &types.Route{ID: id, FromChainID: 1, ToChainID: 137, FromAmount: "1000", UpdatedAt: updated}
	for i, status := range steps {
		step := &types.Step{ID: id + "-" + string(rune('a'+i)), Type: types.StepCross, Tool: "nxtp"}
		if status != types.StatusNotStarted {
			step.Execution = &types.Execution{Status: status}
		}
		route.Steps = append(route.Steps, step)
	}
	return route
}

// runStoreContract checks the behavior every Store must share
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	route := testRoute("r1", now, types.StatusPending)
	require.NoError(t, s.Save(ctx, route))

	// later mutations of the caller's route must not leak into the store
	route.Steps[0].Execution.Status = types.StatusDone

	loaded, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, loaded.Steps[0].Status())

	require.NoError(t, s.Save(ctx, route))
	loaded, err = s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, loaded.Steps[0].Status())

	require.NoError(t, s.Save(ctx, testRoute("r2", now.Add(time.Minute), types.StatusDone, types.StatusPending)))
	require.NoError(t, s.Save(ctx, testRoute("r3", now.Add(-time.Minute), types.StatusFailed)))
	require.NoError(t, s.Save(ctx, testRoute("r4", now.Add(-2*time.Minute), types.StatusNotStarted)))

	routes, err := s.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r2", "r1", "r3", "r4"}, ids)

	pending, err := Pending(ctx, s)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].ID)

	require.NoError(t, s.Delete(ctx, "r2"))
	_, err = s.Load(ctx, "r2")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Save(ctx, &types.Route{}))
}
