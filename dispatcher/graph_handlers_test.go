package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepSpec(id string, dependsOn ...string) map[string]any {
	m := map[string]any{"id": id, "node_id": id}
	if len(dependsOn) > 0 {
		deps := make([]any, len(dependsOn))
		for i, d := range dependsOn {
			deps[i] = d
		}
		m["depends_on"] = deps
	}
	return m
}

func TestDispatchExecuteGraphRunsStepsAgainstResolvedNodes(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
			"node_id": id, "backend": "identity",
		}}).Success)
	}

	resp := d.Dispatch(ctx, Command{Type: ExecuteGraph, Params: map[string]any{
		"steps": []any{stepSpec("a"), stepSpec("b", "a")},
	}})

	require.True(t, resp.Success)
	statuses, ok := resp.Data["step_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", statuses["a"])
	assert.Equal(t, "success", statuses["b"])
}

func TestDispatchExecuteGraphUnknownNodeIDFailsThatStep(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ExecuteGraph, Params: map[string]any{
		"steps": []any{stepSpec("ghost")},
	}})

	require.True(t, resp.Success)
	statuses := resp.Data["step_status"].(map[string]any)
	assert.Equal(t, "failed", statuses["ghost"])
}

func TestDispatchCreateGraphThenGetRunAndDeleteGraph(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "a", "backend": "identity",
	}}).Success)

	createResp := d.Dispatch(ctx, Command{Type: CreateGraph, Params: map[string]any{
		"graph_id": "g1", "steps": []any{stepSpec("a")},
	}})
	require.True(t, createResp.Success)

	getResp := d.Dispatch(ctx, Command{Type: GetGraph, Params: map[string]any{"graph_id": "g1"}})
	require.True(t, getResp.Success)
	assert.Equal(t, []string{"a"}, getResp.Data["steps"])

	runResp := d.Dispatch(ctx, Command{Type: RunGraph, Params: map[string]any{"graph_id": "g1"}})
	require.True(t, runResp.Success)

	deleteResp := d.Dispatch(ctx, Command{Type: DeleteGraph, Params: map[string]any{"graph_id": "g1"}})
	assert.True(t, deleteResp.Success)
}

func TestDispatchCancelGraphFailsWhenNotRunning(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: CancelGraph, Params: map[string]any{"graph_id": "nope"}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not running")
}

func TestDispatchRunGraphUnknownGraphFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: RunGraph, Params: map[string]any{"graph_id": "ghost"}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")
}
