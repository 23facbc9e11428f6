package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchShowGraphRendersStoredSteps(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "a", "backend": "identity",
	}}).Success)
	require.True(t, d.Dispatch(ctx, Command{Type: CreateGraph, Params: map[string]any{
		"graph_id": "g1", "steps": []any{stepSpec("a")},
	}}).Success)

	resp := d.Dispatch(ctx, Command{Type: ShowGraph, Params: map[string]any{"graph_id": "g1"}})

	require.True(t, resp.Success)
	steps, ok := resp.Data["steps"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, steps, 1)
	assert.Equal(t, "a", steps[0]["node"])
}

func TestDispatchShowGraphUnknownGraphFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ShowGraph, Params: map[string]any{"graph_id": "ghost"}})

	assert.False(t, resp.Success)
}

func TestDispatchDryRunGraphReportsTopologicalOrder(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: DryRunGraph, Params: map[string]any{
		"steps": []any{stepSpec("b", "a"), stepSpec("a")},
	}})

	require.True(t, resp.Success)
	order, ok := resp.Data["order"].([]string)
	require.True(t, ok)
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "b", order[1])
}

func TestDispatchDryRunGraphAgainstStoredGraph(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "a", "backend": "identity",
	}}).Success)
	require.True(t, d.Dispatch(ctx, Command{Type: CreateGraph, Params: map[string]any{
		"graph_id": "g2", "steps": []any{stepSpec("a")},
	}}).Success)

	resp := d.Dispatch(ctx, Command{Type: DryRunGraph, Params: map[string]any{"graph_id": "g2"}})

	require.True(t, resp.Success)
	assert.Equal(t, []string{"a"}, resp.Data["order"])
}

func TestDispatchValidateGraphAcceptsWellFormedSteps(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ValidateGraph, Params: map[string]any{
		"steps": []any{stepSpec("a"), stepSpec("b", "a")},
	}})

	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Data["valid"])
}

func TestDispatchValidateGraphRejectsCycle(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ValidateGraph, Params: map[string]any{
		"steps": []any{stepSpec("a", "b"), stepSpec("b", "a")},
	}})

	require.True(t, resp.Success)
	assert.Equal(t, false, resp.Data["valid"])
	assert.NotEmpty(t, resp.Data["error"])
}

func TestDispatchValidateGraphRejectsMissingStepID(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ValidateGraph, Params: map[string]any{
		"steps": []any{map[string]any{"node_id": "a"}},
	}})

	require.True(t, resp.Success)
	assert.Equal(t, false, resp.Data["valid"])
}

func TestDispatchListEntitiesReportsNodesGraphsAndWorkflows(t *testing.T) {
	t.Parallel()
	d, _, reg := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "a", "backend": "identity",
	}}).Success)
	require.True(t, d.Dispatch(ctx, Command{Type: CreateGraph, Params: map[string]any{
		"graph_id": "g3", "steps": []any{stepSpec("a")},
	}}).Success)
	sess, err := reg.GetSession("default")
	require.NoError(t, err)
	addEchoWorkflow(t, sess, "wf4")

	resp := d.Dispatch(ctx, Command{Type: ListEntities})

	require.True(t, resp.Success)
	assert.Equal(t, []string{"a"}, resp.Data["nodes"])
	assert.Equal(t, []string{"g3"}, resp.Data["graphs"])
	assert.Equal(t, []string{"wf4"}, resp.Data["workflows"])
}
