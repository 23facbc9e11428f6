package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/workflow"
)

func addEchoWorkflow(t *testing.T, sess *session.Session, id string) {
	t.Helper()
	wf := &workflow.Workflow{ID: id, Fn: func(c *workflow.Context) (any, error) {
		return "done", nil
	}}
	require.NoError(t, sess.AddWorkflow(wf))
}

func TestDispatchExecuteWorkflowWaitsForCompletion(t *testing.T) {
	t.Parallel()
	d, _, reg := newTestDispatcher(t)
	sess, err := reg.GetSession("default")
	require.NoError(t, err)
	addEchoWorkflow(t, sess, "wf1")

	resp := d.Dispatch(context.Background(), Command{Type: ExecuteWorkflow, Params: map[string]any{
		"workflow_id": "wf1",
	}})

	require.True(t, resp.Success)
	assert.Equal(t, string(workflow.RunCompleted), resp.Data["state"])
	assert.Equal(t, "done", resp.Data["result"])
}

func TestDispatchExecuteWorkflowNoWaitReturnsImmediately(t *testing.T) {
	t.Parallel()
	d, _, reg := newTestDispatcher(t)
	sess, err := reg.GetSession("default")
	require.NoError(t, err)
	addEchoWorkflow(t, sess, "wf2")

	resp := d.Dispatch(context.Background(), Command{Type: ExecuteWorkflow, Params: map[string]any{
		"workflow_id": "wf2", "wait": false,
	}})

	require.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data["run_id"])
}

func TestDispatchExecuteWorkflowUnknownIDFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: ExecuteWorkflow, Params: map[string]any{
		"workflow_id": "ghost",
	}})

	assert.False(t, resp.Success)
}

func TestDispatchGetWorkflowRunAfterExecute(t *testing.T) {
	t.Parallel()
	d, _, reg := newTestDispatcher(t)
	sess, err := reg.GetSession("default")
	require.NoError(t, err)
	addEchoWorkflow(t, sess, "wf3")

	execResp := d.Dispatch(context.Background(), Command{Type: ExecuteWorkflow, Params: map[string]any{
		"workflow_id": "wf3",
	}})
	require.True(t, execResp.Success)
	runID, _ := execResp.Data["run_id"].(string)
	require.NotEmpty(t, runID)

	getResp := d.Dispatch(context.Background(), Command{Type: GetWorkflowRun, Params: map[string]any{"run_id": runID}})
	require.True(t, getResp.Success)
	assert.Equal(t, "wf3", getResp.Data["workflow_id"])

	listResp := d.Dispatch(context.Background(), Command{Type: ListWorkflowRuns})
	require.True(t, listResp.Success)
	runs, ok := listResp.Data["runs"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, runs, 1)
}

func TestDispatchGetWorkflowRunUnknownIDFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: GetWorkflowRun, Params: map[string]any{"run_id": "ghost"}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")
}

func TestDispatchCancelWorkflowUnknownIDFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: CancelWorkflow, Params: map[string]any{"run_id": "ghost"}})

	assert.False(t, resp.Success)
}
