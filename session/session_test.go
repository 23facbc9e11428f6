package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/workflow"
)

func TestSessionRejectsDuplicateIDAcrossNodeGraphWorkflowNamespace(t *testing.T) {
	t.Parallel()

	s := New("s1", "srv", HistoryConfig{}, workflow.NewRuntime(event.NewInProcSink()), nil)
	require.NoError(t, s.AddNode(node.NewIdentity("shared")))

	wf := &workflow.Workflow{ID: "shared", Fn: func(ctx *workflow.Context) (any, error) { return nil, nil }}
	err := s.AddWorkflow(wf)
	assert.Error(t, err)
}

func TestSessionResolveNodeFindsRegisteredNode(t *testing.T) {
	t.Parallel()

	s := New("s2", "srv", HistoryConfig{}, workflow.NewRuntime(event.NewInProcSink()), nil)
	n := node.NewIdentity("id1")
	require.NoError(t, s.AddNode(n))

	found, ok := s.ResolveNode("id1")
	require.True(t, ok)
	assert.Equal(t, "id1", found.ID())

	_, ok = s.ResolveNode("ghost")
	assert.False(t, ok)
}

func TestSessionTeardownStopsPersistentNodesOnly(t *testing.T) {
	t.Parallel()

	s := New("s3", "srv", HistoryConfig{}, workflow.NewRuntime(event.NewInProcSink()), nil)
	persistent := node.NewMCP("mcp1", fakeMCPCaller{}, nil)
	require.NoError(t, persistent.Start(context.Background()))
	require.NoError(t, s.AddNode(persistent))
	require.NoError(t, s.AddNode(node.NewIdentity("ephemeral1")))

	require.NoError(t, s.Teardown(context.Background()))
	assert.Equal(t, node.StateStopped, persistent.State())
}

func TestSessionExecuteWorkflowRunsAgainstSessionNodes(t *testing.T) {
	t.Parallel()

	s := New("s4", "srv", HistoryConfig{}, workflow.NewRuntime(event.NewInProcSink()), nil)
	require.NoError(t, s.AddNode(node.NewIdentity("echo")))

	wf := &workflow.Workflow{ID: "w1", Fn: func(ctx *workflow.Context) (any, error) {
		res, err := ctx.Run("echo", "hi", 0)
		if err != nil {
			return nil, err
		}
		return res.Data["output"], nil
	}}
	require.NoError(t, s.AddWorkflow(wf))

	run, err := s.ExecuteWorkflow(context.Background(), "w1", nil)
	require.NoError(t, err)
	snap, err := workflow.Wait(context.Background(), run, 0)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCompleted, snap.State)
	assert.Equal(t, "hi", snap.Result)
}

type fakeMCPCaller struct{}

func (fakeMCPCaller) CallTool(ctx context.Context, req node.MCPCallRequest) (node.MCPCallResponse, error) {
	return node.MCPCallResponse{}, nil
}
