package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/sessionregistry"
	"github.com/agentorch/agentserver/workflow"
)

// newTestDispatcher builds a Dispatcher wired the same way the transport
// tests do: a single "default" session over an in-process sink, no real
// model providers or tmux multiplexer since command routing and error
// mapping don't need either.
func newTestDispatcher(t *testing.T) (*Dispatcher, *event.InProcSink, *sessionregistry.Registry) {
	t.Helper()
	sink := event.NewInProcSink()
	reg := sessionregistry.New()
	require.NoError(t, reg.AddSession(session.New("default", "srv", session.HistoryConfig{}, workflow.NewRuntime(sink), nil)))
	d := New(Config{
		ServerName:   "srv",
		Registry:     reg,
		Proxies:      proxy.NewManager(21000, nil),
		ModelClients: modelclient.NewRegistry(nil),
		Sink:         sink,
	})
	return d, sink, reg
}

func TestDispatchPingReportsAggregateCounts(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: Ping, RequestID: "r1"})

	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.EqualValues(t, true, resp.Data["pong"])
	assert.EqualValues(t, 0, resp.Data["nodes"])
	assert.EqualValues(t, 1, resp.Data["sessions"])
}

func TestDispatchUnknownCommandTypeFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: "no_such_command"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command type")
}

func TestDispatchCreateNodeThenListAndDelete(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "n1", "backend": "identity",
	}})
	require.True(t, createResp.Success)
	assert.Equal(t, "n1", createResp.Data["node_id"])

	listResp := d.Dispatch(ctx, Command{Type: ListNodes})
	require.True(t, listResp.Success)
	nodes, ok := listResp.Data["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0]["id"])

	deleteResp := d.Dispatch(ctx, Command{Type: DeleteNode, Params: map[string]any{"node_id": "n1"}})
	assert.True(t, deleteResp.Success)

	listAfter := d.Dispatch(ctx, Command{Type: ListNodes})
	require.True(t, listAfter.Success)
	assert.Empty(t, listAfter.Data["nodes"])
}

func TestDispatchCreateNodeMissingNodeIDIsValueError(t *testing.T) {
	t.Parallel()
	d, sink, _ := newTestDispatcher(t)

	received := make(chan event.Event, 1)
	sink.Subscribe(func(_ context.Context, ev event.Event) error {
		received <- ev
		return nil
	})

	resp := d.Dispatch(context.Background(), Command{Type: CreateNode, Params: map[string]any{"backend": "identity"}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "node_id")
	select {
	case <-received:
		t.Fatal("invalid-request failures must not publish an error event")
	default:
	}
}

func TestDispatchCreateNodeUnknownBackendFails(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: CreateNode, Params: map[string]any{
		"node_id": "n1", "backend": "not_a_backend",
	}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown backend")
}

func TestDispatchExecuteInputOnIdentityNodeEchoesText(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "echo", "backend": "identity",
	}}).Success)

	resp := d.Dispatch(ctx, Command{Type: ExecuteInput, Params: map[string]any{
		"node_id": "echo", "text": "hello",
	}})

	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Data["success"])
}

func TestDispatchForkNodeRejectsNonForkableNode(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Dispatch(ctx, Command{Type: CreateNode, Params: map[string]any{
		"node_id": "id1", "backend": "identity",
	}}).Success)

	resp := d.Dispatch(ctx, Command{Type: ForkNode, Params: map[string]any{
		"source_id": "id1", "target_id": "id2",
	}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "does not support fork")
}

func TestDispatchCreateAndDeleteSession(t *testing.T) {
	t.Parallel()
	d, _, reg := newTestDispatcher(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, Command{Type: CreateSession, Params: map[string]any{"session_id": "other"}})
	require.True(t, createResp.Success)

	listResp := d.Dispatch(ctx, Command{Type: ListSessions})
	require.True(t, listResp.Success)
	assert.ElementsMatch(t, []string{"default", "other"}, listResp.Data["sessions"])

	deleteResp := d.Dispatch(ctx, Command{Type: DeleteSession, Params: map[string]any{"session_id": "other"}})
	assert.True(t, deleteResp.Success)

	_, err := reg.GetSession("other")
	assert.Error(t, err)
}

func TestDispatchDeleteSessionRejectsDefault(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), Command{Type: DeleteSession, Params: map[string]any{"session_id": "default"}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "cannot delete the default session")
}

func TestDispatchExecuteInputUnknownNodeFailsAsResponse(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t)

	// execute_input against a node id that doesn't exist exercises the
	// ordinary error path, not a panic; this instead confirms Dispatch
	// never lets a missing-node lookup escape as anything but a Response.
	resp := d.Dispatch(context.Background(), Command{Type: ExecuteInput, Params: map[string]any{
		"node_id": "ghost", "text": "hi",
	}})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")
}
