package grpcjson

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentorch/agentserver/dispatcher"
	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/sessionregistry"
	"github.com/agentorch/agentserver/workflow"
)

func newTestDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	sink := event.NewInProcSink()
	reg := sessionregistry.New()
	require.NoError(t, reg.AddSession(session.New("default", "srv", session.HistoryConfig{}, workflow.NewRuntime(sink), nil)))
	return dispatcher.New(dispatcher.Config{
		ServerName:   "srv",
		Registry:     reg,
		Proxies:      proxy.NewManager(20100, nil),
		ModelClients: modelclient.NewRegistry(nil),
		Sink:         sink,
	})
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	return conn
}

func TestDispatchRoundTripsOverBufconn(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)
	srv := NewGRPCServer(d)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	resp, err := Dispatch(context.Background(), conn, Command{Type: "ping", RequestID: "r1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.EqualValues(t, true, resp.Data["pong"])
}

func TestDispatchSurfacesFailureInResponse(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)
	srv := NewGRPCServer(d)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	resp, err := Dispatch(context.Background(), conn, Command{Type: "not_a_real_command"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}
