package lines

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/dispatcher"
	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/sessionregistry"
	"github.com/agentorch/agentserver/workflow"
)

func newTestDispatcher(t *testing.T) (*dispatcher.Dispatcher, *event.InProcSink) {
	t.Helper()
	sink := event.NewInProcSink()
	reg := sessionregistry.New()
	require.NoError(t, reg.AddSession(session.New("default", "srv", session.HistoryConfig{}, workflow.NewRuntime(sink), nil)))
	d := dispatcher.New(dispatcher.Config{
		ServerName:   "srv",
		Registry:     reg,
		Proxies:      proxy.NewManager(20000, nil),
		ModelClients: modelclient.NewRegistry(nil),
		Sink:         sink,
	})
	return d, sink
}

func TestServerRoundTripsPing(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(d, sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(wireCommand{Type: "ping", RequestID: "r1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp wireResponse
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.EqualValues(t, true, resp.Data["pong"])
}

func TestServerStreamsEvents(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(d, sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// give the connection goroutine time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sink.Send(ctx, event.New(event.TypeServerStopped, "", "", "", nil)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var ev event.Event
	require.NoError(t, json.Unmarshal(line, &ev))
	assert.Equal(t, event.TypeServerStopped, ev.Type)
}
