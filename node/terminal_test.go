package node

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/parser"
	"github.com/agentorch/agentserver/terminalbackend"
)

// stubMux is a no-op terminalbackend.Multiplexer used only so a real
// *terminalbackend.ExternalBackend can be constructed for node-level tests;
// the test swaps in fakeBackend for I/O, so stubMux's methods are never hit.
type stubMux struct{}

func (stubMux) SpawnPane(ctx context.Context, command string, args, env []string) (string, error) {
	return "pane1", nil
}
func (stubMux) WriteToPane(ctx context.Context, paneID string, data []byte) error { return nil }
func (stubMux) CapturePane(ctx context.Context, paneID string) (string, error)    { return "", nil }
func (stubMux) InterruptPane(ctx context.Context, paneID string) error            { return nil }
func (stubMux) KillPane(ctx context.Context, paneID string) error                 { return nil }

// fakeBackend is a minimal terminalbackend.Backend double for node-level tests.
type fakeBackend struct {
	mu      sync.Mutex
	written []string
	content string
	ready   bool
}

func (f *fakeBackend) WaitReady(ctx context.Context) error { f.ready = true; return nil }
func (f *fakeBackend) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(data))
	f.content += "echo: " + strings.TrimSpace(string(data)) + "\n$ "
	return nil
}
func (f *fakeBackend) ReadAll(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, nil
}
func (f *fakeBackend) ReadTail(ctx context.Context, n int) (string, error) { return f.ReadAll(ctx) }
func (f *fakeBackend) Signal(ctx context.Context) error                   { return nil }
func (f *fakeBackend) Stop(ctx context.Context) error                     { return nil }

func TestPTYNodeExecuteReturnsParsedSections(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{content: "$ "}
	n := NewPTY("pty1", nil, parser.PassThrough{})
	n.backend = backend // inject fake; NewPTY's real backend arg is unused here on purpose

	require.NoError(t, n.Start(context.Background()))

	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "ls"})
	require.True(t, res.Success)
	assert.Contains(t, res.Data["raw"], "echo: ls")
}

func TestExternalTerminalNodeForkUnsupported(t *testing.T) {
	t.Parallel()

	real := terminalbackend.AttachExternal(stubMux{}, "pane1", terminalbackend.Options{})
	n := NewExternalTerminal("ext1", real, parser.PassThrough{})
	n.backend = &fakeBackend{content: "$ "}

	_, err := n.Fork(context.Background(), "ext2")
	assert.Error(t, err)
}
