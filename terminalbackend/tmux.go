package terminalbackend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// TmuxMultiplexer implements Multiplexer over a local tmux installation:
// each pane is its own detached tmux session, addressed by a generated
// session name. Grounded on the command shapes in
// other_examples/0d0ddb35_ccoles146-termbrowser__terminal-terminal.go
// (`tmux new-session -A -s <name> -- <cmd>`, capture-pane, send-keys),
// adapted from that file's SSH/Proxmox-routed session naming to a single
// local `tmux` binary invoked directly. No pack library wraps tmux, so
// this shells out via os/exec, the stdlib's process-invocation type; no
// third-party alternative exists for scripting an external tmux binary.
type TmuxMultiplexer struct {
	bin string
}

// NewTmuxMultiplexer constructs a TmuxMultiplexer invoking the tmux binary
// found on PATH.
func NewTmuxMultiplexer() *TmuxMultiplexer {
	return &TmuxMultiplexer{bin: "tmux"}
}

func (m *TmuxMultiplexer) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.bin, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

// SpawnPane starts command in a new detached tmux session and returns the
// session name as the pane id.
func (m *TmuxMultiplexer) SpawnPane(ctx context.Context, command string, args []string, env []string) (string, error) {
	name := "agentserver-" + uuid.NewString()
	tmuxArgs := []string{"new-session", "-d", "-s", name}
	for _, kv := range env {
		tmuxArgs = append(tmuxArgs, "-e", kv)
	}
	tmuxArgs = append(tmuxArgs, "--", command)
	tmuxArgs = append(tmuxArgs, args...)
	if _, err := m.run(ctx, tmuxArgs...); err != nil {
		return "", err
	}
	return name, nil
}

// WriteToPane sends data to the session's pane as literal keystrokes.
func (m *TmuxMultiplexer) WriteToPane(ctx context.Context, paneID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := m.run(ctx, "send-keys", "-t", paneID, "-l", string(data))
	return err
}

// CapturePane returns the full scrollback of the session's pane.
func (m *TmuxMultiplexer) CapturePane(ctx context.Context, paneID string) (string, error) {
	return m.run(ctx, "capture-pane", "-p", "-t", paneID, "-S", "-")
}

// InterruptPane sends Ctrl-C to the session's pane.
func (m *TmuxMultiplexer) InterruptPane(ctx context.Context, paneID string) error {
	_, err := m.run(ctx, "send-keys", "-t", paneID, "C-c")
	return err
}

// KillPane destroys the tmux session backing paneID.
func (m *TmuxMultiplexer) KillPane(ctx context.Context, paneID string) error {
	_, err := m.run(ctx, "kill-session", "-t", paneID)
	return err
}
