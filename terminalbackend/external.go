package terminalbackend

import (
	"context"
	"sync"
	"time"
)

// Multiplexer is the external collaborator that owns actual panes (e.g. a
// tmux-like terminal multiplexer). Only this interface matters to the
// server, per spec.md §1 ("parser format details for specific CLIs... only
// the parser interface matters" applies symmetrically to the multiplexer
// wire protocol).
type Multiplexer interface {
	// SpawnPane creates a new pane running command and returns its opaque id.
	SpawnPane(ctx context.Context, command string, args []string, env []string) (paneID string, err error)
	// WriteToPane sends input to the pane identified by paneID.
	WriteToPane(ctx context.Context, paneID string, data []byte) error
	// CapturePane returns the full current contents of the pane.
	CapturePane(ctx context.Context, paneID string) (string, error)
	// InterruptPane sends the multiplexer's interrupt control sequence.
	InterruptPane(ctx context.Context, paneID string) error
	// KillPane destroys the pane.
	KillPane(ctx context.Context, paneID string) error
}

// ExternalBackend attaches to a pane of an external terminal multiplexer; it
// owns no controlling pty of its own. Panes may be created on demand
// (SpawnPane) or attached to a pre-existing id.
type ExternalBackend struct {
	mux    Multiplexer
	paneID string
	opts   Options

	mu    sync.Mutex
	ready bool
}

// NewExternalSpawn creates a new pane running command/args and attaches to it.
func NewExternalSpawn(ctx context.Context, mux Multiplexer, command string, args []string, env []string, opts Options) (*ExternalBackend, error) {
	paneID, err := mux.SpawnPane(ctx, command, args, env)
	if err != nil {
		return nil, err
	}
	return &ExternalBackend{mux: mux, paneID: paneID, opts: opts}, nil
}

// AttachExternal attaches to a pre-existing pane by id without spawning one.
func AttachExternal(mux Multiplexer, paneID string, opts Options) *ExternalBackend {
	return &ExternalBackend{mux: mux, paneID: paneID, opts: opts}
}

// PaneID returns the opaque pane identifier this backend is attached to.
func (e *ExternalBackend) PaneID() string { return e.paneID }

// WaitReady implements Backend: readiness requires at least one successful
// CapturePane call.
func (e *ExternalBackend) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(e.opts.readyTimeout())
	for {
		if _, err := e.mux.CapturePane(ctx, e.paneID); err == nil {
			e.mu.Lock()
			e.ready = true
			e.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Write implements Backend by sending input via the multiplexer's control channel.
func (e *ExternalBackend) Write(ctx context.Context, data []byte) error {
	return e.mux.WriteToPane(ctx, e.paneID, data)
}

// ReadAll implements Backend by querying the multiplexer for full pane contents.
func (e *ExternalBackend) ReadAll(ctx context.Context) (string, error) {
	return e.mux.CapturePane(ctx, e.paneID)
}

// ReadTail implements Backend. External panes expose only full capture; the
// tail is derived client-side by splitting on newlines.
func (e *ExternalBackend) ReadTail(ctx context.Context, n int) (string, error) {
	full, err := e.mux.CapturePane(ctx, e.paneID)
	if err != nil {
		return "", err
	}
	return tailLines(full, n), nil
}

func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	return joinLines(lines[len(lines)-n:])
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Signal implements Backend via the multiplexer's own interrupt control sequence.
func (e *ExternalBackend) Signal(ctx context.Context) error {
	return e.mux.InterruptPane(ctx, e.paneID)
}

// Stop implements Backend by destroying the pane.
func (e *ExternalBackend) Stop(ctx context.Context) error {
	return e.mux.KillPane(ctx, e.paneID)
}
