// Package terminalbackend drives the two terminal implementations a
// persistent terminal node can sit on: a pseudo-terminal backend owning a
// child process's controlling pty, and an external-terminal backend that
// attaches to a pane of an already-running multiplexer. Both share one
// interface so PTYNode, ExternalTerminalNode, and ClaudeTerminalNode can be
// built generically over Backend.
package terminalbackend

import (
	"context"
	"errors"
	"time"
)

// ErrNotReady is returned by WaitReady when no successful read arrives
// within ReadyTimeout, by PTYBackend.Write once the child has exited, and by
// PTYBackend.Signal when there is no child process.
var ErrNotReady = errors.New("terminal backend not ready")

// Backend is the shared interface for pty-owning and pane-attaching
// terminal drivers. create -> ready (within ReadyTimeout) -> writable ->
// stopped is the lifecycle (spec.md §4.2). Ready requires at least one
// successful read.
type Backend interface {
	// WaitReady blocks until the backend has produced at least one
	// successful read, or ctx is done, or ReadyTimeout elapses.
	WaitReady(ctx context.Context) error
	// Write sends input bytes to the backend's target (child stdin, or the
	// multiplexer's pane input channel).
	Write(ctx context.Context, data []byte) error
	// ReadAll returns the full known buffer contents. Non-destructive: it
	// may be called repeatedly without affecting future reads.
	ReadAll(ctx context.Context) (string, error)
	// ReadTail returns at most the last n lines of the buffer.
	ReadTail(ctx context.Context, n int) (string, error)
	// Signal sends an interrupt-equivalent signal (SIGINT for pty-owned
	// children; the multiplexer's own interrupt control sequence otherwise).
	Signal(ctx context.Context) error
	// Stop tears down the backend's resources. Safe to call more than once.
	Stop(ctx context.Context) error
}

// Options configures backend construction shared by both implementations.
type Options struct {
	// ReadyTimeout bounds how long WaitReady waits for the first successful
	// read before giving up.
	ReadyTimeout time.Duration
	// TailLines bounds the rolling buffer kept in memory; older output is
	// truncated. Zero uses DefaultTailLines.
	TailLines int
}

// DefaultTailLines is the configured constant N from spec.md §4.2 ("a
// rolling buffer of the last N lines").
const DefaultTailLines = 10000

func (o Options) tailLines() int {
	if o.TailLines > 0 {
		return o.TailLines
	}
	return DefaultTailLines
}

func (o Options) readyTimeout() time.Duration {
	if o.ReadyTimeout > 0 {
		return o.ReadyTimeout
	}
	return 10 * time.Second
}
