package terminalbackend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ringBuffer keeps the tail of a growing output stream without retaining the
// whole history, per spec.md §4.2 ("buffer is truncated to the tail size").
type ringBuffer struct {
	mu        sync.Mutex
	lines     []string
	partial   string
	tailLines int
}

func newRingBuffer(tailLines int) *ringBuffer {
	return &ringBuffer{tailLines: tailLines}
}

func (b *ringBuffer) append(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial += chunk
	for {
		idx := strings.IndexByte(b.partial, '\n')
		if idx == -1 {
			break
		}
		b.lines = append(b.lines, b.partial[:idx])
		b.partial = b.partial[idx+1:]
		if len(b.lines) > b.tailLines {
			b.lines = b.lines[len(b.lines)-b.tailLines:]
		}
	}
}

func (b *ringBuffer) all() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n") + b.partial
}

func (b *ringBuffer) tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.lines) {
		return strings.Join(b.lines, "\n") + b.partial
	}
	return strings.Join(b.lines[len(b.lines)-n:], "\n") + b.partial
}

// PTYBackend owns a child process under a controlling pty. Grounded on the
// reader-goroutine + cmd.Wait() cleanup pattern used by terminal-multiplexer
// managers in the example pack.
type PTYBackend struct {
	cmd  *exec.Cmd
	ptmx *os.File
	buf  *ringBuffer
	opts Options

	readyOnce sync.Once
	readyCh   chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPTY spawns command/args under a pty and begins the background reader.
// The child's environment is env (nil means inherit os.Environ()).
func NewPTY(command string, args []string, env []string, opts Options) (*PTYBackend, error) {
	cmd := exec.Command(command, args...)
	if env != nil {
		cmd.Env = env
	}
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting pty: %w", err)
	}

	b := &PTYBackend{
		cmd:     cmd,
		ptmx:    ptmx,
		buf:     newRingBuffer(opts.tailLines()),
		opts:    opts,
		readyCh: make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go b.readLoop()
	go b.waitLoop()

	return b, nil
}

func (b *PTYBackend) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			b.buf.append(string(buf[:n]))
			b.readyOnce.Do(func() { close(b.readyCh) })
		}
		if err != nil {
			return
		}
	}
}

func (b *PTYBackend) waitLoop() {
	_ = b.cmd.Wait()
	b.ptmx.Close()
	b.stopOnce.Do(func() { close(b.stopped) })
}

// WaitReady implements Backend.
func (b *PTYBackend) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(b.opts.readyTimeout())
	defer timer.Stop()
	select {
	case <-b.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrNotReady
	}
}

// Write implements Backend.
func (b *PTYBackend) Write(_ context.Context, data []byte) error {
	select {
	case <-b.stopped:
		return ErrNotReady
	default:
	}
	_, err := b.ptmx.Write(data)
	return err
}

// ReadAll implements Backend.
func (b *PTYBackend) ReadAll(context.Context) (string, error) {
	return b.buf.all(), nil
}

// ReadTail implements Backend.
func (b *PTYBackend) ReadTail(_ context.Context, n int) (string, error) {
	return b.buf.tail(n), nil
}

// Signal implements Backend by sending SIGINT to the child process.
func (b *PTYBackend) Signal(context.Context) error {
	if b.cmd.Process == nil {
		return ErrNotReady
	}
	return b.cmd.Process.Signal(syscall.SIGINT)
}

// Stop implements Backend. Safe to call more than once.
func (b *PTYBackend) Stop(context.Context) error {
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Signal(syscall.SIGTERM)
	}
	<-b.stopped
	return nil
}
