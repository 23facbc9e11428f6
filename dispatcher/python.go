package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/toolerrors"
)

// pythonExec is one session's persistent python3 REPL process: the
// per-session namespace the Python-execution command runs caller-supplied
// code in (spec.md §7, "explicitly not sandboxed; callers are trusted").
// Grounded on terminalbackend.PTYBackend's child-process-plus-ring-buffer
// shape, reused here instead of a fresh subprocess per call so that
// variables defined in one execute_python call are visible to the next.
type pythonExec struct {
	backend *terminalbackend.PTYBackend

	mu   sync.Mutex
	read int
}

func newPythonExec() (*pythonExec, error) {
	b, err := terminalbackend.NewPTY("python3", []string{"-i", "-q"}, nil, terminalbackend.Options{})
	if err != nil {
		return nil, err
	}
	if err := b.WaitReady(context.Background()); err != nil {
		return nil, err
	}
	return &pythonExec{backend: b}, nil
}

// run writes code to the REPL followed by a print of a unique sentinel,
// then blocks until that sentinel echoes back on stdout, returning
// everything printed since the previous call.
func (p *pythonExec) run(ctx context.Context, code string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sentinel := "__py_done_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
	script := code + "\nprint(" + fmt.Sprintf("%q", sentinel) + ")\n"
	if err := p.backend.Write(ctx, []byte(script)); err != nil {
		return "", toolerrors.Wrap(toolerrors.Process, err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		all, err := p.backend.ReadAll(ctx)
		if err != nil {
			return "", toolerrors.Wrap(toolerrors.Process, err)
		}
		// The pty echoes the print statement itself; the printed sentinel is
		// the occurrence that starts a line.
		if idx := strings.Index(all[p.read:], "\n"+sentinel); idx >= 0 {
			out := all[p.read : p.read+idx]
			p.read = len(all)
			return strings.TrimRight(out, "\n"), nil
		}
		if time.Now().After(deadline) {
			return "", toolerrors.New(toolerrors.Timeout, "python execution timed out")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (p *pythonExec) stop(ctx context.Context) error {
	return p.backend.Stop(ctx)
}

// pythonExecutors tracks one pythonExec per session, started lazily on
// first use and torn down alongside session deletion.
type pythonExecutors struct {
	mu    sync.Mutex
	byKey map[string]*pythonExec
}

func newPythonExecutors() *pythonExecutors {
	return &pythonExecutors{byKey: make(map[string]*pythonExec)}
}

func (p *pythonExecutors) get(sessionID string) (*pythonExec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ex, ok := p.byKey[sessionID]; ok {
		return ex, nil
	}
	ex, err := newPythonExec()
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.Process, err)
	}
	p.byKey[sessionID] = ex
	return ex, nil
}

// release stops and forgets sessionID's interpreter, if one was started.
func (p *pythonExecutors) release(ctx context.Context, sessionID string) {
	p.mu.Lock()
	ex, ok := p.byKey[sessionID]
	delete(p.byKey, sessionID)
	p.mu.Unlock()
	if ok {
		_ = ex.stop(ctx)
	}
}

func handleExecutePython(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	code, err := requireString(params, "code")
	if err != nil {
		return nil, err
	}
	ex, err := d.python.get(sess.ID())
	if err != nil {
		return nil, err
	}
	out, err := ex.run(ctx, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"output": out}, nil
}
