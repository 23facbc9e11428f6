package node

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"syscall"

	"github.com/agentorch/agentserver/toolerrors"
)

// BashNode is ephemeral: it runs a shell command in a fresh child process
// per call (spec.md §3.1).
type BashNode struct {
	*base
	shell string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewBash constructs a BashNode. shell defaults to "/bin/sh" when empty.
func NewBash(id, shell string) *BashNode {
	if shell == "" {
		shell = "/bin/sh"
	}
	n := &BashNode{base: newBase(id, "bash", false), shell: shell}
	n.setState(StateReady)
	return n
}

// Start is a no-op for ephemeral nodes.
func (n *BashNode) Start(context.Context) error {
	n.setState(StateReady)
	return nil
}

// Stop is a resource release for ephemeral nodes; nothing persists across calls.
func (n *BashNode) Stop(context.Context) error {
	n.setState(StateStopped)
	return nil
}

// Execute implements Node. Success keys: stdout, stderr, exit_code, command, interrupted.
func (n *BashNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "bash node not ready", nil)
	}
	defer release(StateReady)

	command, _ := ec.Input.(string)

	ctx := ec.Context
	var cancel context.CancelFunc
	if ec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, n.shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// New process group so Interrupt can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	n.mu.Lock()
	n.current = cmd
	n.mu.Unlock()

	interrupted := false
	n.setInterrupt(func() {
		n.mu.Lock()
		c := n.current
		n.mu.Unlock()
		if c != nil && c.Process != nil {
			interrupted = true
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGINT)
		}
	})
	defer n.clearInterrupt()

	err := cmd.Run()

	n.mu.Lock()
	n.current = nil
	n.mu.Unlock()

	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failure(string(toolerrors.Timeout), "bash command timed out", map[string]any{
				"stdout": stdout.String(), "stderr": stderr.String(), "command": command,
			})
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		return failure(string(toolerrors.Process), err.Error(), map[string]any{
			"stdout": stdout.String(), "stderr": stderr.String(),
			"exit_code": exitCode, "command": command, "interrupted": interrupted,
		})
	}

	return success(map[string]any{
		"stdout": stdout.String(), "stderr": stderr.String(),
		"exit_code": 0, "command": command, "interrupted": interrupted,
	})
}

// ExecuteStream emits a single chunk equal to the final output: bash has no
// natural streaming granularity.
func (n *BashNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 1)
	go func() {
		res := n.Execute(ec)
		data, _ := res.Data["stdout"].(string)
		ch <- Chunk{Data: data, Done: true, Final: &res}
		close(ch)
	}()
	return ch
}

// ToInfo implements Node.
func (n *BashNode) ToInfo() Info { return n.toInfo() }
