package node

import (
	"context"

	"github.com/agentorch/agentserver/toolerrors"
)

// Callable wraps a host-language function a FunctionNode executes.
type Callable func(ctx context.Context, input any) (any, error)

// FunctionNode wraps a host-language callable (spec.md §3.1).
type FunctionNode struct {
	*base
	fn Callable
}

// NewFunction constructs a FunctionNode around fn.
func NewFunction(id string, fn Callable) *FunctionNode {
	n := &FunctionNode{base: newBase(id, "function", false), fn: fn}
	n.setState(StateReady)
	return n
}

// Start is a no-op.
func (n *FunctionNode) Start(context.Context) error { n.setState(StateReady); return nil }

// Stop is a no-op.
func (n *FunctionNode) Stop(context.Context) error { n.setState(StateStopped); return nil }

// Execute implements Node. Success keys: input, output.
func (n *FunctionNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "function node not ready", nil)
	}
	defer release(StateReady)

	ctx := ec.Context
	var cancel context.CancelFunc
	if ec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var out any
	var err error
	go func() {
		defer close(done)
		out, err = n.fn(ctx, ec.Input)
	}()

	n.setInterrupt(func() {})
	defer n.clearInterrupt()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
		return failure(string(toolerrors.Timeout), "function node timed out", map[string]any{"input": ec.Input})
	}

	if err != nil {
		return failure(string(toolerrors.Internal), err.Error(), map[string]any{"input": ec.Input})
	}
	return success(map[string]any{"input": ec.Input, "output": out})
}

// ExecuteStream emits a single chunk.
func (n *FunctionNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 1)
	go func() {
		res := n.Execute(ec)
		var data string
		if s, ok := res.Data["output"].(string); ok {
			data = s
		}
		ch <- Chunk{Data: data, Done: true, Final: &res}
		close(ch)
	}()
	return ch
}

// ToInfo implements Node.
func (n *FunctionNode) ToInfo() Info { return n.toInfo() }
