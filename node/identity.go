package node

import "context"

// IdentityNode echoes its input; a test fixture (spec.md §3.1).
type IdentityNode struct {
	*base
}

// NewIdentity constructs an IdentityNode.
func NewIdentity(id string) *IdentityNode {
	n := &IdentityNode{base: newBase(id, "identity", false)}
	n.setState(StateReady)
	return n
}

// Start is a no-op.
func (n *IdentityNode) Start(context.Context) error { n.setState(StateReady); return nil }

// Stop is a no-op.
func (n *IdentityNode) Stop(context.Context) error { n.setState(StateStopped); return nil }

// Execute implements Node. Success keys: output, input.
func (n *IdentityNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure("node_stopped", "identity node not ready", nil)
	}
	defer release(StateReady)

	input, _ := ec.Input.(string)
	return success(map[string]any{"output": input, "input": input})
}

// ExecuteStream emits a single chunk.
func (n *IdentityNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 1)
	go func() {
		res := n.Execute(ec)
		out, _ := res.Data["output"].(string)
		ch <- Chunk{Data: out, Done: true, Final: &res}
		close(ch)
	}()
	return ch
}

// ToInfo implements Node.
func (n *IdentityNode) ToInfo() Info { return n.toInfo() }
