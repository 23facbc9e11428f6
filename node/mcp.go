package node

import (
	"context"
	"encoding/json"

	"github.com/agentorch/agentserver/toolerrors"
)

// MCPCallRequest describes a single tool invocation sent to an MCP server.
type MCPCallRequest struct {
	Tool    string
	Payload json.RawMessage
}

// MCPCallResponse carries an MCP tool result.
type MCPCallResponse struct {
	Result json.RawMessage
}

// MCPCaller invokes tools on a Model Context Protocol server over whatever
// transport (stdio, HTTP/SSE) the concrete implementation speaks.
type MCPCaller interface {
	CallTool(ctx context.Context, req MCPCallRequest) (MCPCallResponse, error)
}

// MCPNode is persistent and exposes every tool of a connected MCP server as
// a ToolDefinition (spec.md §3.1).
type MCPNode struct {
	*base
	caller MCPCaller
	tools  []ToolDefinition
}

// NewMCP constructs an MCPNode. tools is the static catalogue advertised by
// the server at connection time.
func NewMCP(id string, caller MCPCaller, tools []ToolDefinition) *MCPNode {
	for i := range tools {
		tools[i].NodeID = id
	}
	return &MCPNode{base: newBase(id, "mcp", true), caller: caller, tools: tools}
}

// Start marks the node ready; the caller is assumed already connected.
func (n *MCPNode) Start(context.Context) error {
	n.setState(StateReady)
	return nil
}

// Stop transitions state; transport teardown is the caller's concern.
func (n *MCPNode) Stop(context.Context) error {
	n.setState(StateStopped)
	return nil
}

// Tools implements ToolCapable.
func (n *MCPNode) Tools() []ToolDefinition { return n.tools }

// CallTool implements ToolCapable.
func (n *MCPNode) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", toolerrors.Wrap(toolerrors.InvalidRequest, err)
	}
	resp, err := n.caller.CallTool(ctx, MCPCallRequest{Tool: name, Payload: payload})
	if err != nil {
		return "", toolerrors.Wrap(toolerrors.API, err)
	}
	return string(resp.Result), nil
}

// Execute implements Node by treating ec.Input as {"tool": "...", "args": {...}}.
func (n *MCPNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "mcp node not ready", nil)
	}
	defer release(StateReady)

	req, ok := ec.Input.(map[string]any)
	if !ok {
		return failure(string(toolerrors.InvalidRequest), "mcp node input must be {tool, args}", nil)
	}
	name, _ := req["tool"].(string)
	args, _ := req["args"].(map[string]any)

	out, err := n.CallTool(ec.Context, name, args)
	if err != nil {
		return failure(string(toolerrors.KindOf(err)), err.Error(), map[string]any{"attributes": map[string]any{"tool": name, "args": args}})
	}
	return success(map[string]any{"output": out, "attributes": map[string]any{"tool": name, "args": args}})
}

// ExecuteStream emits a single chunk.
func (n *MCPNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
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
func (n *MCPNode) ToInfo() Info { return n.toInfo() }
