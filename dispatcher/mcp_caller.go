package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/agentorch/agentserver/node"
)

// stdioMCPCaller speaks a minimal newline-delimited JSON request/response
// protocol to a child process over stdin/stdout: one request line in, one
// response line out, matching node.MCPCallRequest/MCPCallResponse directly
// (spec.md §3.1, mcp_args/mcp_env create_node parameters). Grounded on
// terminalbackend.PTYBackend's child-process-plus-reader-goroutine shape,
// narrowed to a request/response protocol instead of a free-running stream.
type stdioMCPCaller struct {
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader

	mu sync.Mutex
}

type stdioRequest struct {
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type stdioResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

type stdioToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func newStdioMCPCaller(ctx context.Context, command string, args, env []string) (*stdioMCPCaller, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if env != nil {
		cmd.Env = env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &stdioMCPCaller{cmd: cmd, stdin: bufio.NewWriter(stdin), stdout: bufio.NewReader(stdout)}, nil
}

// CallTool implements node.MCPCaller.
func (c *stdioMCPCaller) CallTool(ctx context.Context, req node.MCPCallRequest) (node.MCPCallResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(stdioRequest{Tool: req.Tool, Payload: req.Payload})
	if err != nil {
		return node.MCPCallResponse{}, err
	}
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return node.MCPCallResponse{}, err
	}
	if err := c.stdin.Flush(); err != nil {
		return node.MCPCallResponse{}, err
	}

	respLine, err := c.stdout.ReadBytes('\n')
	if err != nil {
		return node.MCPCallResponse{}, err
	}
	var resp stdioResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return node.MCPCallResponse{}, err
	}
	if resp.Error != "" {
		return node.MCPCallResponse{}, fmt.Errorf("mcp: %s", resp.Error)
	}
	return node.MCPCallResponse{Result: resp.Result}, nil
}

// listTools queries the well-known "__list_tools__" pseudo-tool every
// stdio MCP server this caller talks to is expected to answer at startup.
func (c *stdioMCPCaller) listTools(ctx context.Context) ([]node.ToolDefinition, error) {
	resp, err := c.CallTool(ctx, node.MCPCallRequest{Tool: "__list_tools__"})
	if err != nil {
		return nil, err
	}
	var defs []stdioToolDef
	if err := json.Unmarshal(resp.Result, &defs); err != nil {
		return nil, err
	}
	out := make([]node.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, node.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.InputSchema})
	}
	return out, nil
}
