package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/node"
)

// shScript spawns a caller backed by /bin/sh reading one newline-delimited
// request and echoing a single fixed response line, enough to exercise the
// stdio protocol's framing without needing a real MCP server binary.
func shScript(t *testing.T, script string) *stdioMCPCaller {
	t.Helper()
	c, err := newStdioMCPCaller(context.Background(), "/bin/sh", []string{"-c", script}, nil)
	require.NoError(t, err)
	return c
}

func TestStdioMCPCallerCallToolRoundTrips(t *testing.T) {
	t.Parallel()
	c := shScript(t, `read _line; printf '%s\n' '{"result":{"ok":true}}'`)

	resp, err := c.CallTool(context.Background(), node.MCPCallRequest{Tool: "ping"})

	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, true, result["ok"])
}

func TestStdioMCPCallerCallToolSurfacesServerError(t *testing.T) {
	t.Parallel()
	c := shScript(t, `read _line; printf '%s\n' '{"result":null,"error":"boom"}'`)

	_, err := c.CallTool(context.Background(), node.MCPCallRequest{Tool: "ping"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStdioMCPCallerListToolsParsesToolDefinitions(t *testing.T) {
	t.Parallel()
	c := shScript(t, `read _line; printf '%s\n' '[{"name":"echo","description":"echoes input","input_schema":{"type":"object"}}]'`)

	defs, err := c.listTools(context.Background())

	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "echoes input", defs[0].Description)
}
