package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentorch/agentserver/node"
)

func TestValidateToolArgsSkipsValidationWithoutSchema(t *testing.T) {
	t.Parallel()
	err := validateToolArgs(node.ToolDefinition{Name: "t"}, map[string]any{"anything": 1})
	assert.NoError(t, err)
}

func TestValidateToolArgsAcceptsMatchingSchema(t *testing.T) {
	t.Parallel()
	def := node.ToolDefinition{
		Name: "greet",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	}

	err := validateToolArgs(def, map[string]any{"name": "ada"})
	assert.NoError(t, err)
}

func TestValidateToolArgsRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()
	def := node.ToolDefinition{
		Name: "greet",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	}

	err := validateToolArgs(def, map[string]any{})
	assert.Error(t, err)
}

func TestToolDefByNameFindsExactMatch(t *testing.T) {
	t.Parallel()
	tc := fakeToolCapable{defs: []node.ToolDefinition{{Name: "a"}, {Name: "b"}}}

	def, ok := toolDefByName(tc, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", def.Name)

	_, ok = toolDefByName(tc, "missing")
	assert.False(t, ok)
}

// fakeToolCapable is a minimal node.ToolCapable stand-in for exercising
// toolDefByName without standing up a real MCP or terminal node.
type fakeToolCapable struct {
	node.Node
	defs []node.ToolDefinition
}

func (f fakeToolCapable) Tools() []node.ToolDefinition { return f.defs }
func (f fakeToolCapable) CallTool(_ context.Context, _ string, _ map[string]any) (string, error) {
	return "", nil
}
