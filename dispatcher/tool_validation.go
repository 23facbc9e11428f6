package dispatcher

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/toolerrors"
)

// validateToolArgs checks args against def's JSON schema before the call
// reaches the node, so a malformed tool call fails as InvalidRequest
// instead of surfacing as whatever error the node's own argument parsing
// happens to produce (spec.md §4.4, "Tool interface (uniform)").
func validateToolArgs(def node.ToolDefinition, args map[string]any) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	resource := "tool:" + def.Name
	if err := c.AddResource(resource, def.Parameters); err != nil {
		return toolerrors.Wrap(toolerrors.Internal, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return toolerrors.Wrap(toolerrors.Internal, err)
	}
	instance := map[string]any(args)
	if instance == nil {
		instance = map[string]any{}
	}
	if err := schema.Validate(instance); err != nil {
		return toolerrors.Wrap(toolerrors.InvalidRequest, err)
	}
	return nil
}

func toolDefByName(tc node.ToolCapable, name string) (node.ToolDefinition, bool) {
	for _, def := range tc.Tools() {
		if def.Name == name {
			return def, true
		}
	}
	return node.ToolDefinition{}, false
}
