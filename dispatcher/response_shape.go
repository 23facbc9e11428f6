package dispatcher

import (
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/parser"
)

// parserByName resolves a parser selection from a command parameter,
// defaulting to PassThrough (spec.md §8 property 6 requires every parser be
// idempotent on raw; PassThrough and CLIAware both satisfy it).
func parserByName(name string) parser.Parser {
	switch name {
	case "", "pass_through":
		return parser.PassThrough{}
	default:
		return parser.NewCLIAware(name)
	}
}

func sectionsToMaps(secs []parser.Section) []map[string]any {
	out := make([]map[string]any, 0, len(secs))
	for _, s := range secs {
		out = append(out, map[string]any{
			"kind": string(s.Kind), "content": s.Content, "metadata": s.Metadata,
		})
	}
	return out
}

// parsedResponseData builds the uniform {raw, sections, is_ready, is_complete,
// tokens, parser} shape every execute_input response carries, regardless of
// node type (spec.md §8 end-to-end scenario 1). Terminal nodes already
// produce this shape directly in Result.Data; other node types surface a
// single primary text field that gets run through p.
func parsedResponseData(res node.Result, p parser.Parser) map[string]any {
	if _, ok := res.Data["sections"]; ok {
		if _, ok := res.Data["raw"]; ok {
			return res.Data
		}
	}
	text := primaryText(res.Data)
	parsed := p.Parse(text)
	return map[string]any{
		"raw": parsed.Raw, "sections": sectionsToMaps(parsed.Sections),
		"is_ready": parsed.IsReady, "is_complete": parsed.IsComplete,
		"tokens": parsed.Tokens, "parser": p.Name(),
	}
}

// primaryText picks the node-type-specific field execute_input should treat
// as the node's "output text" when building a ParsedResponse.
func primaryText(data map[string]any) string {
	for _, key := range []string{"output", "stdout", "text", "result"} {
		if s, ok := data[key].(string); ok {
			return s
		}
	}
	return ""
}
