package dispatcher

import (
	"time"

	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/toolerrors"
)

// sessionFor resolves (session_id | default) through the registry, the one
// shared lookup every handler funnels through (spec.md §4.7, "A single
// helper resolves (session_id | default) via the registry").
func (d *Dispatcher) sessionFor(params map[string]any) (*session.Session, error) {
	id, _ := params["session_id"].(string)
	return d.registry.GetSession(id)
}

// requireString extracts a required named string parameter (spec.md §4.7,
// "requires named parameters").
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", toolerrors.Newf(toolerrors.InvalidRequest, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", toolerrors.Newf(toolerrors.InvalidRequest, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func optInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func optDuration(params map[string]any, key string) time.Duration {
	switch v := params[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

func optStringSlice(params map[string]any, key string) []string {
	raw, ok := params[key].([]string)
	if ok {
		return raw
	}
	anySlice, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anySlice))
	for _, v := range anySlice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optMap(params map[string]any, key string) map[string]any {
	if m, ok := params[key].(map[string]any); ok {
		return m
	}
	return nil
}

// nodeFor resolves a node by id within sess, failing with invalid-request
// if it does not exist (spec.md §4.7, "resolves node/graph by id with a
// capability check").
func nodeFor(sess *session.Session, id string) (node.Node, error) {
	n, ok := sess.GetNode(id)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "node %q not found", id)
	}
	return n, nil
}

// terminalFor resolves id as a node and requires it carry a writable
// terminal backend (spec.md §4.7, "e.g. 'is a terminal'").
func terminalFor(sess *session.Session, id string) (node.RawTerminal, error) {
	n, err := nodeFor(sess, id)
	if err != nil {
		return nil, err
	}
	term, ok := n.(node.RawTerminal)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "node %q is not a terminal", id)
	}
	return term, nil
}
