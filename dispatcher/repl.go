package dispatcher

import (
	"context"

	"github.com/agentorch/agentserver/graph"
	"github.com/agentorch/agentserver/toolerrors"
)

func stepToMap(s *graph.Step) map[string]any {
	target := s.NodeID
	if s.Node != nil {
		target = s.Node.ID()
	}
	if s.Subgraph != nil {
		target = "subgraph:" + s.Subgraph.ID
	}
	return map[string]any{
		"id":           s.ID,
		"node":         target,
		"depends_on":   s.DependsOn,
		"error_policy": string(s.ErrPolicy),
	}
}

// handleShowGraph renders a stored graph's step structure without running
// it (spec.md §4.7, "REPL meta-commands: show ... graph").
func handleShowGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	graphID, err := requireString(params, "graph_id")
	if err != nil {
		return nil, err
	}
	g, ok := sess.GetGraph(graphID)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "graph %q not found", graphID)
	}
	steps := make([]map[string]any, 0, len(g.Steps))
	for _, s := range g.Steps {
		steps = append(steps, stepToMap(s))
	}
	return map[string]any{"graph_id": g.ID, "max_parallel": g.MaxParallel, "steps": steps}, nil
}

// topoOrder computes a valid execution order honoring DependsOn, without
// running any step; used by dry_run_graph to answer "what would run, and
// in what order" without side effects.
func topoOrder(g *graph.Graph) []string {
	indegree := make(map[string]int, len(g.Steps))
	dependents := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		indegree[s.ID] = len(s.DependsOn)
	}
	for _, s := range g.Steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	var queue []string
	for _, s := range g.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	order := make([]string, 0, len(g.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return order
}

// handleDryRunGraph reports the execution order a graph would follow
// without executing any step.
func handleDryRunGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	var g *graph.Graph
	if graphID := optString(params, "graph_id", ""); graphID != "" {
		var ok bool
		g, ok = sess.GetGraph(graphID)
		if !ok {
			return nil, toolerrors.Newf(toolerrors.InvalidRequest, "graph %q not found", graphID)
		}
	} else {
		rawSteps, _ := params["steps"].([]any)
		steps, err := buildSteps(rawSteps)
		if err != nil {
			return nil, err
		}
		g, err = graph.New("dry-run", steps, optInt(params, "max_parallel", 0))
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.InvalidRequest, err)
		}
	}
	return map[string]any{"order": topoOrder(g)}, nil
}

// handleValidateGraph reports whether a candidate step set forms a valid
// graph (unique ids, resolvable dependencies, no cycle, exactly one of
// node/node_id/subgraph per step) without constructing one that persists.
func handleValidateGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	rawSteps, _ := params["steps"].([]any)
	steps, err := buildSteps(rawSteps)
	if err != nil {
		return map[string]any{"valid": false, "error": err.Error()}, nil
	}
	if _, err := graph.New("validate", steps, optInt(params, "max_parallel", 0)); err != nil {
		return map[string]any{"valid": false, "error": err.Error()}, nil
	}
	return map[string]any{"valid": true}, nil
}

// handleListEntities enumerates every node, graph, and workflow id in the
// resolved session, the REPL's "what exists right now" command.
func handleListEntities(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeIDs := make([]string, 0)
	for _, info := range sess.ListNodes() {
		nodeIDs = append(nodeIDs, info.ID)
	}
	return map[string]any{
		"nodes":     nodeIDs,
		"graphs":    sess.ListGraphs(),
		"workflows": sess.ListWorkflows(),
	}, nil
}
