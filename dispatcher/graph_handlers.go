package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/graph"
	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/toolerrors"
)

// buildSteps turns the wire-level "steps" parameter into graph.Steps. Each
// entry is a map; "node" (a live node.Node, programmatic callers only) or
// "node_id" (resolved against the session at run time) select exactly one
// target, mirroring graph.New's own validation (spec.md §3.1).
func buildSteps(raw []any) ([]*graph.Step, error) {
	steps := make([]*graph.Step, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "each step must be an object")
		}
		id, _ := m["id"].(string)
		if id == "" {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "step missing id")
		}
		s := &graph.Step{ID: id, DependsOn: optStringSlice(m, "depends_on"), Input: m["input"], Parser: optString(m, "parser", "")}
		if n, ok := m["node"].(node.Node); ok {
			s.Node = n
		} else {
			s.NodeID, _ = m["node_id"].(string)
		}
		if fn, ok := m["input_fn"].(func(map[string]node.Result) any); ok {
			s.InputFn = fn
		}
		if policy, ok := m["error_policy"].(string); ok && policy != "" {
			s.ErrPolicy = graph.ErrorPolicy(policy)
		}
		if retry, ok := m["retry"].(map[string]any); ok {
			s.Retry = &graph.RetryPolicy{
				MaxAttempts: optInt(retry, "max_attempts", 1),
				Fallback:    graph.ErrorPolicy(optString(retry, "fallback", "")),
			}
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// graphExecFunc wires graph.ExecFunc to actual node execution, resolving
// NodeID references against sess (spec.md §4.1, §4.5).
func graphExecFunc(sess *session.Session, hist historywriter.Writer, sink event.Sink) graph.ExecFunc {
	var exec graph.ExecFunc
	exec = func(ctx context.Context, s *graph.Step, input any, resolver graph.Resolver) node.Result {
		if s.Subgraph != nil {
			events := make(chan graph.StepEvent, 16)
			go func() {
				for range events {
				}
			}()
			status := s.Subgraph.Run(ctx, resolver, exec, events)
			close(events)
			allOK := true
			for _, st := range status {
				if st != graph.StatusSuccess {
					allOK = false
				}
			}
			statuses := make(map[string]any, len(status))
			for id, st := range status {
				statuses[id] = string(st)
			}
			if !allOK {
				return node.Result{Success: false, Error: "subgraph had failing steps", ErrorType: string(toolerrors.Internal), Data: map[string]any{"step_statuses": statuses}}
			}
			return node.Result{Success: true, Data: map[string]any{"step_statuses": statuses}}
		}

		var n node.Node
		if s.Node != nil {
			n = s.Node
		} else {
			var ok bool
			n, ok = resolver.ResolveNode(s.NodeID)
			if !ok {
				return node.Result{Success: false, Error: "unknown node id " + s.NodeID, ErrorType: string(toolerrors.InvalidRequest), Data: map[string]any{}}
			}
		}
		ec := node.ExecutionContext{Context: ctx, Session: sess, Input: input, Parser: parserByName(s.Parser), History: hist, Sink: sink}
		return n.Execute(ec)
	}
	return exec
}

// runGraph executes g, tracked under trackID so a concurrent cancel_graph
// can interrupt it, and returns per-step results (spec.md §8 properties
// 3, end-to-end scenario 3; "boundary behaviors": fail_fast abort).
func runGraph(ctx context.Context, d *Dispatcher, sess *session.Session, g *graph.Graph, trackID string) (map[string]any, error) {
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.graphCancels[trackID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.graphCancels, trackID)
		d.mu.Unlock()
		cancel()
	}()

	hist := historyFor(sess, true)
	events := make(chan graph.StepEvent, 32)
	results := make(map[string]any, len(g.Steps))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			d.publishGraphEvent(runCtx, sess, g.ID, ev)
			switch ev.Type {
			case graph.StepEventComplete:
				results[ev.StepID] = resultToMap(ev.Result)
			case graph.StepEventFailed:
				results[ev.StepID] = resultToMap(ev.Result)
			case graph.StepEventSkipped:
				results[ev.StepID] = map[string]any{"status": "skipped"}
			}
		}
	}()

	status := g.Run(runCtx, sess, graphExecFunc(sess, hist, d.sink), events)
	close(events)
	<-done

	if runCtx.Err() != nil && ctx.Err() == nil {
		return nil, toolerrors.New(toolerrors.Interrupted, "graph execution cancelled")
	}

	statusOut := make(map[string]any, len(status))
	for id, st := range status {
		statusOut[id] = string(st)
	}
	return map[string]any{"step_results": results, "step_status": statusOut}, nil
}

func resultToMap(res node.Result) map[string]any {
	out := map[string]any{"success": res.Success}
	for k, v := range res.Data {
		out[k] = v
	}
	if !res.Success {
		out["error"] = res.Error
		out["error_type"] = res.ErrorType
	}
	return out
}

func (d *Dispatcher) publishGraphEvent(ctx context.Context, sess *session.Session, graphID string, ev graph.StepEvent) {
	var typ event.Type
	switch ev.Type {
	case graph.StepEventStart:
		typ = event.TypeStepStart
	case graph.StepEventComplete:
		typ = event.TypeStepComplete
	case graph.StepEventFailed:
		typ = event.TypeStepError
	case graph.StepEventSkipped:
		typ = event.TypeStepError
	default:
		return
	}
	_ = d.sink.Send(ctx, event.New(typ, "", graphID, sess.ID(), map[string]any{"step_id": ev.StepID}))
}

func handleCreateGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	graphID, err := requireString(params, "graph_id")
	if err != nil {
		return nil, err
	}
	rawSteps, _ := params["steps"].([]any)
	steps, err := buildSteps(rawSteps)
	if err != nil {
		return nil, err
	}
	g, err := graph.New(graphID, steps, optInt(params, "max_parallel", 0))
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.InvalidRequest, err)
	}
	if err := sess.AddGraph(g); err != nil {
		return nil, err
	}
	return map[string]any{"graph_id": graphID}, nil
}

func handleDeleteGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	graphID, err := requireString(params, "graph_id")
	if err != nil {
		return nil, err
	}
	if err := sess.RemoveGraph(graphID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func handleExecuteGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	graphID := optString(params, "graph_id", "")
	if graphID == "" {
		graphID = "adhoc-" + uniqueSuffix()
	}
	rawSteps, _ := params["steps"].([]any)
	steps, err := buildSteps(rawSteps)
	if err != nil {
		return nil, err
	}
	g, err := graph.New(graphID, steps, optInt(params, "max_parallel", 0))
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.InvalidRequest, err)
	}
	return runGraph(ctx, d, sess, g, graphID)
}

func uniqueSuffix() string { return uuid.NewString() }

func handleRunGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
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
	return runGraph(ctx, d, sess, g, graphID)
}

func handleCancelGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	graphID, err := requireString(params, "graph_id")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	cancel, ok := d.graphCancels[graphID]
	d.mu.Unlock()
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "graph %q is not running", graphID)
	}
	cancel()
	return map[string]any{"cancelled": true}, nil
}

func handleListGraphs(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{"graphs": sess.ListGraphs()}, nil
}

func handleGetGraph(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
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
	stepIDs := make([]string, 0, len(g.Steps))
	for _, s := range g.Steps {
		stepIDs = append(stepIDs, s.ID)
	}
	return map[string]any{"graph_id": g.ID, "steps": stepIDs, "max_parallel": g.MaxParallel}, nil
}
