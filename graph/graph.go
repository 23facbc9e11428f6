// Package graph implements the DAG execution engine (spec.md §3.1/§4.1):
// steps reference nodes (directly or by node id), declare dependencies, and
// run under a bounded concurrency scheduler with per-step error policies.
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/toolerrors"
)

// ErrorPolicy governs what the scheduler does when a step fails.
type ErrorPolicy string

const (
	// PolicyFailFast stops the whole run as soon as a step fails.
	PolicyFailFast ErrorPolicy = "fail_fast"
	// PolicyContinue lets independent branches keep running after a failure.
	PolicyContinue ErrorPolicy = "continue"
	// PolicySkipDownstream marks every transitive dependent of a failed step
	// as skipped instead of running it.
	PolicySkipDownstream ErrorPolicy = "skip_downstream"
)

// RetryPolicy runs a failed step up to MaxAttempts times in total (the first
// attempt included) before applying its fallback ErrorPolicy.
type RetryPolicy struct {
	MaxAttempts int
	Fallback    ErrorPolicy
}

// StepStatus is a step's terminal or in-flight execution status.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
	// StatusCancelled marks a step that never ran because a fail_fast
	// failure aborted the run before its turn (spec.md §7: succeeded,
	// failed, were cancelled, or were skipped are four distinct outcomes).
	// StatusSkipped is reserved for skip_downstream's dependents.
	StatusCancelled StepStatus = "cancelled"
)

// Step is one unit of graph execution: either a concrete Node, a reference
// to a node id resolved at run time, or a nested Graph. Exactly one of
// Node, NodeID, or Subgraph must be set (spec.md §9, both-set validation).
type Step struct {
	ID       string
	Node     node.Node
	NodeID   string
	Subgraph *Graph
	DependsOn []string
	Retry     *RetryPolicy
	ErrPolicy ErrorPolicy
	Input     any
	// InputFn, when set, computes the step's input from a map of
	// dependency step-id to that dependency's Result, overriding Input
	// (spec.md §4.5, "if input_fn is provided, call it with a map from
	// dependency step-id to dependency result").
	InputFn func(deps map[string]node.Result) any
	// Parser overrides the default parser used by this step's node, when
	// the node is terminal-backed.
	Parser string
}

// Graph is a validated, immutable set of steps plus a concurrency bound.
type Graph struct {
	ID          string
	Steps       []*Step
	MaxParallel int

	byID map[string]*Step
}

// New validates steps and returns a ready-to-run Graph. maxParallel <= 0
// defaults to 1 (serial execution), per spec.md §4.5 point 2.
func New(id string, steps []*Step, maxParallel int) (*Graph, error) {
	byID := make(map[string]*Step, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("graph: step missing id")
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("graph: duplicate step id %q", s.ID)
		}
		set := 0
		if s.Node != nil {
			set++
		}
		if s.NodeID != "" {
			set++
		}
		if s.Subgraph != nil {
			set++
		}
		if set != 1 {
			return nil, fmt.Errorf("graph: step %q must set exactly one of Node, NodeID, Subgraph", s.ID)
		}
		if s.ErrPolicy == "" {
			s.ErrPolicy = PolicyFailFast
		}
		byID[s.ID] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("graph: step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	g := &Graph{ID: id, Steps: steps, MaxParallel: maxParallel, byID: byID}
	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle runs a Kahn's-algorithm pass and fails if any step remains
// unvisited, meaning the dependency graph is not a DAG.
func (g *Graph) detectCycle() error {
	indegree := make(map[string]int, len(g.Steps))
	for _, s := range g.Steps {
		indegree[s.ID] = len(s.DependsOn)
	}
	dependents := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	queue := make([]string, 0, len(g.Steps))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited != len(g.Steps) {
		return fmt.Errorf("graph: dependency cycle detected")
	}
	return nil
}

// StepEventType classifies a StepEvent.
type StepEventType string

const (
	StepEventStart    StepEventType = "step_start"
	StepEventComplete StepEventType = "step_complete"
	StepEventFailed   StepEventType = "step_error"
	StepEventSkipped  StepEventType = "step_skipped"
)

// StepEvent is emitted as the scheduler progresses; callers typically pipe
// these into the event.Sink.
type StepEvent struct {
	Type   StepEventType
	StepID string
	Result node.Result
	Err    error
}

// Resolver looks up a Node by id for steps that reference one indirectly.
type Resolver interface {
	ResolveNode(id string) (node.Node, bool)
}

// ExecFunc runs a single step's underlying node/subgraph given its resolved
// input; it is the scheduler's only dependency on how a step actually runs,
// letting workflow/session wire node execution without an import cycle.
// input is the step's static Input unless InputFn computed a dynamic one.
type ExecFunc func(ctx context.Context, s *Step, input any, resolver Resolver) node.Result

// Run executes the graph to completion, honoring MaxParallel, DependsOn
// ordering, and each step's ErrorPolicy/RetryPolicy. Events are sent to
// events as they occur; Run blocks until every step reaches a terminal
// status or the context is cancelled (spec.md §4.1).
func (g *Graph) Run(ctx context.Context, resolver Resolver, exec ExecFunc, events chan<- StepEvent) map[string]StepStatus {
	status := make(map[string]StepStatus, len(g.Steps))
	results := make(map[string]node.Result, len(g.Steps))
	var mu sync.Mutex
	for _, s := range g.Steps {
		status[s.ID] = StatusPending
	}

	dependents := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	sem := make(chan struct{}, g.maxParallelOrDefault())
	var wg sync.WaitGroup
	var failFast bool

	ready := make(chan *Step, len(g.Steps))
	remaining := make(map[string]int, len(g.Steps))
	for _, s := range g.Steps {
		remaining[s.ID] = len(s.DependsOn)
		if remaining[s.ID] == 0 {
			ready <- s
		}
	}

	runStep := func(s *Step) {
		defer wg.Done()
		defer func() { <-sem }()

		mu.Lock()
		if failFast {
			status[s.ID] = StatusCancelled
			mu.Unlock()
			events <- StepEvent{Type: StepEventSkipped, StepID: s.ID}
			g.propagateSkip(s.ID, dependents, status, &mu, StatusCancelled)
			return
		}
		status[s.ID] = StatusRunning
		mu.Unlock()

		events <- StepEvent{Type: StepEventStart, StepID: s.ID}

		mu.Lock()
		input := s.Input
		if s.InputFn != nil {
			deps := make(map[string]node.Result, len(s.DependsOn))
			for _, dep := range s.DependsOn {
				deps[dep] = results[dep]
			}
			input = s.InputFn(deps)
		}
		mu.Unlock()

		attempts := 1
		policy := s.ErrPolicy
		if s.Retry != nil && s.Retry.MaxAttempts > attempts {
			attempts = s.Retry.MaxAttempts
		}

		var res node.Result
		for attempt := 0; attempt < attempts; attempt++ {
			res = exec(ctx, s, input, resolver)
			if res.Success {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		mu.Lock()
		results[s.ID] = res
		if res.Success {
			status[s.ID] = StatusSuccess
			mu.Unlock()
			events <- StepEvent{Type: StepEventComplete, StepID: s.ID, Result: res}
		} else {
			status[s.ID] = StatusFailed
			if s.Retry != nil && s.Retry.Fallback != "" {
				policy = s.Retry.Fallback
			}
			switch policy {
			case PolicyFailFast:
				failFast = true
				running := make([]string, 0, len(status))
				for id, st := range status {
					if st == StatusRunning && id != s.ID {
						running = append(running, id)
					}
				}
				mu.Unlock()
				g.interruptSteps(running, resolver)
				g.propagateSkip(s.ID, dependents, status, &mu, StatusCancelled)
				events <- StepEvent{Type: StepEventFailed, StepID: s.ID, Result: res, Err: toolerrors.New(toolerrors.Kind(res.ErrorType), res.Error)}
				return
			case PolicySkipDownstream:
				mu.Unlock()
				g.propagateSkip(s.ID, dependents, status, &mu, StatusSkipped)
				events <- StepEvent{Type: StepEventFailed, StepID: s.ID, Result: res, Err: toolerrors.New(toolerrors.Kind(res.ErrorType), res.Error)}
				return
			case PolicyContinue:
				mu.Unlock()
				events <- StepEvent{Type: StepEventFailed, StepID: s.ID, Result: res, Err: toolerrors.New(toolerrors.Kind(res.ErrorType), res.Error)}
			}
		}

		mu.Lock()
		for _, depID := range dependents[s.ID] {
			remaining[depID]--
			if remaining[depID] == 0 {
				dep := g.byID[depID]
				mu.Unlock()
				wg.Add(1)
				go func() {
					sem <- struct{}{}
					runStep(dep)
				}()
				mu.Lock()
			}
		}
		mu.Unlock()
	}

	for len(ready) > 0 {
		s := <-ready
		wg.Add(1)
		sem <- struct{}{}
		go runStep(s)
	}

	wg.Wait()
	return status
}

// propagateSkip marks every step transitively depending on failedID that
// hasn't started yet with cancelStatus: StatusCancelled for a fail_fast
// failure, StatusSkipped for skip_downstream (spec.md §7).
func (g *Graph) propagateSkip(failedID string, dependents map[string][]string, status map[string]StepStatus, mu *sync.Mutex, cancelStatus StepStatus) {
	queue := append([]string{}, dependents[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		mu.Lock()
		if status[id] == StatusPending {
			status[id] = cancelStatus
		}
		mu.Unlock()
		queue = append(queue, dependents[id]...)
	}
}

// interruptSteps calls Interrupt on every named step's node, used when a
// fail_fast failure must abort already-running siblings rather than just
// block new ones from starting (spec.md §4.5 point 5, §8 "aborts a running
// sibling step upon failure").
func (g *Graph) interruptSteps(ids []string, resolver Resolver) {
	for _, id := range ids {
		s, ok := g.byID[id]
		if !ok {
			continue
		}
		n := s.Node
		if n == nil && s.NodeID != "" && resolver != nil {
			n, _ = resolver.ResolveNode(s.NodeID)
		}
		if n != nil {
			n.Interrupt()
		}
	}
}

func (g *Graph) maxParallelOrDefault() int {
	if g.MaxParallel <= 0 {
		return 1
	}
	return g.MaxParallel
}

// Step returns the step with the given id, if present.
func (g *Graph) Step(id string) (*Step, bool) {
	s, ok := g.byID[id]
	return s, ok
}
