// Package workflow implements the imperative workflow runtime (spec.md
// §4.6): a Workflow wraps a host-language async callable over a Context
// exposing run/gate/emit; a Run tracks one execution's state machine and at
// most one pending gate.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/toolerrors"
)

// RunState is a workflow run's lifecycle state (spec.md §3.1).
type RunState string

const (
	RunPending   RunState = "PENDING"
	RunRunning   RunState = "RUNNING"
	RunWaiting   RunState = "WAITING"
	RunCompleted RunState = "COMPLETED"
	RunFailed    RunState = "FAILED"
	RunCancelled RunState = "CANCELLED"
)

func (s RunState) terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// ErrGateCancelled resolves a pending gate when its owning run is cancelled.
var ErrGateCancelled = errors.New("workflow: gate cancelled")

// ErrChoiceRejected is returned by Context.Gate when an answer is supplied
// that is not a member of the gate's choice set; the gate remains pending.
var ErrChoiceRejected = errors.New("workflow: answer not in choice set")

// Resolver looks up a sibling node by id within the run's owning session, the
// same narrow surface graph.Resolver uses, so Context.Run does not need to
// import package session.
type Resolver interface {
	ResolveNode(id string) (node.Node, bool)
}

// Callable is the host-language body of a Workflow.
type Callable func(ctx *Context) (any, error)

// Workflow is a named, reusable callable (spec.md §3.1).
type Workflow struct {
	ID          string
	Description string
	Fn          Callable
}

// pendingGate is the single-shot suspension point backing Context.Gate.
type pendingGate struct {
	prompt  string
	choices []string
	answer  chan string
	err     chan error
}

// Run is one execution of a Workflow (spec.md §3.1).
type Run struct {
	ID         string
	WorkflowID string

	mu        sync.Mutex
	state     RunState
	result    any
	err       error
	startedAt time.Time
	finishAt  time.Time
	gate      *pendingGate

	cancel context.CancelFunc
}

// State returns a snapshot of the run's current lifecycle state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot is an immutable view of a Run suitable for get_workflow_run.
type Snapshot struct {
	ID         string
	WorkflowID string
	State      RunState
	Result     any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	GatePrompt string
	GateChoices []string
}

// Snapshot returns a consistent read of the run for callers outside the
// callable's own goroutine (spec.md §4.6, "all other readers observe a
// snapshot").
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		ID: r.ID, WorkflowID: r.WorkflowID, State: r.state,
		Result: r.result, StartedAt: r.startedAt, FinishedAt: r.finishAt,
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	if r.gate != nil {
		snap.GatePrompt = r.gate.prompt
		snap.GateChoices = r.gate.choices
	}
	return snap
}

func (r *Run) setState(s RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Cancel requests cancellation of the run: it cancels the run's context
// (observed by Context.Run at its next node call) and resolves any pending
// gate with ErrGateCancelled (spec.md §9, gate cancellation semantics).
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	gate := r.gate
	cancel := r.cancel
	r.mu.Unlock()
	if gate != nil {
		select {
		case gate.err <- ErrGateCancelled:
		default:
		}
	}
	if cancel != nil {
		cancel()
	}
}

// AnswerGate resolves the run's single pending gate with answer, completing
// Context.Gate's suspension (spec.md §4.6). Returns an error if the run has
// no pending gate, or if choices is non-empty and answer is not a member.
func (r *Run) AnswerGate(answer string) error {
	r.mu.Lock()
	if r.state != RunWaiting || r.gate == nil {
		r.mu.Unlock()
		return toolerrors.New(toolerrors.InvalidRequest, "run has no pending gate")
	}
	gate := r.gate
	if len(gate.choices) > 0 {
		ok := false
		for _, c := range gate.choices {
			if c == answer {
				ok = true
				break
			}
		}
		if !ok {
			r.mu.Unlock()
			return ErrChoiceRejected
		}
	}
	r.mu.Unlock()
	gate.answer <- answer
	return nil
}

// Context is the surface a workflow Callable interacts with (spec.md §4.6).
type Context struct {
	run      *Run
	ctx      context.Context
	resolver Resolver
	sink     event.Sink
	sessionID string

	stateMu sync.Mutex
	State   map[string]any
}

// Context returns the run's cancellable context, observed by long-running
// node calls so cancellation propagates (spec.md §5).
func (c *Context) Context() context.Context { return c.ctx }

// Run looks up node_id in the owning session and executes it, emitting
// node_started/node_completed events around the call (spec.md §4.6).
func (c *Context) Run(nodeID string, input any, timeout time.Duration) (node.Result, error) {
	n, ok := c.resolver.ResolveNode(nodeID)
	if !ok {
		return node.Result{}, toolerrors.Newf(toolerrors.InvalidRequest, "unknown node %q", nodeID)
	}
	c.publish(event.TypeWorkflowNodeStarted, nodeID, nil)
	res := n.Execute(node.ExecutionContext{Context: c.ctx, Session: nil, Input: input, Timeout: timeout, Sink: c.sink})
	c.publish(event.TypeWorkflowNodeCompleted, nodeID, map[string]any{"success": res.Success})
	if c.ctx.Err() != nil {
		return res, c.ctx.Err()
	}
	return res, nil
}

func (c *Context) publish(typ event.Type, nodeID string, data map[string]any) {
	_ = c.sink.Send(c.ctx, event.New(typ, nodeID, c.run.ID, c.sessionID, data))
}

// Gate suspends the run until answered (spec.md §4.6). Transitions the run
// to WAITING, registers the pending gate, emits gate_waiting, and blocks
// until answer_gate resolves it or the run is cancelled.
func (c *Context) Gate(prompt string, choices []string) (string, error) {
	gate := &pendingGate{prompt: prompt, choices: choices, answer: make(chan string, 1), err: make(chan error, 1)}

	c.run.mu.Lock()
	if c.run.gate != nil {
		c.run.mu.Unlock()
		return "", toolerrors.New(toolerrors.InvalidRequest, "a gate is already pending for this run")
	}
	c.run.gate = gate
	c.run.state = RunWaiting
	c.run.mu.Unlock()

	c.publish(event.TypeGateWaiting, "", map[string]any{"prompt": prompt, "choices": choices})

	select {
	case answer := <-gate.answer:
		c.run.mu.Lock()
		c.run.gate = nil
		c.run.state = RunRunning
		c.run.mu.Unlock()
		c.publish(event.TypeGateAnswered, "", map[string]any{"answer": answer})
		return answer, nil
	case err := <-gate.err:
		c.run.mu.Lock()
		c.run.gate = nil
		c.run.mu.Unlock()
		return "", err
	case <-c.ctx.Done():
		c.run.mu.Lock()
		c.run.gate = nil
		c.run.mu.Unlock()
		return "", c.ctx.Err()
	}
}

// Emit pushes a custom event through the sink (spec.md §4.6).
func (c *Context) Emit(eventType string, data map[string]any) {
	c.publish(event.Type(eventType), "", data)
}

// Get reads a key from the run-scoped state map. The callable is the sole
// writer; Get/Set are only safe from the callable's own goroutine plus
// Run.Snapshot's separate locked copy for external readers.
func (c *Context) Get(key string) (any, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	v, ok := c.State[key]
	return v, ok
}

// Set writes a key into the run-scoped state map.
func (c *Context) Set(key string, value any) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.State == nil {
		c.State = make(map[string]any)
	}
	c.State[key] = value
}

// Runtime schedules workflow runs as independent goroutines (spec.md §4.6,
// "own logical task"; §5, cooperative single-thread-per-run model).
type Runtime struct {
	sink event.Sink

	mu   sync.Mutex
	runs map[string]*Run
}

// NewRuntime constructs a Runtime publishing lifecycle events to sink.
func NewRuntime(sink event.Sink) *Runtime {
	return &Runtime{sink: sink, runs: make(map[string]*Run)}
}

// Start transitions a fresh Run PENDING -> RUNNING and schedules wf.Fn on
// its own goroutine (spec.md §4.6). It returns immediately with the Run
// handle; callers poll Snapshot or block on Wait.
func (rt *Runtime) Start(ctx context.Context, wf *Workflow, resolver Resolver, sessionID string, input any) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		state:      RunPending,
		cancel:     cancel,
	}

	rt.mu.Lock()
	rt.runs[run.ID] = run
	rt.mu.Unlock()

	run.setState(RunRunning)
	run.startedAt = time.Now()
	_ = rt.sink.Send(ctx, event.New(event.TypeWorkflowStarted, "", run.ID, sessionID, map[string]any{"workflow_id": wf.ID}))

	wfCtx := &Context{run: run, ctx: runCtx, resolver: resolver, sink: rt.sink, sessionID: sessionID, State: make(map[string]any)}

	go func() {
		defer cancel()
		result, err := rt.invoke(wf, wfCtx, input)

		run.mu.Lock()
		run.finishAt = time.Now()
		switch {
		case runCtx.Err() != nil && err != nil:
			run.state = RunCancelled
		case err != nil:
			run.state = RunFailed
			run.err = err
		default:
			run.state = RunCompleted
			run.result = result
		}
		finalState := run.state
		run.mu.Unlock()

		switch finalState {
		case RunCompleted:
			_ = rt.sink.Send(ctx, event.New(event.TypeWorkflowCompleted, "", run.ID, sessionID, map[string]any{"result": result}))
		case RunFailed:
			_ = rt.sink.Send(ctx, event.New(event.TypeWorkflowFailed, "", run.ID, sessionID, map[string]any{"error": err.Error()}))
		case RunCancelled:
			_ = rt.sink.Send(ctx, event.New(event.TypeWorkflowCancelled, "", run.ID, sessionID, nil))
		}
	}()

	return run
}

// invoke recovers a panicking callable into a FAILED run rather than
// crashing the runtime goroutine (spec.md §7, unexpected exceptions).
func (rt *Runtime) invoke(wf *Workflow, wfCtx *Context, input any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow %q panicked: %v", wf.ID, p)
		}
	}()
	wfCtx.Set("input", input)
	return wf.Fn(wfCtx)
}

// Get returns a run by id.
func (rt *Runtime) Get(runID string) (*Run, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.runs[runID]
	return r, ok
}

// List returns every tracked run's snapshot.
func (rt *Runtime) List() []Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]Snapshot, 0, len(rt.runs))
	for _, r := range rt.runs {
		out = append(out, r.Snapshot())
	}
	return out
}

// Wait blocks until run reaches a terminal state or ctx is done.
func Wait(ctx context.Context, run *Run, poll time.Duration) (Snapshot, error) {
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		snap := run.Snapshot()
		if snap.State.terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return run.Snapshot(), ctx.Err()
		case <-ticker.C:
		}
	}
}
