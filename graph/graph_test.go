package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/node"
)

// execViaNode adapts a Step whose Node is set directly into an ExecFunc,
// the shape session/workflow wire in production.
func execViaNode(ctx context.Context, s *Step, input any, _ Resolver) node.Result {
	return s.Node.Execute(node.ExecutionContext{Context: ctx, Input: input})
}

func drain(events chan StepEvent) []StepEvent {
	var out []StepEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func echoNode(id string) node.Node {
	return node.NewFunction(id, func(ctx context.Context, input any) (any, error) {
		return input, nil
	})
}

func failingNode(id string) node.Node {
	return node.NewFunction(id, func(ctx context.Context, input any) (any, error) {
		return nil, assert.AnError
	})
}

func TestGraphRunsIndependentStepsConcurrently(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	record := func(id string) node.Node {
		return node.NewFunction(id, func(ctx context.Context, input any) (any, error) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		})
	}

	g, err := New("g1", []*Step{
		{ID: "a", Node: record("a")},
		{ID: "b", Node: record("b")},
		{ID: "c", Node: echoNode("c"), DependsOn: []string{"a", "b"}},
	}, 2)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	done := make(chan []StepEvent)
	go func() { done <- drain(events) }()

	status := g.Run(context.Background(), nil, execViaNode, events)
	close(events)
	<-done

	assert.Equal(t, StatusSuccess, status["a"])
	assert.Equal(t, StatusSuccess, status["b"])
	assert.Equal(t, StatusSuccess, status["c"])
	require.Len(t, order, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, order)
}

func TestGraphFailFastCancelsRemainingSteps(t *testing.T) {
	t.Parallel()

	g, err := New("g2", []*Step{
		{ID: "a", Node: failingNode("a"), ErrPolicy: PolicyFailFast},
		{ID: "b", Node: echoNode("b"), DependsOn: []string{"a"}},
	}, 1)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	status := g.Run(context.Background(), nil, execViaNode, events)
	close(events)

	assert.Equal(t, StatusFailed, status["a"])
	assert.Equal(t, StatusCancelled, status["b"])
}

// interruptObserverNode blocks in Execute until either its release channel
// closes or Interrupt is called, recording whichever happens via a
// dedicated channel rather than the base's no-op interrupt hook used by
// FunctionNode.
type interruptObserverNode struct {
	id          string
	interrupted chan struct{}
	release     chan struct{}
}

func (n *interruptObserverNode) ID() string       { return n.id }
func (n *interruptObserverNode) Persistent() bool { return false }
func (n *interruptObserverNode) Execute(ec node.ExecutionContext) node.Result {
	select {
	case <-n.release:
	case <-ec.Context.Done():
	}
	return node.Result{Success: true, Data: map[string]any{}}
}
func (n *interruptObserverNode) ExecuteStream(ec node.ExecutionContext) <-chan node.Chunk {
	ch := make(chan node.Chunk, 1)
	go func() {
		res := n.Execute(ec)
		ch <- node.Chunk{Done: true, Final: &res}
		close(ch)
	}()
	return ch
}
func (n *interruptObserverNode) Interrupt()               { close(n.interrupted); close(n.release) }
func (n *interruptObserverNode) Start(context.Context) error { return nil }
func (n *interruptObserverNode) Stop(context.Context) error  { return nil }
func (n *interruptObserverNode) ToInfo() node.Info {
	return node.Info{ID: n.id, Type: "stub", State: node.StateReady}
}
func (n *interruptObserverNode) State() node.State { return node.StateReady }

func TestGraphFailFastInterruptsRunningSibling(t *testing.T) {
	t.Parallel()

	slow := &interruptObserverNode{id: "slow", interrupted: make(chan struct{}), release: make(chan struct{})}
	delayedFail := node.NewFunction("a", func(ctx context.Context, input any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, assert.AnError
	})

	g, err := New("g2b", []*Step{
		{ID: "a", Node: delayedFail, ErrPolicy: PolicyFailFast},
		{ID: "slow", Node: slow},
	}, 2)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	g.Run(context.Background(), nil, execViaNode, events)
	close(events)

	select {
	case <-slow.interrupted:
	case <-time.After(time.Second):
		t.Fatal("expected fail_fast to interrupt the running sibling")
	}
}

func TestGraphSkipDownstreamMarksOnlyTransitiveDependents(t *testing.T) {
	t.Parallel()

	g, err := New("g3", []*Step{
		{ID: "a", Node: failingNode("a"), ErrPolicy: PolicySkipDownstream},
		{ID: "b", Node: echoNode("b")},
		{ID: "c", Node: echoNode("c"), DependsOn: []string{"a"}},
	}, 2)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	status := g.Run(context.Background(), nil, execViaNode, events)
	close(events)

	assert.Equal(t, StatusFailed, status["a"])
	assert.Equal(t, StatusSkipped, status["c"])
	assert.Equal(t, StatusSuccess, status["b"])
}

func TestGraphContinuePolicyRunsUnaffectedBranches(t *testing.T) {
	t.Parallel()

	g, err := New("g4", []*Step{
		{ID: "a", Node: failingNode("a"), ErrPolicy: PolicyContinue},
		{ID: "b", Node: echoNode("b")},
	}, 2)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	status := g.Run(context.Background(), nil, execViaNode, events)
	close(events)

	assert.Equal(t, StatusFailed, status["a"])
	assert.Equal(t, StatusSuccess, status["b"])
}

func TestGraphRetryPolicyEventuallySucceeds(t *testing.T) {
	t.Parallel()

	var calls int
	flaky := node.NewFunction("flaky", func(ctx context.Context, input any) (any, error) {
		calls++
		if calls < 2 {
			return nil, assert.AnError
		}
		return "ok", nil
	})

	g, err := New("g5", []*Step{
		{ID: "a", Node: flaky, Retry: &RetryPolicy{MaxAttempts: 3, Fallback: PolicyFailFast}},
	}, 1)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	status := g.Run(context.Background(), nil, execViaNode, events)
	close(events)

	assert.Equal(t, StatusSuccess, status["a"])
	assert.Equal(t, 2, calls)
}

func TestGraphInputFnReceivesUpstreamResults(t *testing.T) {
	t.Parallel()

	g, err := New("g9", []*Step{
		{ID: "a", Node: echoNode("a"), Input: "x"},
		{ID: "b", Node: echoNode("b"), DependsOn: []string{"a"}, InputFn: func(deps map[string]node.Result) any {
			return deps["a"].Data["output"].(string) + "!"
		}},
	}, 2)
	require.NoError(t, err)

	events := make(chan StepEvent, 16)
	go drain(events)

	var gotInput any
	exec := func(ctx context.Context, s *Step, input any, r Resolver) node.Result {
		if s.ID == "b" {
			gotInput = input
		}
		return execViaNode(ctx, s, input, r)
	}

	status := g.Run(context.Background(), nil, exec, events)
	close(events)

	assert.Equal(t, StatusSuccess, status["b"])
	assert.Equal(t, "x!", gotInput)
}

func TestNewRejectsCycles(t *testing.T) {
	t.Parallel()

	_, err := New("g6", []*Step{
		{ID: "a", Node: echoNode("a"), DependsOn: []string{"b"}},
		{ID: "b", Node: echoNode("b"), DependsOn: []string{"a"}},
	}, 1)
	assert.Error(t, err)
}

func TestNewRejectsStepWithBothNodeAndNodeID(t *testing.T) {
	t.Parallel()

	_, err := New("g7", []*Step{
		{ID: "a", Node: echoNode("a"), NodeID: "a"},
	}, 1)
	assert.Error(t, err)
}

func TestNewRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := New("g8", []*Step{
		{ID: "a", Node: echoNode("a"), DependsOn: []string{"ghost"}},
	}, 1)
	assert.Error(t, err)
}
