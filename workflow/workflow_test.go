package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/node"
)

type fakeResolver struct{ nodes map[string]node.Node }

func (f fakeResolver) ResolveNode(id string) (node.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

func newResolver(nodes ...node.Node) fakeResolver {
	m := make(map[string]node.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID()] = n
	}
	return fakeResolver{nodes: m}
}

func waitTerminal(t *testing.T, run *Run) Snapshot {
	t.Helper()
	snap, err := Wait(context.Background(), run, time.Millisecond)
	require.NoError(t, err)
	return snap
}

func TestWorkflowRunCompletesAndReturnsResult(t *testing.T) {
	t.Parallel()

	echo := node.NewIdentity("echo")
	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w1", Fn: func(ctx *Context) (any, error) {
		res, err := ctx.Run("echo", "hi", 0)
		if err != nil {
			return nil, err
		}
		return res.Data["output"], nil
	}}

	run := rt.Start(context.Background(), wf, newResolver(echo), "sess1", nil)
	snap := waitTerminal(t, run)

	assert.Equal(t, RunCompleted, snap.State)
	assert.Equal(t, "hi", snap.Result)
}

func TestWorkflowGateSuspendsAndResumesOnAnswer(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w2", Fn: func(ctx *Context) (any, error) {
		answer, err := ctx.Gate("ok?", []string{"y", "n"})
		if err != nil {
			return nil, err
		}
		return answer, nil
	}}

	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)

	require.Eventually(t, func() bool { return run.State() == RunWaiting }, time.Second, time.Millisecond)

	require.NoError(t, run.AnswerGate("y"))
	snap := waitTerminal(t, run)

	assert.Equal(t, RunCompleted, snap.State)
	assert.Equal(t, "y", snap.Result)
}

func TestWorkflowGateRejectsAnswerOutsideChoiceSet(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w3", Fn: func(ctx *Context) (any, error) {
		return ctx.Gate("ok?", []string{"y", "n"})
	}}

	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)
	require.Eventually(t, func() bool { return run.State() == RunWaiting }, time.Second, time.Millisecond)

	err := run.AnswerGate("maybe")
	assert.ErrorIs(t, err, ErrChoiceRejected)
	assert.Equal(t, RunWaiting, run.State())

	require.NoError(t, run.AnswerGate("n"))
	waitTerminal(t, run)
}

func TestWorkflowCancelResolvesGateWithCancellation(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w4", Fn: func(ctx *Context) (any, error) {
		return ctx.Gate("ok?", nil)
	}}

	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)
	require.Eventually(t, func() bool { return run.State() == RunWaiting }, time.Second, time.Millisecond)

	run.Cancel()
	snap := waitTerminal(t, run)
	assert.Equal(t, RunCancelled, snap.State)
}

func TestWorkflowFailurePropagatesFromCallable(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w5", Fn: func(ctx *Context) (any, error) {
		return nil, errors.New("boom")
	}}

	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)
	snap := waitTerminal(t, run)

	assert.Equal(t, RunFailed, snap.State)
	assert.Equal(t, "boom", snap.Error)
}

func TestWorkflowPanicIsRecoveredAsFailure(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	wf := &Workflow{ID: "w6", Fn: func(ctx *Context) (any, error) {
		panic("nope")
	}}

	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)
	snap := waitTerminal(t, run)

	assert.Equal(t, RunFailed, snap.State)
	assert.Contains(t, snap.Error, "nope")
}

func TestWorkflowOnlyOneGateMayBePendingAtATime(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(event.NewInProcSink())
	errCh := make(chan error, 1)
	wf := &Workflow{ID: "w7", Fn: func(ctx *Context) (any, error) {
		_, err := ctx.Gate("first", nil)
		errCh <- err
		return nil, err
	}}
	run := rt.Start(context.Background(), wf, newResolver(), "sess1", nil)
	require.Eventually(t, func() bool { return run.State() == RunWaiting }, time.Second, time.Millisecond)

	_, err := (&Context{run: run}).Gate("second", nil)
	assert.Error(t, err)

	require.NoError(t, run.AnswerGate("x"))
	waitTerminal(t, run)
}
