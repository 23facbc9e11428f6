package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityNodeEchoesInput(t *testing.T) {
	t.Parallel()

	n := NewIdentity("id1")
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "hello"})
	require.True(t, res.Success)
	assert.Equal(t, "hello", res.Data["output"])
}

func TestBashNodeCapturesStdoutAndExitCode(t *testing.T) {
	t.Parallel()

	n := NewBash("b1", "")
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "echo hi"})
	require.True(t, res.Success)
	assert.Equal(t, "hi\n", res.Data["stdout"])
	assert.Equal(t, 0, res.Data["exit_code"])
}

func TestBashNodeReportsNonZeroExit(t *testing.T) {
	t.Parallel()

	n := NewBash("b2", "")
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "exit 3"})
	require.False(t, res.Success)
	assert.Equal(t, 3, res.Data["exit_code"])
}

func TestBashNodeTimesOut(t *testing.T) {
	t.Parallel()

	n := NewBash("b3", "")
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "sleep 5", Timeout: 50 * time.Millisecond})
	require.False(t, res.Success)
	assert.Equal(t, "timeout", res.ErrorType)
}

func TestFunctionNodeReturnsCallableOutput(t *testing.T) {
	t.Parallel()

	n := NewFunction("f1", func(ctx context.Context, input any) (any, error) {
		return input.(string) + "!", nil
	})
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "go"})
	require.True(t, res.Success)
	assert.Equal(t, "go!", res.Data["output"])
}

func TestFunctionNodePropagatesError(t *testing.T) {
	t.Parallel()

	n := NewFunction("f2", func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("boom")
	})
	res := n.Execute(ExecutionContext{Context: context.Background(), Input: nil})
	require.False(t, res.Success)
	assert.Equal(t, "internal_error", res.ErrorType)
}

func TestBaseEnforcesSingleWriterExecution(t *testing.T) {
	t.Parallel()

	n := NewFunction("f3", func(ctx context.Context, input any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	})

	done := make(chan Result, 1)
	go func() {
		done <- n.Execute(ExecutionContext{Context: context.Background(), Input: "x"})
	}()
	time.Sleep(10 * time.Millisecond)

	res := n.Execute(ExecutionContext{Context: context.Background(), Input: "y"})
	assert.False(t, res.Success)
	assert.Equal(t, "node_stopped", res.ErrorType)

	first := <-done
	assert.True(t, first.Success)
}

func TestInterruptIsSafeOnIdleNode(t *testing.T) {
	t.Parallel()

	n := NewIdentity("id2")
	assert.NotPanics(t, func() { n.Interrupt() })
}
