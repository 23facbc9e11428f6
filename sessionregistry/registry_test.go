package sessionregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/workflow"
)

func newTestSession(name string) *session.Session {
	return session.New(name, "srv", session.HistoryConfig{}, workflow.NewRuntime(event.NewInProcSink()), nil)
}

func TestFirstAddedSessionBecomesDefault(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddSession(newTestSession("alpha")))

	got, err := r.GetSession("")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.ID())
}

func TestSetDefaultIsImmediatelyObservable(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddSession(newTestSession("alpha")))
	require.NoError(t, r.AddSession(newTestSession("beta")))

	require.NoError(t, r.SetDefault("beta"))
	got, err := r.GetSession("")
	require.NoError(t, err)
	assert.Equal(t, "beta", got.ID())
}

func TestDefaultSessionCannotBeRemoved(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddSession(newTestSession("alpha")))

	err := r.RemoveSession("alpha")
	assert.Error(t, err)
	assert.True(t, r.HasSession("alpha"))
}

func TestNonDefaultSessionCanBeRemoved(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.AddSession(newTestSession("alpha")))
	require.NoError(t, r.AddSession(newTestSession("beta")))

	require.NoError(t, r.RemoveSession("beta"))
	assert.False(t, r.HasSession("beta"))
}

func TestGetSessionUnknownIDErrors(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.GetSession("ghost")
	assert.Error(t, err)
}
