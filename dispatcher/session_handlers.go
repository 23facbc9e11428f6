package dispatcher

import (
	"context"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/toolerrors"
	"github.com/agentorch/agentserver/workflow"
)

func handleCreateSession(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	name, err := requireString(params, "session_id")
	if err != nil {
		return nil, err
	}
	hist := d.defaultHist
	if v, ok := params["history_enabled"].(bool); ok {
		hist.Enabled = v
	}
	sess := session.New(name, d.serverName, hist, workflow.NewRuntime(d.sink), d.logger)
	if err := d.registry.AddSession(sess); err != nil {
		return nil, err
	}
	_ = d.sink.Send(ctx, event.New(event.TypeSessionCreated, "", "", name, nil))
	return map[string]any{"session_id": name}, nil
}

// deleteSession tears down every persistent node owned by the session
// before freeing its name, then releases any per-node proxy still held
// (spec.md §3.1, "destroyed ... all persistent children are stopped and
// all per-node proxies are released"; §8 boundary behavior: deleting the
// default session fails, deleting a non-default session succeeds).
func handleDeleteSession(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	id, err := requireString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if id == d.registry.DefaultName() {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "cannot delete the default session %q", id)
	}
	sess, lookupErr := d.registry.GetSession(id)
	if lookupErr != nil {
		return nil, lookupErr
	}
	for _, info := range sess.ListNodes() {
		if px, ok := d.proxies.Get(info.ID); ok {
			if err := px.Stop(ctx); err != nil {
				d.logger.Warn(ctx, "proxy stop failed during session delete", "node_id", info.ID, "error", err)
			}
		}
	}
	if err := sess.Teardown(ctx); err != nil {
		d.logger.Error(ctx, "session teardown failed", "session", id, "error", err)
	}
	d.python.release(ctx, id)
	if err := d.registry.RemoveSession(id); err != nil {
		return nil, err
	}
	_ = d.sink.Send(ctx, event.New(event.TypeSessionDeleted, "", "", id, nil))
	return map[string]any{"deleted": true}, nil
}

func handleListSessions(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	return map[string]any{
		"sessions": d.registry.ListSessionNames(),
		"default":  d.registry.DefaultName(),
	}, nil
}

func handleGetSessionCmd(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": sess.ID(),
		"nodes":      len(sess.ListNodes()),
		"graphs":     sess.ListGraphs(),
		"workflows":  sess.ListWorkflows(),
	}, nil
}
