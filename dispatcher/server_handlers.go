package dispatcher

import (
	"context"

	"github.com/agentorch/agentserver/event"
)

func handleStop(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	for _, sess := range d.registry.GetAllSessions() {
		for _, info := range sess.ListNodes() {
			if px, ok := d.proxies.Get(info.ID); ok {
				if err := px.Stop(ctx); err != nil {
					d.logger.Warn(ctx, "proxy stop failed during stop", "node_id", info.ID, "error", err)
				}
			}
		}
		if err := sess.Teardown(ctx); err != nil {
			d.logger.Error(ctx, "session teardown failed during stop", "session", sess.ID(), "error", err)
		}
		d.python.release(ctx, sess.ID())
	}
	_ = d.sink.Send(ctx, event.New(event.TypeServerStopped, "", "", "", nil))
	return map[string]any{"stopped": true}, nil
}

// handlePing reports aggregate counts across every session, exercised by
// the round-trip property "ping after N create_node/delete_node pairs
// reports the same nodes count as before" (spec.md §8).
func handlePing(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sessions := d.registry.GetAllSessions()
	nodes, graphs := 0, 0
	for _, sess := range sessions {
		nodes += len(sess.ListNodes())
		graphs += len(sess.ListGraphs())
	}
	return map[string]any{
		"pong":     true,
		"nodes":    nodes,
		"graphs":   graphs,
		"sessions": len(sessions),
	}, nil
}
