package dispatcher

import (
	"context"
	"strings"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/parser"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/toolerrors"
)

// historyFor returns the session's writer when enabled is true and the
// session has one configured, and a no-op writer otherwise (spec.md §4.3,
// §6.4). create_node's per-node "history" flag is passed here only for the
// creation record; it is not stored with the node, so later executions
// (execute_input, graph runs) do not consult it.
func historyFor(sess *session.Session, enabled bool) historywriter.Writer {
	if !enabled {
		return historywriter.Noop{}
	}
	if w := sess.HistoryWriter(); w != nil {
		return w
	}
	return historywriter.Noop{}
}

func handleCreateNode(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	backend := optString(params, "backend", "identity")
	command := optString(params, "command", "")
	args := optStringSlice(params, "args")
	cwd := optString(params, "cwd", "")
	env := optStringSlice(params, "env")
	historyEnabled := optBool(params, "history", true)
	provider := optMap(params, "provider")

	var n node.Node
	var proxyURL string

	switch backend {
	case "identity":
		n = node.NewIdentity(nodeID)

	case "bash":
		n = node.NewBash(nodeID, command)

	case "pty", "external_terminal", "claude_terminal":
		var px *proxy.Proxy
		shellCmd := command
		if provider != nil {
			apiFormat := optString(provider, "api_format", string(proxy.FormatAnthropic))
			cfg := proxy.Config{
				APIFormat:     proxy.APIFormat(apiFormat),
				UpstreamURL:   optString(provider, "base_url", ""),
				UpstreamModel: optString(provider, "model", ""),
				APIKey:        optString(provider, "api_key", ""),
			}
			if cfg.APIFormat != proxy.FormatAnthropic {
				client, err := d.clients.Get(modelclient.Provider(apiFormat))
				if err != nil {
					return nil, toolerrors.Wrap(toolerrors.InvalidRequest, err)
				}
				cfg.Client = client
			}
			px, err = d.proxies.Start(ctx, nodeID, cfg)
			if err != nil {
				return nil, toolerrors.Wrap(toolerrors.Network, err)
			}
			proxyURL = px.BaseURL()
			exportLine := proxy.ShellQuoteExportLine("ANTHROPIC_BASE_URL", proxyURL)
			shellCmd = exportLine + shellCmd
		}
		if cwd != "" {
			shellCmd = "cd " + proxy.ShellQuoteSingle(cwd) + " && " + shellCmd
		}
		full := append([]string{shellCmd}, args...)
		shellArgs := []string{"-c", strings.Join(full, " ")}
		p := parserByName(optString(params, "parser", ""))

		n, err = createTerminalNode(ctx, d, backend, nodeID, shellArgs, env, p)
		if err != nil {
			if px != nil {
				_ = px.Stop(ctx)
			}
			return nil, err
		}

	case "stateless_llm", "stateful_llm":
		if provider == nil {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "llm backend requires provider")
		}
		apiFormat := optString(provider, "api_format", "anthropic")
		client, err := d.clients.Get(modelclient.Provider(apiFormat))
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.InvalidRequest, err)
		}
		model := optString(provider, "model", "")
		system := optString(provider, "system", "")
		if backend == "stateless_llm" {
			n = node.NewStatelessLLM(nodeID, client, model, system)
		} else {
			toolNodes := optStringSlice(provider, "tool_node_ids")
			maxRounds := optInt(provider, "max_tool_rounds", 0)
			n = node.NewStatefulLLM(nodeID, client, model, system, toolNodes, maxRounds)
		}

	case "mcp":
		mcpArgs := optStringSlice(params, "mcp_args")
		if len(mcpArgs) == 0 {
			return nil, toolerrors.New(toolerrors.InvalidRequest, "mcp backend requires mcp_args")
		}
		mcpEnv := optStringSlice(params, "mcp_env")
		caller, err := newStdioMCPCaller(ctx, mcpArgs[0], mcpArgs[1:], mcpEnv)
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.Process, err)
		}
		tools, err := caller.listTools(ctx)
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.Process, err)
		}
		n = node.NewMCP(nodeID, caller, tools)

	default:
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "unknown backend %q", backend)
	}

	if err := n.Start(ctx); err != nil {
		return nil, toolerrors.Wrap(toolerrors.Process, err)
	}
	if err := sess.AddNode(n); err != nil {
		_ = n.Stop(ctx)
		return nil, err
	}

	dir, dirEnabled := sess.HistoryDir(nodeID)
	hist := historyFor(sess, historyEnabled && dirEnabled)
	hist.Write(ctx, historywriter.Record{NodeID: nodeID, Operation: historywriter.OpLifecycle, Payload: map[string]any{"event": "created", "backend": backend, "dir": dir}})
	_ = d.sink.Send(ctx, event.New(event.TypeNodeCreated, nodeID, "", sess.ID(), map[string]any{"backend": backend}))

	out := map[string]any{"node_id": nodeID}
	if proxyURL != "" {
		out["proxy_url"] = proxyURL
	}
	return out, nil
}

// createTerminalNode builds the concrete terminal node variant; factored
// out of handleCreateNode so the provider/proxy wiring above stays linear.
func createTerminalNode(ctx context.Context, d *Dispatcher, backend, nodeID string, shellArgs, env []string, p parser.Parser) (node.Node, error) {
	switch backend {
	case "pty":
		b, err := terminalbackend.NewPTY("/bin/sh", shellArgs, env, terminalbackend.Options{})
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.Process, err)
		}
		return node.NewPTY(nodeID, b, p), nil

	case "external_terminal":
		b, err := terminalbackend.NewExternalSpawn(ctx, d.mux, "/bin/sh", shellArgs, env, terminalbackend.Options{})
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.Process, err)
		}
		return node.NewExternalTerminal(nodeID, b, p), nil

	case "claude_terminal":
		b, err := terminalbackend.NewExternalSpawn(ctx, d.mux, "/bin/sh", shellArgs, env, terminalbackend.Options{})
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.Process, err)
		}
		command := append([]string{"/bin/sh"}, shellArgs...)
		return node.NewClaudeTerminal(nodeID, b, d.mux, command, env, nodeID, p), nil
	}
	return nil, toolerrors.Newf(toolerrors.InvalidRequest, "unknown terminal backend %q", backend)
}

func handleDeleteNode(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	if err := sess.RemoveNode(ctx, nodeID); err != nil {
		return nil, err
	}
	if px, ok := d.proxies.Get(nodeID); ok {
		if err := px.Stop(ctx); err != nil {
			d.logger.Warn(ctx, "proxy stop failed", "node_id", nodeID, "error", err)
		}
	}
	_ = d.sink.Send(ctx, event.New(event.TypeNodeDeleted, nodeID, "", sess.ID(), nil))
	return map[string]any{"deleted": true}, nil
}

func handleListNodes(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	infos := sess.ListNodes()
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		out = append(out, infoToMap(info))
	}
	return map[string]any{"nodes": out}, nil
}

func handleGetNode(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	n, err := nodeFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	return infoToMap(n.ToInfo()), nil
}

func infoToMap(info node.Info) map[string]any {
	out := map[string]any{"id": info.ID, "type": info.Type, "state": string(info.State)}
	for k, v := range info.Metadata {
		out[k] = v
	}
	return out
}

func handleExecuteInput(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	n, err := nodeFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	text, _ := params["text"].(string)
	p := parserByName(optString(params, "parser", ""))
	timeout := optDuration(params, "timeout")

	_, dirEnabled := sess.HistoryDir(nodeID)
	hist := historyFor(sess, dirEnabled)

	ec := node.ExecutionContext{Context: ctx, Session: sess, Input: text, Parser: p, Timeout: timeout, History: hist, Sink: d.sink}
	res := n.Execute(ec)
	return buildExecuteResponse(res, p), nil
}

// buildExecuteResponse never itself returns an error: node-level failures
// are reported inside the response per spec.md §7 ("Node-level failures
// never raise out of execute").
func buildExecuteResponse(res node.Result, p parser.Parser) map[string]any {
	out := map[string]any{
		"success":    res.Success,
		"response":   parsedResponseData(res, p),
		"error":      nil,
		"error_type": nil,
	}
	for k, v := range res.Data {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	if !res.Success {
		out["error"] = res.Error
		out["error_type"] = res.ErrorType
	}
	return out
}

func handleRunCommand(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	term, err := terminalFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	command, err := requireString(params, "command")
	if err != nil {
		return nil, err
	}
	if err := term.WriteRaw(ctx, []byte(command+"\n")); err != nil {
		return nil, toolerrors.Wrap(toolerrors.Process, err)
	}
	return map[string]any{"executed": true}, nil
}

func handleSendInterrupt(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	n, err := nodeFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	n.Interrupt()
	return map[string]any{"interrupted": true}, nil
}

func handleWriteRaw(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	term, err := terminalFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	data, err := requireString(params, "data")
	if err != nil {
		return nil, err
	}
	if err := term.WriteRaw(ctx, []byte(data)); err != nil {
		return nil, toolerrors.Wrap(toolerrors.Process, err)
	}
	return map[string]any{"written": true}, nil
}

func handleReadBuffer(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	term, err := terminalFor(sess, nodeID)
	if err != nil {
		return nil, err
	}
	tail := optInt(params, "tail", 0)
	buf, err := term.ReadBuffer(ctx, tail)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.Process, err)
	}
	return map[string]any{"buffer": buf}, nil
}

func handleReadHistory(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	nodeID, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	if _, err := nodeFor(sess, nodeID); err != nil {
		return nil, err
	}
	dir, enabled := sess.HistoryDir(nodeID)
	if !enabled {
		return map[string]any{"records": []map[string]any{}}, nil
	}
	recs, err := historywriter.ReadRecords(dir)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.Internal, err)
	}
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"id": r.ID, "timestamp": r.Timestamp, "node_id": r.NodeID,
			"operation": string(r.Operation), "payload": r.Payload,
		})
	}
	return map[string]any{"records": out}, nil
}

func handleForkNode(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	sourceID, err := requireString(params, "source_id")
	if err != nil {
		return nil, err
	}
	targetID, err := requireString(params, "target_id")
	if err != nil {
		return nil, err
	}
	src, err := nodeFor(sess, sourceID)
	if err != nil {
		return nil, err
	}
	forkable, ok := src.(node.Forkable)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.NotImplemented, "node %q does not support fork", sourceID)
	}
	if _, exists := sess.GetNode(targetID); exists {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "id %q already in use", targetID)
	}
	forked, err := forkable.Fork(ctx, targetID)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.KindOf(err), err)
	}
	if err := sess.AddNode(forked); err != nil {
		_ = forked.Stop(ctx)
		return nil, err
	}
	return map[string]any{"node_id": targetID, "forked_from": sourceID}, nil
}

func handleCallTool(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	target, err := requireString(params, "node_id")
	if err != nil {
		return nil, err
	}
	tool, err := requireString(params, "tool")
	if err != nil {
		return nil, err
	}
	n, err := nodeFor(sess, target)
	if err != nil {
		return nil, err
	}
	tc, ok := n.(node.ToolCapable)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "node %q does not expose tools", target)
	}
	args := optMap(params, "args")
	if def, ok := toolDefByName(tc, tool); ok {
		if err := validateToolArgs(def, args); err != nil {
			return nil, err
		}
	}
	result, err := tc.CallTool(ctx, tool, args)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.KindOf(err), err)
	}
	return map[string]any{"result": result}, nil
}
