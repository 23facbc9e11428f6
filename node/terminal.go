package node

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/parser"
	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/toolerrors"
)

// terminalNode is the shared implementation behind PTYNode,
// ExternalTerminalNode, and ClaudeTerminalNode: all three differ only in how
// their Backend is constructed (spec.md §3.1 lists them as distinct
// variants, but the execute/parse/history loop is identical, per spec.md §9
// "Deep inheritance... model them as a tagged union with a common interface
// value").
type terminalNode struct {
	*base
	backend      terminalbackend.Backend
	defaultParse parser.Parser
	pollEvery    time.Duration
}

func newTerminalNode(id, typeName string, backend terminalbackend.Backend, defaultParser parser.Parser) *terminalNode {
	if defaultParser == nil {
		defaultParser = parser.PassThrough{}
	}
	return &terminalNode{
		base:         newBase(id, typeName, true),
		backend:      backend,
		defaultParse: defaultParser,
		pollEvery:    50 * time.Millisecond,
	}
}

// Start implements Node: waits for the backend to become ready.
func (n *terminalNode) Start(ctx context.Context) error {
	n.setState(StateStarting)
	if err := n.backend.WaitReady(ctx); err != nil {
		n.setState(StateError)
		return err
	}
	n.setState(StateReady)
	return nil
}

// Stop implements Node.
func (n *terminalNode) Stop(ctx context.Context) error {
	n.setState(StateStopping)
	err := n.backend.Stop(ctx)
	n.setState(StateStopped)
	return err
}

// Execute implements Node. Success keys: raw, sections, is_ready, is_complete, tokens, parser.
func (n *terminalNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "terminal node not ready", nil)
	}
	defer release(StateReady)

	p := ec.Parser
	if p == nil {
		p = n.defaultParse
	}

	input, _ := ec.Input.(string)
	if ec.History != nil {
		ec.History.Write(ec.Context, historywriter.Record{
			NodeID: n.id, Operation: historywriter.OpInput,
			Payload: map[string]any{"text": input},
		})
	}

	ctx := ec.Context
	var cancel context.CancelFunc
	if ec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	interrupted := false
	n.setInterrupt(func() {
		interrupted = true
		_ = n.backend.Signal(context.Background())
	})
	defer n.clearInterrupt()

	if input != "" {
		if err := n.backend.Write(ctx, []byte(input+"\n")); err != nil {
			return failure(string(toolerrors.Process), err.Error(), nil)
		}
	}

	var parsed parser.ParsedResponse
	for {
		raw, err := n.backend.ReadAll(ctx)
		if err != nil {
			return failure(string(toolerrors.Process), err.Error(), nil)
		}
		parsed = p.Parse(raw)
		if parsed.IsReady {
			break
		}
		select {
		case <-ctx.Done():
			if interrupted {
				return failure(string(toolerrors.Interrupted), "execute interrupted", terminalResultData(parsed, p))
			}
			return failure(string(toolerrors.Timeout), "terminal did not become ready in time", terminalResultData(parsed, p))
		case <-time.After(n.pollEvery):
		}
	}

	if ec.History != nil {
		ec.History.Write(ec.Context, historywriter.Record{
			NodeID: n.id, Operation: historywriter.OpOutput,
			Payload: map[string]any{"raw": parsed.Raw},
		})
	}

	n.publish(ec, event.TypeNodeReady, nil)
	return success(terminalResultData(parsed, p))
}

// publish sends ev through ec.Sink if one was supplied; nodes treat the
// sink as write-only and best-effort, same as History (spec.md §9,
// "must emit at least one node_ready after a successful execute").
func (n *terminalNode) publish(ec ExecutionContext, typ event.Type, data map[string]any) {
	if ec.Sink == nil {
		return
	}
	sessionID := ""
	if ec.Session != nil {
		sessionID = ec.Session.ID()
	}
	_ = ec.Sink.Send(ec.Context, event.New(typ, n.id, "", sessionID, data))
}

func terminalResultData(parsed parser.ParsedResponse, p parser.Parser) map[string]any {
	sections := make([]map[string]any, 0, len(parsed.Sections))
	for _, s := range parsed.Sections {
		sections = append(sections, map[string]any{
			"kind": string(s.Kind), "content": s.Content, "metadata": s.Metadata,
		})
	}
	name := ""
	if p != nil {
		name = p.Name()
	}
	return map[string]any{
		"raw": parsed.Raw, "sections": sections,
		"is_ready": parsed.IsReady, "is_complete": parsed.IsComplete,
		"tokens": parsed.Tokens, "parser": name,
	}
}

// ExecuteStream runs Execute once and sends its raw output as a single final
// chunk, publishing output_chunk (and output_parsed on success) for it.
// Partial reads made while Execute polls the backend are not forwarded.
func (n *terminalNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)
		res := n.Execute(ec)
		raw, _ := res.Data["raw"].(string)
		n.publish(ec, event.TypeOutputChunk, map[string]any{"chunk": raw})
		if res.Success {
			n.publish(ec, event.TypeOutputParsed, res.Data)
		}
		ch <- Chunk{Data: raw, Done: true, Final: &res}
	}()
	return ch
}

// ToInfo implements Node.
func (n *terminalNode) ToInfo() Info { return n.toInfo() }

// WriteRaw sends data straight to the backend, bypassing the parse/poll
// loop Execute runs (spec.md §6.2, `write_raw`).
func (n *terminalNode) WriteRaw(ctx context.Context, data []byte) error {
	return n.backend.Write(ctx, data)
}

// ReadBuffer returns the backend's tail buffer without driving a parse
// cycle (spec.md §6.2, `read_buffer`). tail <= 0 returns the whole buffer.
func (n *terminalNode) ReadBuffer(ctx context.Context, tail int) (string, error) {
	if tail <= 0 {
		return n.backend.ReadAll(ctx)
	}
	return n.backend.ReadTail(ctx, tail)
}

// RawTerminal is the capability check dispatcher's write_raw/read_buffer
// handlers use (spec.md §4.7, "resolves node/graph by id with a capability
// check (e.g. 'is a terminal')").
type RawTerminal interface {
	Node
	WriteRaw(ctx context.Context, data []byte) error
	ReadBuffer(ctx context.Context, tail int) (string, error)
}

// PTYNode owns a pseudo-terminal and its child process (spec.md §3.1).
type PTYNode struct{ *terminalNode }

// NewPTY constructs a PTYNode over an already-started PTYBackend.
func NewPTY(id string, backend *terminalbackend.PTYBackend, defaultParser parser.Parser) *PTYNode {
	return &PTYNode{terminalNode: newTerminalNode(id, "pty_terminal", backend, defaultParser)}
}

// ExternalTerminalNode attaches to a pane of an external terminal
// multiplexer by pane identifier (spec.md §3.1).
type ExternalTerminalNode struct{ *terminalNode }

// NewExternalTerminal constructs an ExternalTerminalNode over an attached backend.
func NewExternalTerminal(id string, backend *terminalbackend.ExternalBackend, defaultParser parser.Parser) *ExternalTerminalNode {
	n := &ExternalTerminalNode{terminalNode: newTerminalNode(id, "external_terminal", backend, defaultParser)}
	n.setMetadata("pane_id", backend.PaneID())
	return n
}

// Fork is not supported for plain external-terminal nodes; only
// ClaudeTerminalNode carries CLI-native resume+fork semantics.
func (n *ExternalTerminalNode) Fork(ctx context.Context, newID string) (Node, error) {
	return nil, fmt.Errorf("fork not supported: %w", toolerrors.New(toolerrors.NotImplemented, "external terminal fork"))
}
