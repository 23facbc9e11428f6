package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/toolerrors"
)

// DefaultMaxToolRounds bounds the tool-calling loop a StatefulLLMNode runs
// per Execute call when the caller does not override it.
const DefaultMaxToolRounds = 8

// maxCompleteAttempts bounds how many attempts (the first call plus its
// retries) a single model call gets when it keeps failing with a retryable
// (network/rate-limit) error before Execute gives up.
const maxCompleteAttempts = 3

// completeWithRetry calls client.Complete up to maxCompleteAttempts times in
// total, retrying only transient failures (rate limits, network errors); mirrors
// graph.Step's attempt-count retry loop (graph/graph.go) rather than
// introducing a separate backoff package for a single call site. Returns
// the final response/error alongside how many retries (attempts beyond the
// first) were made.
func completeWithRetry(ctx context.Context, client modelclient.Client, req modelclient.Request) (*modelclient.Response, error, int) {
	var resp *modelclient.Response
	var err error
	for attempt := 0; attempt < maxCompleteAttempts; attempt++ {
		resp, err = client.Complete(ctx, req)
		if err == nil {
			return resp, nil, attempt
		}
		kind := toolerrors.KindOf(err)
		if kind != toolerrors.RateLimit && kind != toolerrors.Network {
			return nil, err, attempt
		}
	}
	return nil, err, maxCompleteAttempts - 1
}

// StatelessLLMNode issues one model call per Execute with no retained
// transcript: every call starts from an empty conversation plus the current
// input (spec.md §3.1).
type StatelessLLMNode struct {
	*base
	client modelclient.Client
	model  string
	system string
}

// NewStatelessLLM constructs a StatelessLLMNode around an already-configured
// provider client.
func NewStatelessLLM(id string, client modelclient.Client, model, system string) *StatelessLLMNode {
	n := &StatelessLLMNode{base: newBase(id, "llm_stateless", false), client: client, model: model, system: system}
	n.setState(StateReady)
	return n
}

// Start is a no-op.
func (n *StatelessLLMNode) Start(context.Context) error { n.setState(StateReady); return nil }

// Stop is a no-op.
func (n *StatelessLLMNode) Stop(context.Context) error { n.setState(StateStopped); return nil }

// Execute implements Node. Success keys: content, tool_calls, model,
// finish_reason, usage, retries (spec.md §4.4).
func (n *StatelessLLMNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "llm node not ready", nil)
	}
	defer release(StateReady)

	prompt, _ := ec.Input.(string)
	req := modelclient.Request{
		Model:  n.model,
		System: n.system,
		Messages: []modelclient.Message{
			{Role: modelclient.RoleUser, Parts: []modelclient.Part{modelclient.TextPart{Text: prompt}}},
		},
	}

	resp, err, retries := completeWithRetry(ec.Context, n.client, req)
	if err != nil {
		return failure(string(toolerrors.KindOf(err)), err.Error(), map[string]any{"retries": retries})
	}
	data := responseData(resp)
	data["model"] = n.model
	data["finish_reason"] = resp.StopReason
	data["retries"] = retries
	if ec.History != nil {
		ec.History.Write(ec.Context, historywriter.Record{NodeID: n.id, Operation: historywriter.OpOutput, Payload: data})
	}
	return success(data)
}

// responseData extracts the fields common to both LLM node variants: the
// assembled text content, tool calls, and token usage.
func responseData(resp *modelclient.Response) map[string]any {
	text := ""
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if t, ok := p.(modelclient.TextPart); ok {
				text += t.Text
			}
		}
	}
	calls := make([]map[string]any, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, map[string]any{"id": tc.ID, "name": tc.Name, "input": json.RawMessage(tc.Input)})
	}
	return map[string]any{
		"content": text, "tool_calls": calls,
		"usage": map[string]any{"input_tokens": resp.Usage.InputTokens, "output_tokens": resp.Usage.OutputTokens},
	}
}

// ExecuteStream runs Execute once and sends the response content as a single
// final chunk; it does not call Stream() or forward partial text.
func (n *StatelessLLMNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)
		res := n.Execute(ec)
		text, _ := res.Data["content"].(string)
		ch <- Chunk{Data: text, Done: true, Final: &res}
	}()
	return ch
}

// ToInfo implements Node.
func (n *StatelessLLMNode) ToInfo() Info { return n.toInfo() }

// StatefulLLMNode retains its transcript across Execute calls and runs a
// bounded tool-calling loop, dispatching tool calls to sibling ToolCapable
// nodes resolved through the owning session (spec.md §3.1, §4.4 Fork).
type StatefulLLMNode struct {
	*base
	client       modelclient.Client
	model        string
	system       string
	toolNodeIDs  []string
	maxToolRound int

	mu         sync.Mutex
	transcript []modelclient.Message
}

// NewStatefulLLM constructs a StatefulLLMNode. toolNodeIDs names sibling
// ToolCapable nodes whose Tools() are offered to the model; maxToolRounds <=
// 0 uses DefaultMaxToolRounds.
func NewStatefulLLM(id string, client modelclient.Client, model, system string, toolNodeIDs []string, maxToolRounds int) *StatefulLLMNode {
	if maxToolRounds <= 0 {
		maxToolRounds = DefaultMaxToolRounds
	}
	n := &StatefulLLMNode{
		base: newBase(id, "llm_stateful", true), client: client, model: model, system: system,
		toolNodeIDs: toolNodeIDs, maxToolRound: maxToolRounds,
	}
	n.setState(StateReady)
	return n
}

// Start is a no-op; the transcript is already in memory.
func (n *StatefulLLMNode) Start(context.Context) error { n.setState(StateReady); return nil }

// Stop clears no external resources but transitions state.
func (n *StatefulLLMNode) Stop(context.Context) error { n.setState(StateStopped); return nil }

func (n *StatefulLLMNode) resolveTools(session SessionView) ([]modelclient.ToolDefinition, map[string]ToolCapable) {
	var defs []modelclient.ToolDefinition
	owners := map[string]ToolCapable{}
	if session == nil {
		return defs, owners
	}
	for _, id := range n.toolNodeIDs {
		sib, ok := session.ResolveNode(id)
		if !ok {
			continue
		}
		tc, ok := sib.(ToolCapable)
		if !ok {
			continue
		}
		for _, td := range tc.Tools() {
			defs = append(defs, modelclient.ToolDefinition{Name: td.Name, Description: td.Description, InputSchema: td.Parameters})
			owners[td.Name] = tc
		}
	}
	return defs, owners
}

// Execute implements Node. Success keys: content, tool_calls, usage,
// messages_count, tool_rounds (spec.md §4.4).
func (n *StatefulLLMNode) Execute(ec ExecutionContext) Result {
	release, ok := n.lockForExecute()
	if !ok {
		return failure(string(toolerrors.NodeStopped), "llm node not ready", nil)
	}
	defer release(StateReady)

	prompt, _ := ec.Input.(string)

	n.mu.Lock()
	n.transcript = append(n.transcript, modelclient.Message{Role: modelclient.RoleUser, Parts: []modelclient.Part{modelclient.TextPart{Text: prompt}}})
	n.mu.Unlock()
	n.setMetadata("messages_count", n.transcriptLen())

	defs, owners := n.resolveTools(ec.Session)

	var last *modelclient.Response
	rounds := 0
	for ; rounds < n.maxToolRound; rounds++ {
		n.mu.Lock()
		req := modelclient.Request{Model: n.model, System: n.system, Messages: append([]modelclient.Message{}, n.transcript...), Tools: defs}
		n.mu.Unlock()

		resp, err := n.client.Complete(ec.Context, req)
		if err != nil {
			return failure(string(toolerrors.KindOf(err)), err.Error(), map[string]any{"tool_rounds": rounds, "messages_count": n.transcriptLen()})
		}
		last = resp

		n.mu.Lock()
		n.transcript = append(n.transcript, resp.Content...)
		n.mu.Unlock()

		if len(resp.ToolCalls) == 0 {
			break
		}

		results := make([]modelclient.Part, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			owner, ok := owners[tc.Name]
			if !ok {
				results = append(results, modelclient.ToolResultPart{ToolUseID: tc.ID, Content: fmt.Sprintf("unknown tool %q", tc.Name), IsError: true})
				continue
			}
			var args map[string]any
			_ = json.Unmarshal(tc.Input, &args)
			out, err := owner.CallTool(ec.Context, tc.Name, args)
			if err != nil {
				results = append(results, modelclient.ToolResultPart{ToolUseID: tc.ID, Content: err.Error(), IsError: true})
				continue
			}
			results = append(results, modelclient.ToolResultPart{ToolUseID: tc.ID, Content: out})
		}
		n.mu.Lock()
		n.transcript = append(n.transcript, modelclient.Message{Role: modelclient.RoleUser, Parts: results})
		n.mu.Unlock()
		n.setMetadata("messages_count", n.transcriptLen())
	}

	if last == nil {
		return failure(string(toolerrors.Internal), "model produced no response", nil)
	}
	data := responseData(last)
	data["tool_rounds"] = rounds
	data["messages_count"] = n.transcriptLen()
	if ec.History != nil {
		ec.History.Write(ec.Context, historywriter.Record{NodeID: n.id, Operation: historywriter.OpOutput, Payload: data})
	}
	return success(data)
}

// ExecuteStream runs Execute and emits the final text as a single chunk;
// the tool loop has no natural per-token streaming boundary at this layer.
func (n *StatefulLLMNode) ExecuteStream(ec ExecutionContext) <-chan Chunk {
	ch := make(chan Chunk, 1)
	go func() {
		res := n.Execute(ec)
		text, _ := res.Data["content"].(string)
		ch <- Chunk{Data: text, Done: true, Final: &res}
		close(ch)
	}()
	return ch
}

// ToInfo implements Node.
func (n *StatefulLLMNode) ToInfo() Info { return n.toInfo() }

// Fork duplicates the transcript into a new, independent StatefulLLMNode
// (spec.md §4.4 Fork).
func (n *StatefulLLMNode) Fork(ctx context.Context, newID string) (Node, error) {
	n.mu.Lock()
	transcriptCopy := append([]modelclient.Message{}, n.transcript...)
	n.mu.Unlock()

	forked := NewStatefulLLM(newID, n.client, n.model, n.system, n.toolNodeIDs, n.maxToolRound)
	forked.mu.Lock()
	forked.transcript = transcriptCopy
	forked.mu.Unlock()
	forked.setMetadata("messages_count", len(transcriptCopy))
	return forked, nil
}

// transcriptLen reports the current transcript length, surfaced as the
// messages_count metadata field for get_node / fork-independence checks
// (spec.md §8 property 7).
func (n *StatefulLLMNode) transcriptLen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transcript)
}
