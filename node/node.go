// Package node defines the polymorphic node operation contract (spec.md
// §3.1, §4.4) shared by every executable unit: BashNode, IdentityNode,
// FunctionNode, PTYNode, ExternalTerminalNode, ClaudeTerminalNode,
// StatelessLLMNode, StatefulLLMNode, and MCPNode. Rather than deep
// inheritance, every variant implements the same Node interface value; a
// "terminal" capability is an interface extension embedding Node
// (spec.md §9, "Deep inheritance and protocol duck-typing").
package node

import (
	"context"
	"sync"
	"time"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/parser"
)

// State is a node's lifecycle state (spec.md §3.1).
type State string

const (
	StateCreated  State = "CREATED"
	StateStarting State = "STARTING"
	StateReady    State = "READY"
	StateBusy     State = "BUSY"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

// SessionView is the minimal surface a node needs from its owning session —
// defined here (not imported from package session) so that session can
// depend on node without a cycle back.
type SessionView interface {
	// ID returns the owning session's name.
	ID() string
	// ResolveNode looks up a sibling node by id within the same session.
	ResolveNode(id string) (Node, bool)
}

// ExecutionContext carries everything an execute call needs beyond the
// node's own state (spec.md §4.4).
type ExecutionContext struct {
	Context context.Context
	Session SessionView
	Input   any
	Parser  parser.Parser
	Timeout time.Duration
	// History receives lifecycle/input/output/error records; nodes treat
	// this as a write-only sink (spec.md §4.3).
	History historywriter.Writer
	// Sink receives node-originated events (node_ready, output_chunk,
	// output_parsed); nil disables emission, matching history's write-only,
	// best-effort contract.
	Sink event.Sink
}

// Result is the mandatory-shape outcome of Execute (spec.md §4.4). The base
// fields are always present; node-type-specific keys live in Data.
type Result struct {
	Success   bool
	Error     string
	ErrorType string
	Data      map[string]any
}

// Info is a lifecycle/metadata snapshot (spec.md §4.4, ToInfo).
type Info struct {
	ID       string
	Type     string
	State    State
	Metadata map[string]any
}

// ToolDefinition is the immutable unit of LLM-exposed capability a node may
// expose (spec.md §3.1). A node may expose one (single-tool nodes) or many
// (MCP).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
	NodeID      string
}

// Chunk is one piece of a streamed execute_stream sequence.
type Chunk struct {
	Data  string
	Done  bool
	Final *Result // set on the terminal chunk only
}

// Node is the uniform operation contract every variant implements.
type Node interface {
	// ID returns the node's identifier, unique within its session.
	ID() string
	// Persistent reports whether the session must call Stop at teardown.
	Persistent() bool

	// Execute runs once against the node and never raises for expected
	// failures; unexpected panics are the dispatcher's concern, not the
	// node's. While executing, the node is BUSY.
	Execute(ec ExecutionContext) Result
	// ExecuteStream produces output chunks as they arrive. Nodes without a
	// natural streaming granularity emit a single chunk equal to the final
	// result.
	ExecuteStream(ec ExecutionContext) <-chan Chunk
	// Interrupt signals cancellation; safe to call from any state.
	Interrupt()
	// Start initializes persistent resources; a no-op for ephemeral nodes.
	Start(ctx context.Context) error
	// Stop tears down resources; a resource release for ephemeral nodes.
	Stop(ctx context.Context) error
	// ToInfo returns a lifecycle/metadata snapshot.
	ToInfo() Info

	// State returns the node's current lifecycle state.
	State() State
}

// ToolCapable is the interface extension for nodes that expose tools
// (spec.md §4.4, "Tool interface (uniform)").
type ToolCapable interface {
	Node
	Tools() []ToolDefinition
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Forkable is the interface extension for nodes that support Fork. Handlers
// must accept both synchronous and suspendable implementations, so Fork
// itself is synchronous here and long-running fork work (e.g. spawning a
// pane) happens inside it under ctx.
type Forkable interface {
	Node
	Fork(ctx context.Context, newID string) (Node, error)
}

// base centralizes the state machine, lock, and interrupt plumbing shared by
// every concrete variant so each variant file only implements its own I/O.
type base struct {
	id       string
	typeName string
	persist  bool

	mu    sync.Mutex
	state State

	metadata map[string]any

	interruptMu sync.Mutex
	interrupt   func()
}

func newBase(id, typeName string, persistent bool) *base {
	return &base{
		id:       id,
		typeName: typeName,
		persist:  persistent,
		state:    StateCreated,
		metadata: make(map[string]any),
	}
}

func (b *base) ID() string        { return b.id }
func (b *base) Persistent() bool  { return b.persist }
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// lockForExecute enforces single-writer execution (spec.md §5): only one
// execute/run/interrupt sequence may be in progress per node at a time. It
// requires the node be READY, transitions to BUSY, and returns a function
// that restores READY (or the given error state) on completion.
func (b *base) lockForExecute() (release func(next State), ok bool) {
	b.mu.Lock()
	if b.state != StateReady {
		ok := false
		cur := b.state
		b.mu.Unlock()
		_ = cur
		return nil, ok
	}
	b.state = StateBusy
	b.mu.Unlock()
	return func(next State) { b.setState(next) }, true
}

func (b *base) setMetadata(k string, v any) {
	b.mu.Lock()
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[k] = v
	b.mu.Unlock()
}

func (b *base) snapshotMetadata() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.metadata))
	for k, v := range b.metadata {
		out[k] = v
	}
	return out
}

func (b *base) toInfo() Info {
	return Info{ID: b.id, Type: b.typeName, State: b.State(), Metadata: b.snapshotMetadata()}
}

func (b *base) setInterrupt(fn func()) {
	b.interruptMu.Lock()
	b.interrupt = fn
	b.interruptMu.Unlock()
}

func (b *base) clearInterrupt() {
	b.setInterrupt(nil)
}

// Interrupt is safe to call from any state (spec.md §4.4).
func (b *base) Interrupt() {
	b.interruptMu.Lock()
	fn := b.interrupt
	b.interruptMu.Unlock()
	if fn != nil {
		fn()
	}
}

// ok result/error helpers shared by every variant.

func success(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Success: true, Data: data}
}

func failure(errType, msg string, data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Success: false, Error: msg, ErrorType: errType, Data: data}
}
