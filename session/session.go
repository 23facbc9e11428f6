// Package session implements the Session container (spec.md §3.1, §3.2):
// a namespace of mutually-unique node/graph/workflow identifiers, history
// configuration, and teardown that stops every persistent child.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentorch/agentserver/graph"
	"github.com/agentorch/agentserver/historywriter"
	"github.com/agentorch/agentserver/node"
	"github.com/agentorch/agentserver/telemetry"
	"github.com/agentorch/agentserver/toolerrors"
	"github.com/agentorch/agentserver/workflow"
)

// HistoryConfig controls whether and where node history is recorded
// (spec.md §3.1, "configuration for history logging").
type HistoryConfig struct {
	Enabled bool
	BaseDir string
}

// Session owns node, graph, and workflow namespaces that share one
// identifier space (spec.md §3.1: "Owns mutually-unique identifiers (nodes
// + graphs + workflows share one namespace)").
type Session struct {
	name      string
	server    string
	history   HistoryConfig
	logger    telemetry.Logger
	historyW  historywriter.Writer
	createdAt time.Time

	mu        sync.RWMutex
	nodes     map[string]node.Node
	graphs    map[string]*graph.Graph
	workflows map[string]*workflow.Workflow
	runtime   *workflow.Runtime

	closed bool
}

// New constructs an empty Session named name under server, with history
// writing controlled by hist (spec.md §3.1, §6.4).
func New(name, server string, hist HistoryConfig, runtime *workflow.Runtime, logger telemetry.Logger) *Session {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Session{
		name:      name,
		server:    server,
		history:   hist,
		logger:    logger,
		createdAt: time.Now().UTC(),
		nodes:     make(map[string]node.Node),
		graphs:    make(map[string]*graph.Graph),
		workflows: make(map[string]*workflow.Workflow),
		runtime:   runtime,
	}
	if hist.Enabled {
		s.historyW = historywriter.NewFileWriter(hist.BaseDir, server, name, logger)
	}
	return s
}

// ID implements node.SessionView; a session's name is its identifier.
func (s *Session) ID() string { return s.name }

// HistoryWriter returns the session's writer, or nil if history is disabled.
func (s *Session) HistoryWriter() historywriter.Writer { return s.historyW }

// Runtime returns the session's workflow runtime, used by the dispatcher to
// look up and enumerate runs by id (spec.md §4.6, §6.2 get_workflow_run /
// list_workflow_runs).
func (s *Session) Runtime() *workflow.Runtime { return s.runtime }

// HistoryDir returns the directory node history is written under for
// nodeID, and whether history logging is enabled for this session at all
// (spec.md §6.4).
func (s *Session) HistoryDir(nodeID string) (dir string, enabled bool) {
	if !s.history.Enabled {
		return "", false
	}
	return historywriter.NodeDir(s.history.BaseDir, s.server, s.name, nodeID), true
}

func (s *Session) nameTaken(id string) bool {
	if _, ok := s.nodes[id]; ok {
		return true
	}
	if _, ok := s.graphs[id]; ok {
		return true
	}
	if _, ok := s.workflows[id]; ok {
		return true
	}
	return false
}

// AddNode registers n under the session's shared namespace (spec.md §3.2).
func (s *Session) AddNode(n node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(n.ID()) {
		return toolerrors.Newf(toolerrors.InvalidRequest, "id %q already in use in session %q", n.ID(), s.name)
	}
	s.nodes[n.ID()] = n
	return nil
}

// RemoveNode deletes and, if persistent, stops node id (spec.md §3.2).
func (s *Session) RemoveNode(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return toolerrors.Newf(toolerrors.InvalidRequest, "node %q not found", id)
	}
	delete(s.nodes, id)
	s.mu.Unlock()

	if n.Persistent() {
		return n.Stop(ctx)
	}
	return nil
}

// ResolveNode implements node.SessionView and graph.Resolver/workflow.Resolver.
func (s *Session) ResolveNode(id string) (node.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// GetNode returns node id, or false.
func (s *Session) GetNode(id string) (node.Node, bool) { return s.ResolveNode(id) }

// ListNodes returns every node's Info snapshot.
func (s *Session) ListNodes() []node.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]node.Info, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.ToInfo())
	}
	return out
}

// AddGraph registers g under the session's shared namespace.
func (s *Session) AddGraph(g *graph.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(g.ID) {
		return toolerrors.Newf(toolerrors.InvalidRequest, "id %q already in use in session %q", g.ID, s.name)
	}
	s.graphs[g.ID] = g
	return nil
}

// GetGraph returns graph id, or false.
func (s *Session) GetGraph(id string) (*graph.Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[id]
	return g, ok
}

// RemoveGraph deletes graph id.
func (s *Session) RemoveGraph(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return toolerrors.Newf(toolerrors.InvalidRequest, "graph %q not found", id)
	}
	delete(s.graphs, id)
	return nil
}

// ListGraphs returns every stored graph's id.
func (s *Session) ListGraphs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		out = append(out, id)
	}
	return out
}

// AddWorkflow registers wf under the session's shared namespace.
func (s *Session) AddWorkflow(wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(wf.ID) {
		return toolerrors.Newf(toolerrors.InvalidRequest, "id %q already in use in session %q", wf.ID, s.name)
	}
	s.workflows[wf.ID] = wf
	return nil
}

// GetWorkflow returns workflow id, or false.
func (s *Session) GetWorkflow(id string) (*workflow.Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	return wf, ok
}

// ListWorkflows returns every stored workflow's id.
func (s *Session) ListWorkflows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		out = append(out, id)
	}
	return out
}

// ExecuteWorkflow starts wfID as a new Run (spec.md §4.6).
func (s *Session) ExecuteWorkflow(ctx context.Context, wfID string, input any) (*workflow.Run, error) {
	wf, ok := s.GetWorkflow(wfID)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "workflow %q not found", wfID)
	}
	return s.runtime.Start(ctx, wf, s, s.name, input), nil
}

// Teardown stops every persistent node and closes the history writer
// (spec.md §3.1: "destroyed ... at which point all persistent children are
// stopped and all per-node proxies are released"; proxy release is the
// caller's concern since proxies are owned by proxy.Manager, not Session).
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	nodes := make([]node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.nodes = make(map[string]node.Node)
	s.mu.Unlock()

	var firstErr error
	for _, n := range nodes {
		if !n.Persistent() {
			continue
		}
		if err := n.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.historyW != nil {
		if err := s.historyW.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
