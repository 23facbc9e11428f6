package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/sessionregistry"
	"github.com/agentorch/agentserver/telemetry"
	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/toolerrors"
)

// handlerFunc is a single command handler. Returning a plain error lets
// Dispatch apply the shared classification/event-emission policy (spec.md
// §4.7, "Error mapping").
type handlerFunc func(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error)

// Dispatcher routes typed Commands to handler methods and applies the
// shared error-mapping policy (spec.md §4.7). Grounded on
// `runtime/agent/runtime/handlers.go` (typed handler-per-command-kind) and
// `runtime/agent/runtime/runtime.go` (registration surface, error
// classification into public vs internal failures).
type Dispatcher struct {
	registry *sessionregistry.Registry
	proxies  *proxy.Manager
	mux      terminalbackend.Multiplexer
	clients  *modelclient.Registry
	sink     event.Sink
	logger   telemetry.Logger

	serverName    string
	defaultHist   session.HistoryConfig
	maxToolRounds int

	mu           sync.Mutex
	graphCancels map[string]context.CancelFunc
	python       *pythonExecutors

	handlers map[Type]handlerFunc
}

// Config configures a Dispatcher at construction.
type Config struct {
	ServerName     string
	Registry       *sessionregistry.Registry
	Proxies        *proxy.Manager
	Multiplexer    terminalbackend.Multiplexer
	ModelClients   *modelclient.Registry
	Sink           event.Sink
	Logger         telemetry.Logger
	DefaultHistory session.HistoryConfig
}

// New constructs a Dispatcher and registers every command handler.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Sink == nil {
		cfg.Sink = event.NewInProcSink()
	}
	d := &Dispatcher{
		registry:     cfg.Registry,
		proxies:      cfg.Proxies,
		mux:          cfg.Multiplexer,
		clients:      cfg.ModelClients,
		sink:         cfg.Sink,
		logger:       cfg.Logger,
		serverName:   cfg.ServerName,
		defaultHist:  cfg.DefaultHistory,
		graphCancels: make(map[string]context.CancelFunc),
		python:       newPythonExecutors(),
	}
	d.handlers = map[Type]handlerFunc{
		CreateNode:    handleCreateNode,
		DeleteNode:    handleDeleteNode,
		ListNodes:     handleListNodes,
		GetNode:       handleGetNode,
		ExecuteInput:  handleExecuteInput,
		RunCommand:    handleRunCommand,
		SendInterrupt: handleSendInterrupt,
		WriteRaw:      handleWriteRaw,
		ReadBuffer:    handleReadBuffer,
		ReadHistory:   handleReadHistory,
		ForkNode:      handleForkNode,
		CallTool:      handleCallTool,

		ExecutePython: handleExecutePython,

		ShowGraph:     handleShowGraph,
		DryRunGraph:   handleDryRunGraph,
		ValidateGraph: handleValidateGraph,
		ListEntities:  handleListEntities,

		CreateGraph:  handleCreateGraph,
		DeleteGraph:  handleDeleteGraph,
		ExecuteGraph: handleExecuteGraph,
		RunGraph:     handleRunGraph,
		CancelGraph:  handleCancelGraph,
		ListGraphs:   handleListGraphs,
		GetGraph:     handleGetGraph,

		CreateSession: handleCreateSession,
		DeleteSession: handleDeleteSession,
		ListSessions:  handleListSessions,
		GetSession:    handleGetSessionCmd,

		ExecuteWorkflow:  handleExecuteWorkflow,
		ListWorkflows:    handleListWorkflows,
		GetWorkflowRun:   handleGetWorkflowRun,
		ListWorkflowRuns: handleListWorkflowRuns,
		AnswerGate:       handleAnswerGate,
		CancelWorkflow:   handleCancelWorkflow,

		Stop: handleStop,
		Ping: handlePing,
	}
	return d
}

// Dispatch routes cmd to its handler and applies the shared error-mapping
// and panic-recovery policy (spec.md §4.7, §7). It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal: %v", r)
			d.logger.Error(ctx, "dispatcher recovered panic", "type", cmd.Type, "panic", r)
			d.publishError(ctx, "", err)
			resp = errResponse("Internal: " + err.Error())
			resp.RequestID = cmd.RequestID
		}
	}()

	h, ok := d.handlers[cmd.Type]
	if !ok {
		resp = errResponse(fmt.Sprintf("unknown command type %q", cmd.Type))
		resp.RequestID = cmd.RequestID
		return resp
	}

	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}

	data, err := h(ctx, d, params)
	if err != nil {
		r, emitEvent := toResponse(err)
		if emitEvent {
			d.publishError(ctx, "", err)
		}
		r.RequestID = cmd.RequestID
		return r
	}
	out := ok(data)
	out.RequestID = cmd.RequestID
	return out
}

func (d *Dispatcher) publishError(ctx context.Context, nodeID string, err error) {
	kind := toolerrors.KindOf(err)
	_ = d.sink.Send(ctx, event.New(event.TypeError, nodeID, "", "", map[string]any{
		"error": err.Error(), "kind": string(kind),
	}))
}
