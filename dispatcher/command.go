// Package dispatcher implements the typed command dispatcher (spec.md
// §4.7, §6.1): every command enters as {type, params, request_id} and
// returns {success, data|error, request_id}.
package dispatcher

// Type enumerates the command catalogue (spec.md §6.2).
type Type string

const (
	// Node lifecycle.
	CreateNode Type = "create_node"
	DeleteNode Type = "delete_node"
	ListNodes  Type = "list_nodes"
	GetNode    Type = "get_node"

	// Node interaction.
	ExecuteInput  Type = "execute_input"
	RunCommand    Type = "run_command"
	SendInterrupt Type = "send_interrupt"
	WriteRaw      Type = "write_raw"
	ReadBuffer    Type = "read_buffer"
	ReadHistory   Type = "read_history"
	ForkNode      Type = "fork_node"
	CallTool      Type = "call_tool"

	// Python execution.
	ExecutePython Type = "execute_python"

	// REPL meta-commands.
	ShowGraph     Type = "show_graph"
	DryRunGraph   Type = "dry_run_graph"
	ValidateGraph Type = "validate_graph"
	ListEntities  Type = "list_entities"

	// Graph.
	CreateGraph  Type = "create_graph"
	DeleteGraph  Type = "delete_graph"
	ExecuteGraph Type = "execute_graph"
	RunGraph     Type = "run_graph"
	CancelGraph  Type = "cancel_graph"
	ListGraphs   Type = "list_graphs"
	GetGraph     Type = "get_graph"

	// Session.
	CreateSession Type = "create_session"
	DeleteSession Type = "delete_session"
	ListSessions  Type = "list_sessions"
	GetSession    Type = "get_session"

	// Workflow.
	ExecuteWorkflow  Type = "execute_workflow"
	ListWorkflows    Type = "list_workflows"
	GetWorkflowRun   Type = "get_workflow_run"
	ListWorkflowRuns Type = "list_workflow_runs"
	AnswerGate       Type = "answer_gate"
	CancelWorkflow   Type = "cancel_workflow"

	// Server.
	Stop Type = "stop"
	Ping Type = "ping"
)

// Command is one request entering the dispatcher (spec.md §6.1).
type Command struct {
	Type      Type
	Params    map[string]any
	RequestID any
}

// Response is what every handler returns (spec.md §6.1).
type Response struct {
	Success   bool
	Data      map[string]any
	Error     string
	RequestID any
}

func ok(data map[string]any) Response {
	if data == nil {
		data = map[string]any{}
	}
	return Response{Success: true, Data: data}
}

func errResponse(msg string) Response {
	return Response{Success: false, Error: msg}
}
