package dispatcher

import (
	"context"
	"time"

	"github.com/agentorch/agentserver/toolerrors"
	"github.com/agentorch/agentserver/workflow"
)

func handleExecuteWorkflow(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	wfID, err := requireString(params, "workflow_id")
	if err != nil {
		return nil, err
	}
	input := params["input"]
	wait := optBool(params, "wait", true)

	run, err := sess.ExecuteWorkflow(ctx, wfID, input)
	if err != nil {
		return nil, err
	}

	if !wait {
		snap := run.Snapshot()
		return map[string]any{"run_id": run.ID, "state": string(snap.State)}, nil
	}

	snap, err := workflow.Wait(ctx, run, 10*time.Millisecond)
	if err != nil {
		return nil, toolerrors.Wrap(toolerrors.Interrupted, err)
	}
	out := map[string]any{"run_id": run.ID, "state": string(snap.State)}
	if snap.State == workflow.RunCompleted {
		out["result"] = snap.Result
	}
	if snap.State == workflow.RunFailed {
		out["error"] = snap.Error
	}
	return out, nil
}

func handleListWorkflows(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{"workflows": sess.ListWorkflows()}, nil
}

func snapshotToMap(s workflow.Snapshot) map[string]any {
	out := map[string]any{
		"run_id": s.ID, "workflow_id": s.WorkflowID, "state": string(s.State),
		"started_at": s.StartedAt, "finished_at": s.FinishedAt,
	}
	if s.Error != "" {
		out["error"] = s.Error
	}
	if s.State == workflow.RunCompleted {
		out["result"] = s.Result
	}
	if s.GatePrompt != "" {
		out["gate_prompt"] = s.GatePrompt
		out["gate_choices"] = s.GateChoices
	}
	return out
}

func handleGetWorkflowRun(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	runID, err := requireString(params, "run_id")
	if err != nil {
		return nil, err
	}
	run, ok := sess.Runtime().Get(runID)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "run %q not found", runID)
	}
	return snapshotToMap(run.Snapshot()), nil
}

func handleListWorkflowRuns(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	snaps := sess.Runtime().List()
	out := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotToMap(s))
	}
	return map[string]any{"runs": out}, nil
}

func handleAnswerGate(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	runID, err := requireString(params, "run_id")
	if err != nil {
		return nil, err
	}
	answer, err := requireString(params, "answer")
	if err != nil {
		return nil, err
	}
	run, ok := sess.Runtime().Get(runID)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "run %q not found", runID)
	}
	if err := run.AnswerGate(answer); err != nil {
		kind := toolerrors.KindOf(err)
		if err == workflow.ErrChoiceRejected {
			kind = toolerrors.InvalidRequest
		}
		return nil, toolerrors.Wrap(kind, err)
	}
	return map[string]any{"success": true}, nil
}

func handleCancelWorkflow(ctx context.Context, d *Dispatcher, params map[string]any) (map[string]any, error) {
	sess, err := d.sessionFor(params)
	if err != nil {
		return nil, err
	}
	runID, err := requireString(params, "run_id")
	if err != nil {
		return nil, err
	}
	run, ok := sess.Runtime().Get(runID)
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "run %q not found", runID)
	}
	run.Cancel()
	return map[string]any{"cancelled": true}, nil
}
