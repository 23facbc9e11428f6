package node

import (
	"context"
	"fmt"

	"github.com/agentorch/agentserver/parser"
	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/toolerrors"
)

// ClaudeTerminalNode specializes ExternalTerminalNode for a CLI that
// supports native session resume/fork (spec.md §3.1, §4.4 Fork). It tracks
// the CLI-internal session id returned by the tool itself, distinct from
// the node's own id.
type ClaudeTerminalNode struct {
	*ExternalTerminalNode

	mux         terminalbackend.Multiplexer
	command     []string
	env         []string
	cliSessionID string
}

// NewClaudeTerminal constructs a ClaudeTerminalNode already attached to a
// running pane. cliSessionID is the identifier the CLI assigned to its own
// conversation state, used by Fork to resume it under a new id.
func NewClaudeTerminal(id string, backend *terminalbackend.ExternalBackend, mux terminalbackend.Multiplexer, command, env []string, cliSessionID string, defaultParser parser.Parser) *ClaudeTerminalNode {
	ext := NewExternalTerminal(id, backend, defaultParser)
	ext.setMetadata("cli_session_id", cliSessionID)
	return &ClaudeTerminalNode{
		ExternalTerminalNode: ext,
		mux:                  mux,
		command:              command,
		env:                  env,
		cliSessionID:         cliSessionID,
	}
}

// Fork spawns a new pane running the same CLI with
// "--resume <id> --fork-session --session-id <newID>", producing an
// independent ClaudeTerminalNode that continues from the same transcript
// (spec.md §4.4 Fork; §9 open question on cross-session fork resolved by
// scoping fork to within the owning session only — see DESIGN.md).
func (n *ClaudeTerminalNode) Fork(ctx context.Context, newID string) (Node, error) {
	if n.cliSessionID == "" {
		return nil, toolerrors.New(toolerrors.InvalidRequest, "fork claude terminal: no cli session id to resume")
	}

	forkedArgs := append(append([]string{}, n.command[1:]...),
		"--resume", n.cliSessionID, "--fork-session", "--session-id", newID)

	paneID, err := n.mux.SpawnPane(ctx, n.command[0], forkedArgs, n.env)
	if err != nil {
		return nil, fmt.Errorf("fork claude terminal: %w", err)
	}

	backend := terminalbackend.AttachExternal(n.mux, paneID, terminalbackend.Options{})
	forked := NewClaudeTerminal(newID, backend, n.mux, n.command, n.env, newID, n.defaultParse)
	if err := forked.Start(ctx); err != nil {
		_ = backend.Stop(ctx)
		return nil, fmt.Errorf("fork claude terminal: %w", err)
	}
	return forked, nil
}
