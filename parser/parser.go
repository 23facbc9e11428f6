// Package parser turns a terminal node's raw buffer into a structured
// ParsedResponse. Parsers are pure, stateless transformers: Parse never
// fails, and on unrecognized content it returns a single "text" section
// covering the whole input with IsReady and IsComplete both true.
package parser

// SectionKind classifies a parsed section of terminal output.
type SectionKind string

const (
	// SectionText is a plain-text section (the fallback kind).
	SectionText SectionKind = "text"
	// SectionThinking is a CLI "thinking" block.
	SectionThinking SectionKind = "thinking"
	// SectionToolUse is a recognized tool invocation.
	SectionToolUse SectionKind = "tool_use"
	// SectionPromptInsert is a recognized prompt/insert marker (the CLI is
	// waiting on further input mid-turn).
	SectionPromptInsert SectionKind = "prompt_insert"
)

type (
	// Section is one classified region of a parsed buffer.
	Section struct {
		Kind     SectionKind
		Content  string
		Metadata map[string]any
	}

	// ParsedResponse is the immutable result of parsing a raw terminal
	// buffer. Parse(p.Parse(raw).Raw) must equal p.Parse(raw) (idempotent on
	// the Raw field, spec.md §8 property 6).
	ParsedResponse struct {
		Raw        string
		Sections   []Section
		Tokens     *int
		IsReady    bool
		IsComplete bool
	}

	// Parser is a stateless transformer from raw buffer to ParsedResponse.
	// Implementations must never panic on malformed input; degrade to a
	// single text section instead.
	Parser interface {
		// Name identifies the parser for selection by ExecutionContext.Parser
		// and for per-step graph overrides.
		Name() string
		// Parse classifies raw terminal output. IsReady = false signals the
		// terminal is still producing output for the current turn (e.g. a
		// spinner is still visible); the terminal node's execute treats that
		// as "not yet" and keeps polling.
		Parse(raw string) ParsedResponse
	}
)

// PassThrough is the generic parser: it never recognizes structure and
// always returns a single ready, complete text section.
type PassThrough struct{}

// Name implements Parser.
func (PassThrough) Name() string { return "pass_through" }

// Parse implements Parser.
func (PassThrough) Parse(raw string) ParsedResponse {
	return ParsedResponse{
		Raw: raw,
		Sections: []Section{{
			Kind:    SectionText,
			Content: raw,
		}},
		IsReady:    true,
		IsComplete: true,
	}
}
