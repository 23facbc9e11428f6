package parser

import "strings"

// Recognized markers for a generic "agentic CLI" transcript format: a
// thinking block delimited by markers, inline tool invocations, a trailing
// prompt-insert cursor, and a completion indicator. The exact marker syntax
// is a property of whichever CLI is attached to the terminal node; this
// parser recognizes one common shape and falls back to PassThrough section
// semantics for anything it doesn't understand, per the total-parse
// contract.
const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"
	toolOpen      = "<tool_use"
	toolClose     = "</tool_use>"
	promptCursor  = "\n> "
	busySpinner   = "⠋"
)

// CLIAware recognizes thinking blocks, tool invocations, prompt/insert
// markers, and completion indicators in an agentic CLI's terminal output.
type CLIAware struct {
	parserName string
}

// NewCLIAware constructs a CLIAware parser registered under name, so that
// ExecutionContext.Parser (or a graph step's parser override) can select it
// by name (spec.md §4.1, "Parser selection is per-call").
func NewCLIAware(name string) CLIAware {
	if name == "" {
		name = "cli_aware"
	}
	return CLIAware{parserName: name}
}

// Name implements Parser.
func (c CLIAware) Name() string { return c.parserName }

// Parse implements Parser. It never fails: unrecognized content degrades to
// a single text section with IsReady = IsComplete = true.
func (c CLIAware) Parse(raw string) ParsedResponse {
	if raw == "" {
		return ParsedResponse{Raw: raw, Sections: []Section{{Kind: SectionText}}, IsReady: true, IsComplete: true}
	}

	if strings.Contains(raw, busySpinner) && !strings.HasSuffix(strings.TrimRight(raw, "\n"), promptCursor) {
		// Still producing output for the current turn.
		return ParsedResponse{
			Raw:      raw,
			Sections: []Section{{Kind: SectionText, Content: raw}},
			IsReady:  false,
		}
	}

	var sections []Section
	rest := raw
	for {
		thinkStart := strings.Index(rest, thinkingOpen)
		toolStart := strings.Index(rest, toolOpen)

		switch {
		case thinkStart == -1 && toolStart == -1:
			if rest != "" {
				sections = append(sections, Section{Kind: SectionText, Content: rest})
			}
			rest = ""
		case thinkStart != -1 && (toolStart == -1 || thinkStart < toolStart):
			if thinkStart > 0 {
				sections = append(sections, Section{Kind: SectionText, Content: rest[:thinkStart]})
			}
			body := rest[thinkStart+len(thinkingOpen):]
			end := strings.Index(body, thinkingClose)
			if end == -1 {
				sections = append(sections, Section{Kind: SectionThinking, Content: body})
				rest = ""
				break
			}
			sections = append(sections, Section{Kind: SectionThinking, Content: body[:end]})
			rest = body[end+len(thinkingClose):]
		default:
			if toolStart > 0 {
				sections = append(sections, Section{Kind: SectionText, Content: rest[:toolStart]})
			}
			body := rest[toolStart+len(toolOpen):]
			end := strings.Index(body, toolClose)
			if end == -1 {
				sections = append(sections, Section{Kind: SectionToolUse, Content: body})
				rest = ""
				break
			}
			nameEnd := strings.Index(body, ">")
			meta := map[string]any{}
			if nameEnd != -1 && nameEnd < end {
				meta["tag"] = strings.TrimSpace(body[:nameEnd])
				sections = append(sections, Section{Kind: SectionToolUse, Content: body[nameEnd+1 : end], Metadata: meta})
			} else {
				sections = append(sections, Section{Kind: SectionToolUse, Content: body[:end], Metadata: meta})
			}
			rest = body[end+len(toolClose):]
		}
		if rest == "" {
			break
		}
	}

	if strings.HasSuffix(strings.TrimRight(raw, "\n"), strings.TrimSpace(promptCursor)) {
		sections = append(sections, Section{Kind: SectionPromptInsert})
	}
	if len(sections) == 0 {
		sections = []Section{{Kind: SectionText, Content: raw}}
	}

	return ParsedResponse{
		Raw:        raw,
		Sections:   sections,
		IsReady:    true,
		IsComplete: true,
	}
}
