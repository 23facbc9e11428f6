package proxy

import (
	"encoding/json"

	"github.com/agentorch/agentserver/modelclient"
)

// anthropicMessage mirrors the wire shape of the Anthropic Messages API that
// every terminal-backed CLI this proxy fronts already speaks natively
// (spec.md §4.8: "the internal Anthropic-compatible wire format").
type anthropicMessage struct {
	Role    string            `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// toRequest converts a decoded wire request into the provider-agnostic
// modelclient.Request, overriding the model with upstreamModel when set
// (spec.md §4.8, "the transform proxy... substitutes the configured
// upstream model").
func (a anthropicRequest) toRequest(upstreamModel string) modelclient.Request {
	model := a.Model
	if upstreamModel != "" {
		model = upstreamModel
	}
	req := modelclient.Request{
		Model:       model,
		System:      a.System,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
	}
	for _, m := range a.Messages {
		req.Messages = append(req.Messages, modelclient.Message{
			Role:  modelclient.Role(m.Role),
			Parts: partsFromWire(m.Content),
		})
	}
	for _, t := range a.Tools {
		req.Tools = append(req.Tools, modelclient.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	if a.ToolChoice != nil {
		req.ToolChoice = &modelclient.ToolChoice{
			Mode: modelclient.ToolChoiceMode(a.ToolChoice.Type),
			Name: a.ToolChoice.Name,
		}
	}
	return req
}

func partsFromWire(blocks []anthropicContent) []modelclient.Part {
	parts := make([]modelclient.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, modelclient.TextPart{Text: b.Text})
		case "thinking":
			parts = append(parts, modelclient.ThinkingPart{Text: b.Text, Signature: b.Signature})
		case "tool_use":
			parts = append(parts, modelclient.ToolUsePart{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			parts = append(parts, modelclient.ToolResultPart{ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError})
		}
	}
	return parts
}

func partsToWire(parts []modelclient.Part) []anthropicContent {
	blocks := make([]anthropicContent, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case modelclient.TextPart:
			blocks = append(blocks, anthropicContent{Type: "text", Text: v.Text})
		case modelclient.ThinkingPart:
			blocks = append(blocks, anthropicContent{Type: "thinking", Text: v.Text, Signature: v.Signature})
		case modelclient.ToolUsePart:
			blocks = append(blocks, anthropicContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Input})
		case modelclient.ToolResultPart:
			blocks = append(blocks, anthropicContent{Type: "tool_result", ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError})
		}
	}
	return blocks
}

// responseFromResult converts a provider-agnostic Response back into the
// Anthropic wire shape the calling CLI expects.
func responseFromResult(model string, res *modelclient.Response) anthropicResponse {
	var blocks []anthropicContent
	for _, m := range res.Content {
		blocks = append(blocks, partsToWire(m.Parts)...)
	}
	for _, tc := range res.ToolCalls {
		blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Input})
	}
	return anthropicResponse{
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: res.StopReason,
		Usage: anthropicUsage{
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
		},
	}
}

// sseEvent renders one Anthropic-style server-sent-event frame.
func sseEvent(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := append([]byte("event: "+event+"\ndata: "), body...)
	out = append(out, []byte("\n\n")...)
	return out, nil
}

func chunkToWireEvent(c modelclient.Chunk) (string, any) {
	switch c.Type {
	case modelclient.ChunkText:
		return "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": c.Text},
		}
	case modelclient.ChunkThinking:
		return "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "thinking_delta", "thinking": c.Text},
		}
	case modelclient.ChunkToolCall:
		return "content_block_start", map[string]any{
			"type": "content_block_start",
			"content_block": anthropicContent{
				Type: "tool_use", ID: c.ToolCall.ID, Name: c.ToolCall.Name, Input: c.ToolCall.Input,
			},
		}
	case modelclient.ChunkUsage:
		return "message_delta", map[string]any{
			"type":  "message_delta",
			"usage": anthropicUsage{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens},
		}
	default:
		return "message_stop", map[string]any{"type": "message_stop", "stop_reason": c.StopReason}
	}
}
