package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentorch/agentserver/toolerrors"
)

// MessagesClient is the subset of the Anthropic SDK client this adapter
// needs, satisfied by *sdk.MessageService and mockable in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client against the Anthropic Messages API; it
// is the pass-through provider nodes target when their CLI speaks the
// Anthropic wire format directly.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
}

// NewAnthropic wraps an existing Messages client.
func NewAnthropic(msg MessagesClient, defaultModel string) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("modelclient: anthropic messages client required")
	}
	if defaultModel == "" {
		return nil, errors.New("modelclient: anthropic default model required")
	}
	return &AnthropicClient{msg: msg, defaultModel: defaultModel}, nil
}

// NewAnthropicFromAPIKey builds a client directly from an API key.
func NewAnthropicFromAPIKey(apiKey, defaultModel string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelclient: anthropic api key required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&c.Messages, defaultModel)
}

func (c *AnthropicClient) params(req Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelclient: messages required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case ToolUsePart:
				var input any
				_ = json.Unmarshal(v.Input, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("modelclient: at least one user/assistant message required")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		toolParams := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}, t.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(t.Description)
			}
			toolParams = append(toolParams, u)
		}
		params.Tools = toolParams
	}
	if req.Thinking != nil && req.Thinking.Enable && req.Thinking.BudgetTokens > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Thinking.BudgetTokens))
	}
	return &params, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}
	return translateAnthropic(msg), nil
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicErr(err)
	}
	return newAnthropicStreamer(ctx, stream), nil
}

func classifyAnthropicErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return toolerrors.Wrap(toolerrors.RateLimit, err)
		case 401, 403:
			return toolerrors.Wrap(toolerrors.Authentication, err)
		}
	}
	return toolerrors.Wrap(toolerrors.API, err)
}

func translateAnthropic(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Content = append(resp.Content, Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: block.Text}}})
			}
		case "thinking":
			resp.Content = append(resp.Content, Message{Role: RoleAssistant, Parts: []Part{ThinkingPart{Text: block.Thinking, Signature: block.Signature}}})
		case "tool_use":
			payload, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{ID: block.ID, Name: block.Name, Input: payload})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = Usage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)}
	}
	return resp
}

// anthropicStreamer adapts the Anthropic SSE stream into a Streamer.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan Chunk

	mu       sync.Mutex
	finalErr error
}

func newAnthropicStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *anthropicStreamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStreamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan Chunk, 32)}
	go s.run()
	return s
}

func (s *anthropicStreamer) run() {
	defer close(s.chunks)

	toolNames := map[int64]string{}
	toolIDs := map[int64]string{}

	for s.stream.Next() {
		switch ev := s.stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolNames[ev.Index] = tu.Name
				toolIDs[ev.Index] = tu.ID
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					s.chunks <- Chunk{Type: ChunkText, Text: delta.Text}
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					s.chunks <- Chunk{Type: ChunkThinking, Text: delta.Thinking}
				}
			}
		case sdk.ContentBlockStopEvent:
			if name, ok := toolNames[ev.Index]; ok {
				s.chunks <- Chunk{Type: ChunkToolCall, ToolCall: &ToolUsePart{ID: toolIDs[ev.Index], Name: name}}
				delete(toolNames, ev.Index)
				delete(toolIDs, ev.Index)
			}
		case sdk.MessageDeltaEvent:
			s.chunks <- Chunk{Type: ChunkUsage, Usage: &Usage{OutputTokens: int(ev.Usage.OutputTokens)}, StopReason: string(ev.Delta.StopReason)}
		case sdk.MessageStopEvent:
			s.chunks <- Chunk{Type: ChunkStop}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.mu.Lock()
		s.finalErr = err
		s.mu.Unlock()
	}
}

func (s *anthropicStreamer) Recv() (Chunk, error) {
	select {
	case ch, ok := <-s.chunks:
		if ok {
			return ch, nil
		}
		s.mu.Lock()
		err := s.finalErr
		s.mu.Unlock()
		if err != nil {
			return Chunk{}, classifyAnthropicErr(err)
		}
		return Chunk{}, io.EOF
	case <-s.ctx.Done():
		return Chunk{}, s.ctx.Err()
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
