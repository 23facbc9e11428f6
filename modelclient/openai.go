package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/agentorch/agentserver/toolerrors"
)

// ChatClient is the subset of the OpenAI SDK this adapter needs, satisfied
// by *openai.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIClient implements Client against OpenAI Chat Completions; it is the
// transform proxy target for nodes whose tooling expects an OpenAI-shaped
// wire format (spec.md §4.5 proxy, transform mode).
type OpenAIClient struct {
	chat         ChatClient
	defaultModel string
}

// NewOpenAI wraps an existing Chat Completions client.
func NewOpenAI(chat ChatClient, defaultModel string) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("modelclient: openai chat client required")
	}
	if defaultModel == "" {
		return nil, errors.New("modelclient: openai default model required")
	}
	return &OpenAIClient{chat: chat, defaultModel: defaultModel}, nil
}

// NewOpenAIFromAPIKey builds a client directly from an API key.
func NewOpenAIFromAPIKey(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelclient: openai api key required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(&c.Chat.Completions, defaultModel)
}

func (c *OpenAIClient) params(req Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("modelclient: messages required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		text := flattenText(m.Parts)
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(text))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(text))
		case RoleSystem:
			if text != "" {
				msgs = append(msgs, openai.SystemMessage(text))
			}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  shared.FunctionParameters(t.InputSchema),
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

// flattenText collapses text/tool-result parts into a single string; the
// OpenAI Chat Completions wire format has no multi-part content union for
// plain chat messages the way Anthropic does.
func flattenText(parts []Part) string {
	out := ""
	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			out += v.Text
		case ToolResultPart:
			out += v.Content
		}
	}
	return out
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	completion, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	return translateOpenAI(completion), nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyOpenAIErr(err)
	}
	return &openaiStreamer{stream: stream}, nil
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
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

func translateOpenAI(c *openai.ChatCompletion) *Response {
	resp := &Response{}
	if len(c.Choices) == 0 {
		return resp
	}
	choice := c.Choices[0]
	resp.StopReason = string(choice.FinishReason)
	if text := choice.Message.Content; text != "" {
		resp.Content = append(resp.Content, Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}})
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{
			ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	resp.Usage = Usage{InputTokens: int(c.Usage.PromptTokens), OutputTokens: int(c.Usage.CompletionTokens)}
	return resp
}

type openaiStreamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStreamer) Recv() (Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return Chunk{}, classifyOpenAIErr(err)
		}
		return Chunk{}, io.EOF
	}
	cur := s.stream.Current()
	if len(cur.Choices) == 0 {
		return Chunk{Type: ChunkText}, nil
	}
	delta := cur.Choices[0].Delta
	if delta.Content != "" {
		return Chunk{Type: ChunkText, Text: delta.Content}, nil
	}
	if len(delta.ToolCalls) > 0 {
		tc := delta.ToolCalls[0]
		return Chunk{Type: ChunkToolCall, ToolCall: &ToolUsePart{ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments)}}, nil
	}
	if reason := cur.Choices[0].FinishReason; reason != "" {
		return Chunk{Type: ChunkStop, StopReason: string(reason)}, nil
	}
	return Chunk{Type: ChunkText}, nil
}

func (s *openaiStreamer) Close() error { return s.stream.Close() }
