package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/agentorch/agentserver/toolerrors"
)

// RuntimeClient is the subset of the Bedrock runtime client this adapter
// needs, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockClient implements Client on top of AWS Bedrock Converse; it is the
// transform proxy target for nodes whose tooling expects a Bedrock-shaped
// wire format (spec.md §4.5 proxy, transform mode).
type BedrockClient struct {
	runtime      RuntimeClient
	defaultModel string
}

// NewBedrock wraps an existing Bedrock runtime client.
func NewBedrock(runtime RuntimeClient, defaultModel string) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("modelclient: bedrock runtime client required")
	}
	if defaultModel == "" {
		return nil, errors.New("modelclient: bedrock default model required")
	}
	return &BedrockClient{runtime: runtime, defaultModel: defaultModel}, nil
}

func (c *BedrockClient) convert(req Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelclient: messages required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	var system []brtypes.SystemContentBlock
	if req.System != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.System})
	}

	for _, m := range req.Messages {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case ToolUsePart:
				var input any
				_ = json.Unmarshal(v.Input, &input)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:      aws.String(v.Name),
					ToolUseId: aws.String(v.ID),
					Input:     document.NewLazyDocument(&input),
				}})
			case ToolResultPart:
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(v.ToolUseID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{Role: role, Content: blocks})
	}
	if len(messages) == 0 {
		return nil, errors.New("modelclient: at least one user/assistant message required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if len(req.Tools) > 0 {
		toolList := make([]brtypes.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := any(t.InputSchema)
			toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schema)},
			}})
		}
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: toolList}
	}
	var cfg brtypes.InferenceConfiguration
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(req.Temperature))
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = &cfg
	}
	return input, nil
}

// Complete implements Client.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	input, err := c.convert(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyBedrockErr(err)
	}
	return translateBedrock(out), nil
}

// Stream implements Client.
func (c *BedrockClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	input, err := c.convert(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId: input.ModelId, Messages: input.Messages, System: input.System,
		ToolConfig: input.ToolConfig, InferenceConfig: input.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, classifyBedrockErr(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("modelclient: bedrock stream output missing event stream")
	}
	return newBedrockStreamer(stream), nil
}

func classifyBedrockErr(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return toolerrors.Wrap(toolerrors.RateLimit, err)
		case "AccessDeniedException", "UnauthorizedException":
			return toolerrors.Wrap(toolerrors.Authentication, err)
		}
	}
	return toolerrors.Wrap(toolerrors.API, err)
}

func translateBedrock(out *bedrockruntime.ConverseOutput) *Response {
	resp := &Response{StopReason: string(out.StopReason)}
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					resp.Content = append(resp.Content, Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: v.Value}}})
				}
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				payload := decodeBedrockDocument(v.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, ToolUsePart{ID: id, Name: name, Input: payload})
			}
		}
	}
	if out.Usage != nil {
		resp.Usage = Usage{InputTokens: int(ptrOrZero(out.Usage.InputTokens)), OutputTokens: int(ptrOrZero(out.Usage.OutputTokens))}
	}
	return resp
}

func decodeBedrockDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func ptrOrZero[T ~int32 | ~int64](p *T) T {
	if p == nil {
		return 0
	}
	return *p
}

// bedrockStreamer adapts the Bedrock ConverseStream event stream into a Streamer.
type bedrockStreamer struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func newBedrockStreamer(stream *bedrockruntime.ConverseStreamEventStream) *bedrockStreamer {
	return &bedrockStreamer{stream: stream}
}

func (s *bedrockStreamer) Recv() (Chunk, error) {
	ev, ok := <-s.stream.Events()
	if !ok {
		if err := s.stream.Err(); err != nil {
			return Chunk{}, classifyBedrockErr(err)
		}
		return Chunk{}, io.EOF
	}
	switch v := ev.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
			return Chunk{Type: ChunkText, Text: d.Value}, nil
		}
		return Chunk{Type: ChunkText}, nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return Chunk{Type: ChunkStop, StopReason: string(v.Value.StopReason)}, nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage != nil {
			return Chunk{Type: ChunkUsage, Usage: &Usage{
				InputTokens:  int(ptrOrZero(v.Value.Usage.InputTokens)),
				OutputTokens: int(ptrOrZero(v.Value.Usage.OutputTokens)),
			}}, nil
		}
	}
	return Chunk{Type: ChunkText}, nil
}

func (s *bedrockStreamer) Close() error { return s.stream.Close() }
