// Package bedrock adapts provider.Adapter onto the AWS Bedrock Converse API
// using github.com/aws/aws-sdk-go-v2's bedrockruntime, translating this
// engine's provider-agnostic wire vocabulary (§4.5, §6) into
// ConverseStream calls.
//
// Grounded directly on features/model/bedrock/client.go and stream.go: the
// RuntimeClient-narrowing pattern (tests substitute a fake) and the
// ConverseStream event processor's content-index-keyed tool buffers.
// Deliberately narrower than the teacher's client: no tool-name
// sanitization (names are sent as given), no ledger rehydration (this engine
// has no RunID/Temporal run store to query — see DESIGN.md), no cache
// checkpoints or Nova-model special-casing (SamplingParameters/Request
// carry no cache-control field in this engine's spec), and no non-streaming
// Complete path (the orchestrator only ever streams, §4.5).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/chatcore/engine/runtime/provider"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter uses.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel   string
	MaxTokens      int
	Temperature    float32
	ThinkingBudget int
}

const defaultThinkingBudget = 16384

// Adapter implements provider.Adapter on top of Bedrock Converse.
type Adapter struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
	think        int
}

// New builds an Adapter from an already-constructed RuntimeClient.
func New(runtime RuntimeClient, opts Options) (*Adapter, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	budget := opts.ThinkingBudget
	if budget <= 0 {
		budget = defaultThinkingBudget
	}
	return &Adapter{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		think:        budget,
	}, nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	parts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	thinkingEnabled := req.Sampling.Thinking != nil && req.Sampling.Thinking.Type == "enabled" && parts.toolConfig == nil
	input := a.buildInput(parts, req, thinkingEnabled)

	var optFns []func(*bedrockruntime.Options)
	if thinkingEnabled {
		optFns = append(optFns, bedrockruntime.WithAPIOptions(
			smithyhttp.AddHeaderValue("x-amzn-bedrock-beta", "interleaved-thinking-2025-05-14"),
		))
	}
	out, err := a.runtime.ConverseStream(ctx, input, optFns...)
	if err != nil {
		return nil, classifyError("converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, provider.NewError("bedrock", "converse_stream", provider.ErrorKindUnavailable, 0, "stream output missing event stream", nil)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) prepareRequest(req *provider.Request) (*requestParts, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	if modelID == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	toolConfig, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	return &requestParts{modelID: modelID, messages: messages, system: system, toolConfig: toolConfig}, nil
}

func (a *Adapter) buildInput(parts *requestParts, req *provider.Request, thinkingEnabled bool) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if thinkingEnabled {
		budget := req.Sampling.Thinking.BudgetTokens
		if budget <= 0 {
			budget = a.think
		}
		fields := map[string]any{"thinking": map[string]any{"type": "enabled", "budget_tokens": budget}}
		input.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	if cfg := a.inferenceConfig(req.Sampling); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (a *Adapter) inferenceConfig(sampling provider.SamplingParameters) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := sampling.MaxNewTokens
	if tokens <= 0 {
		tokens = a.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens))
	}
	temp := a.temp
	if sampling.Temperature != nil && *sampling.Temperature > 0 {
		temp = float32(*sampling.Temperature)
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []provider.WireMessage) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == provider.WireSystem {
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls))
		if m.Content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     toDocument(tc.Arguments),
			}})
		}
		if m.Role == provider.WireTool {
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: m.Content},
				},
			}})
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == provider.WireUser || m.Role == provider.WireTool {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []provider.ToolDef) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.Parameters)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, nil
}

func toDocument(v any) document.Interface {
	switch t := v.(type) {
	case nil:
		return document.NewLazyDocument(map[string]any{"type": "object"})
	case string:
		if t == "" {
			return document.NewLazyDocument(map[string]any{})
		}
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return document.NewLazyDocument(map[string]any{})
		}
		return document.NewLazyDocument(decoded)
	default:
		return document.NewLazyDocument(t)
	}
}

func classifyError(operation string, err error) error {
	kind := provider.ErrorKindUnavailable
	httpCode := 0
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = provider.ErrorKindRateLimited
		case "AccessDeniedException", "UnauthorizedException":
			kind = provider.ErrorKindAuth
		case "ValidationException":
			kind = provider.ErrorKindInvalidRequest
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		httpCode = respErr.HTTPStatusCode()
		if httpCode == 429 {
			kind = provider.ErrorKindRateLimited
		}
	}
	return provider.NewError("bedrock", operation, kind, httpCode, "bedrock request failed", err)
}
