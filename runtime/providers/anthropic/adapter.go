// Package anthropic adapts provider.Adapter onto the Anthropic Claude
// Messages API using github.com/anthropics/anthropic-sdk-go, translating
// this engine's provider-agnostic Request/Chunk vocabulary (§4.5, §6) into
// Messages API calls and streaming events.
//
// Grounded directly on features/model/anthropic/client.go and stream.go:
// kept their MessagesClient-narrowing pattern (so tests can substitute a
// fake without a live API), their model-resolution and thinking-budget
// validation, and their channel-fed Streamer shape. Adapted to this
// engine's own wire types (provider.WireMessage/WireToolCall/ToolDef
// instead of goa-ai's model.Message/Part union) and to provider.Chunk's
// flatter ChunkType enum instead of model.Chunk's.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/chatcore/engine/runtime/provider"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter, satisfied by *sdk.MessageService or a test fake.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// APIKey and BaseURL are used by NewFromAPIKey; ignored by New,
		// which takes an already-constructed MessagesClient.
		APIKey  string
		BaseURL string

		DefaultModel string
		MaxTokens    int
		Temperature  float64
		// ThinkingBudget is the default thinking token budget applied when a
		// request enables thinking without specifying one explicitly.
		ThinkingBudget int
	}

	// Adapter implements provider.Adapter on top of Anthropic Messages.
	Adapter struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
		temperature  float64
		thinkBudget  int
	}
)

// New builds an Adapter from an already-constructed MessagesClient.
func New(msg MessagesClient, opts Options) (*Adapter, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("anthropic: default model is required")
	}
	return &Adapter{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		thinkBudget:  opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey builds an Adapter using the real Anthropic SDK client.
func NewFromAPIKey(opts Options) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := sdk.NewClient(reqOpts...)
	return New(&client.Messages, opts)
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := a.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("messages.stream", err)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) prepareRequest(req *provider.Request) (*sdk.MessageNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	if modelID == "" {
		return nil, fmt.Errorf("anthropic: model identifier is required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	maxTokens := req.Sampling.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := req.Sampling.Temperature; t != nil && *t > 0 {
		params.Temperature = sdk.Float(*t)
	} else if a.temperature > 0 {
		params.Temperature = sdk.Float(a.temperature)
	}
	if th := req.Sampling.Thinking; th != nil && th.Type == "enabled" {
		budget := th.BudgetTokens
		if budget <= 0 {
			budget = a.thinkBudget
		}
		if budget < 1024 {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		if int64(budget) >= int64(maxTokens) {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return &params, nil
}

func encodeMessages(msgs []provider.WireMessage) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var (
		conversation []sdk.MessageParam
		system       []sdk.TextBlockParam
		pendingRole  provider.WireRole
		pending      []sdk.ContentBlockParamUnion
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		switch pendingRole {
		case provider.WireUser, provider.WireTool:
			conversation = append(conversation, sdk.NewUserMessage(pending...))
		case provider.WireAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(pending...))
		default:
			return fmt.Errorf("anthropic: unsupported message role %q", pendingRole)
		}
		pending = nil
		return nil
	}
	sameTurn := func(role provider.WireRole) bool {
		if role == provider.WireUser || role == provider.WireTool {
			return pendingRole == provider.WireUser || pendingRole == provider.WireTool
		}
		return pendingRole == role
	}

	for _, m := range msgs {
		if m.Role == provider.WireSystem {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			pendingRole = ""
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
			continue
		}
		if len(pending) > 0 && !sameTurn(m.Role) {
			if err := flush(); err != nil {
				return nil, nil, err
			}
		}
		pendingRole = m.Role
		switch m.Role {
		case provider.WireUser:
			if m.Content != "" {
				pending = append(pending, sdk.NewTextBlock(m.Content))
			}
		case provider.WireAssistant:
			if m.Content != "" {
				pending = append(pending, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input, err := decodeArguments(tc.Arguments)
				if err != nil {
					return nil, nil, fmt.Errorf("anthropic: tool call %q arguments: %w", tc.Name, err)
				}
				pending = append(pending, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		case provider.WireTool:
			pending = append(pending, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	if len(conversation) == 0 {
		return nil, nil, fmt.Errorf("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func decodeArguments(raw string) (any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeTools(defs []provider.ToolDef) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.Parameters}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func classifyError(operation string, err error) error {
	kind := provider.ErrorKindUnavailable
	httpCode := 0
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		httpCode = apiErr.StatusCode
		switch httpCode {
		case 429:
			kind = provider.ErrorKindRateLimited
		case 401, 403:
			kind = provider.ErrorKindAuth
		case 400, 404, 422:
			kind = provider.ErrorKindInvalidRequest
		}
	}
	return provider.NewError("anthropic", operation, kind, httpCode, "anthropic request failed", err)
}
