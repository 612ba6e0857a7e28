// Package openai adapts provider.Adapter onto the OpenAI Chat Completions
// API using github.com/openai/openai-go, this module's pinned OpenAI
// dependency (the official Stainless-generated SDK, not the community
// sashabaranov/go-openai client features/model/openai/client.go actually
// imports — see DESIGN.md). Structurally this adapter follows
// providers/anthropic's shape rather than the teacher's openai client: both
// the official anthropic-sdk-go and openai-go are generated by the same
// Stainless toolchain and share the packages/ssestream streaming
// primitive, so the MessagesClient-narrowing/channel-fed-Streamer pattern
// grounded on features/model/anthropic/client.go and stream.go carries over
// directly.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/chatcore/engine/runtime/provider"
)

type (
	// ChatClient captures the subset of the OpenAI SDK used by the adapter.
	ChatClient interface {
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter.
	Options struct {
		APIKey       string
		BaseURL      string
		DefaultModel string
		MaxTokens    int
		Temperature  float64
	}

	// Adapter implements provider.Adapter on top of OpenAI Chat Completions.
	Adapter struct {
		chat         ChatClient
		defaultModel string
		maxTokens    int
		temperature  float64
	}
)

// New builds an Adapter from an already-constructed ChatClient.
func New(chat ChatClient, opts Options) (*Adapter, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Adapter{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey builds an Adapter using the real OpenAI SDK client.
func NewFromAPIKey(opts Options) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := sdk.NewClient(reqOpts...)
	return New(&client.Chat.Completions, opts)
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := a.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("chat.completions.stream", err)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) prepareRequest(req *provider.Request) (*sdk.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: msgs,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	maxTokens := req.Sampling.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	if t := req.Sampling.Temperature; t != nil && *t > 0 {
		params.Temperature = sdk.Float(*t)
	} else if a.temperature > 0 {
		params.Temperature = sdk.Float(a.temperature)
	}
	return &params, nil
}

func encodeMessages(msgs []provider.WireMessage) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.WireSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case provider.WireUser:
			out = append(out, sdk.UserMessage(m.Content))
		case provider.WireAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			calls := make([]sdk.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			assistant := sdk.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = sdk.String(m.Content)
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case provider.WireTool:
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, errors.New("openai: unsupported message role")
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeTools(defs []provider.ToolDef) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  sdk.FunctionParameters(def.Parameters),
			},
		})
	}
	return out, nil
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
	return provider.NewError("openai", operation, kind, httpCode, "openai request failed", err)
}
