package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatcore/engine/runtime/provider"
)

// staticModelRegistry resolves model identifiers against a fixed table,
// grounded on the teacher's cmd/demo/main.go pattern of registering
// collaborators directly in main rather than through a discovery service —
// this engine has no model-catalog service to query (§1 Non-goals), so the
// table is the whole of ModelRegistry.
type staticModelRegistry struct {
	records map[string]provider.ModelRecord
}

func newStaticModelRegistry() *staticModelRegistry {
	return &staticModelRegistry{records: map[string]provider.ModelRecord{
		"claude-sonnet-4-5": {
			ID: "claude-sonnet-4-5", NCtx: 200_000, DefaultTemperature: 1.0,
			SupportsReasoning: provider.ReasoningAnthropic, SupportsBoostReasoning: true,
		},
		"claude-opus-4-1": {
			ID: "claude-opus-4-1", NCtx: 200_000, DefaultTemperature: 1.0,
			SupportsReasoning: provider.ReasoningAnthropic, SupportsBoostReasoning: true,
		},
		"bedrock/anthropic.claude-3-5-sonnet": {
			ID: "bedrock/anthropic.claude-3-5-sonnet", NCtx: 200_000, DefaultTemperature: 1.0,
			SupportsReasoning: provider.ReasoningAnthropic, SupportsBoostReasoning: true,
		},
		"gpt-5": {
			ID: "gpt-5", NCtx: 128_000, DefaultTemperature: 1.0,
			SupportsReasoning: provider.ReasoningOpenAI, SupportsBoostReasoning: true,
		},
		"gpt-5-mini": {
			ID: "gpt-5-mini", NCtx: 128_000, DefaultTemperature: 1.0,
			SupportsReasoning: provider.ReasoningOpenAI,
		},
	}}
}

// Resolve implements prepare.ModelRegistry.
func (r *staticModelRegistry) Resolve(modelID string) (provider.ModelRecord, bool) {
	rec, ok := r.records[modelID]
	return rec, ok
}

// adapterRouter dispatches Stream calls to the concrete provider.Adapter
// registered for a request's model family, so session.Manager's Factory can
// hand every thread the same provider.Adapter value regardless of which
// backend its chosen model actually lives on. Grounded on
// features/model/gateway's model-prefix routing, generalized from goa-ai's
// provider-name-plus-model-id pair to this engine's plain model-id string
// (this engine's ModelRecord carries no separate provider field, so routing
// is by naming convention instead).
type adapterRouter struct {
	anthropic provider.Adapter
	bedrock   provider.Adapter
	openai    provider.Adapter
}

func (r *adapterRouter) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	a, err := r.route(req.Model)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(req.Model, "bedrock/") {
		stripped := *req
		stripped.Model = strings.TrimPrefix(req.Model, "bedrock/")
		req = &stripped
	}
	return a.Stream(ctx, req)
}

func (r *adapterRouter) route(modelID string) (provider.Adapter, error) {
	switch {
	case strings.HasPrefix(modelID, "bedrock/"):
		if r.bedrock == nil {
			return nil, fmt.Errorf("chatrtd: no bedrock adapter configured for model %q", modelID)
		}
		return r.bedrock, nil
	case strings.HasPrefix(modelID, "claude-"):
		if r.anthropic == nil {
			return nil, fmt.Errorf("chatrtd: no anthropic adapter configured for model %q", modelID)
		}
		return r.anthropic, nil
	case strings.HasPrefix(modelID, "gpt-"), strings.HasPrefix(modelID, "o1"), strings.HasPrefix(modelID, "o3"):
		if r.openai == nil {
			return nil, fmt.Errorf("chatrtd: no openai adapter configured for model %q", modelID)
		}
		return r.openai, nil
	default:
		return nil, fmt.Errorf("chatrtd: no provider adapter registered for model %q", modelID)
	}
}
