package prepare

import (
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/session"
)

const openAIDoubleThreshold = 8192

// adaptSampling applies the §4.4 step-3 reasoning adaptation table, mapping
// session-level sampling parameters onto their provider-specific wire form
// and reporting whether thinking ends up enabled for this turn.
func adaptSampling(model provider.ModelRecord, in session.SamplingParameters) (provider.SamplingParameters, bool) {
	out := provider.SamplingParameters{
		MaxNewTokens:    in.MaxNewTokens,
		Temperature:     in.Temperature,
		TopP:            in.TopP,
		Stop:            in.Stop,
		ReasoningEffort: in.ReasoningEffort,
		EnableThinking:  in.EnableThinking,
		BoostReasoning:  in.BoostReasoning,
	}
	if in.Thinking != nil {
		out.Thinking = &provider.ThinkingOptions{Type: in.Thinking.Type, BudgetTokens: in.Thinking.BudgetTokens}
	}

	requestedReasoning := in.ReasoningEffort != "" || in.BoostReasoning ||
		(in.Thinking != nil && in.Thinking.Type == "enabled") ||
		(in.EnableThinking != nil && *in.EnableThinking)

	switch model.SupportsReasoning {
	case provider.ReasoningNone, "":
		out.ReasoningEffort = ""
		out.Thinking = nil
		out.EnableThinking = nil

	case provider.ReasoningOpenAI:
		if in.BoostReasoning {
			out.ReasoningEffort = "Medium"
		}
		out.Thinking = nil
		out.EnableThinking = nil
		if out.MaxNewTokens <= openAIDoubleThreshold {
			out.MaxNewTokens *= 2
		}
		out.Temperature = &model.DefaultTemperature

	case provider.ReasoningAnthropic:
		out.ReasoningEffort = ""
		out.EnableThinking = nil
		if requestedReasoning {
			budgetTokens := in.MaxNewTokens / 2
			if budgetTokens < 1024 {
				budgetTokens = 1024
			}
			out.Thinking = &provider.ThinkingOptions{Type: "enabled", BudgetTokens: budgetTokens}
		}

	case provider.ReasoningQwen:
		enabled := in.BoostReasoning
		out.EnableThinking = &enabled
		out.Thinking = nil
		out.Temperature = &model.DefaultTemperature

	default: // "other"
		out.Thinking = nil
		out.EnableThinking = nil
		out.Temperature = &model.DefaultTemperature
	}

	thinkingEnabled := (out.Thinking != nil && out.Thinking.Type == "enabled") ||
		out.ReasoningEffort != "" ||
		(out.EnableThinking != nil && *out.EnableThinking)

	return out, thinkingEnabled
}
