package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderEnv holds the process-environment-derived settings each concrete
// Provider Adapter needs to reach its backend: API keys/endpoints the
// model-capability registry itself doesn't carry (that registry, like the
// customization loader, is an out-of-scope external collaborator per
// spec.md §1 — only its *output shape*, provider.ModelRecord, is specified).
//
// Grounded on the teacher's plain os.Getenv usage (runner.go's
// TEST_SERVER_URL/TEST_SKIP_GENERATION/MCP_TEST_READY_TIMEOUT_SECONDS): no
// package in the pack reaches for an env-parsing library (envconfig, viper,
// etc.) for this, so stdlib os.Getenv is the idiomatic choice here too, not
// a gap in the third-party wiring.
type ProviderEnv struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	BedrockRegion  string
	BedrockProfile string

	// RequestTimeout is read from CHATCORE_PROVIDER_TIMEOUT_SECONDS
	// (default 120s). No adapter or caller in this module applies it; the
	// orchestrator's per-turn idle/total stream timeouts (§4.5) are separate.
	RequestTimeout time.Duration

	// DefaultModel is read from CHATCORE_DEFAULT_MODEL. Nothing in this
	// module falls back to it when a thread's ThreadParams.Model is empty.
	DefaultModel string
}

const defaultRequestTimeout = 120 * time.Second

// LoadProviderEnv reads provider settings from the process environment.
// Every field has a usable zero value and LoadProviderEnv itself never
// fails, since not every deployment configures every provider. cmd/chatrtd
// builds no adapter for a provider whose API key is empty, so requests for
// its models fail at routing with a plain error.
func LoadProviderEnv() ProviderEnv {
	env := ProviderEnv{
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		BedrockRegion:    firstNonEmpty(os.Getenv("BEDROCK_REGION"), os.Getenv("AWS_REGION")),
		BedrockProfile:   os.Getenv("AWS_PROFILE"),
		DefaultModel:     os.Getenv("CHATCORE_DEFAULT_MODEL"),
		RequestTimeout:   defaultRequestTimeout,
	}
	if v := strings.TrimSpace(os.Getenv("CHATCORE_PROVIDER_TIMEOUT_SECONDS")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			env.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	return env
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
