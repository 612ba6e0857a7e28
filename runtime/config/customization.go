// Package config loads the engine's two process-level configuration
// surfaces: environment-derived provider settings (env.go) and the YAML
// customization file (this file) supplying system prompts, subchat tool
// parameters, and toolbox commands (§6 File formats).
//
// spec.md places the customization loader itself out of scope ("only the
// shapes it delivers are specified"); this package is the ambient-stack
// implementation SPEC_FULL §A.3 commits to anyway, grounded on
// `original_source/src/yaml_configs/customization_loader.rs` for the shape
// and merge semantics, and on the teacher's
// `integration_tests/framework/runner.go` (os.ReadFile + gopkg.in/yaml.v3)
// for how a YAML file is actually loaded in this corpus.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/session"
)

type (
	// SystemPrompt is one named prompt template (§6 File formats).
	SystemPrompt struct {
		Description string `yaml:"description"`
		Text        string `yaml:"text"`
		// Show is "always" (same as empty), "never", or "experimental".
		Show string `yaml:"show"`
	}

	// SubchatParameters configures a named subchat invocation spawned by a
	// tool (model/budget overrides distinct from the parent thread's). Only
	// the shape is specified; no SPEC_FULL component consumes it yet, since
	// concrete tool implementations that would spawn subchats are out of
	// scope (§1 Non-goals).
	SubchatParameters struct {
		Model       string   `yaml:"model"`
		NCtx        int      `yaml:"n_ctx"`
		Temperature *float64 `yaml:"temperature"`
		Tools       []string `yaml:"tools"`
	}

	// ToolboxCommand is a named canned multi-message snippet a client can
	// insert (slash-command style). Only the shape is specified.
	ToolboxCommand struct {
		Description      string          `yaml:"description"`
		Messages         []ToolboxMessage `yaml:"messages"`
		SelectionNeeded  []int           `yaml:"selection_needed"`
		SelectionUnwanted bool           `yaml:"selection_unwanted"`
		InsertAtCursor   bool            `yaml:"insert_at_cursor"`
	}

	// ToolboxMessage is one message template within a ToolboxCommand.
	ToolboxMessage struct {
		Role    string `yaml:"role"`
		Content string `yaml:"content"`
	}

	// Customization is the decoded shape of one YAML customization file
	// (§6 File formats).
	Customization struct {
		SystemPrompts         map[string]SystemPrompt    `yaml:"system_prompts"`
		SubchatToolParameters map[string]SubchatParameters `yaml:"subchat_tool_parameters"`
		ToolboxCommands       map[string]ToolboxCommand  `yaml:"toolbox_commands"`
	}
)

// LoadCustomization reads and decodes the YAML customization file at path.
// A missing file is not an error: it returns an empty Customization, since
// the customization file is optional ambient configuration, not a required
// input (mirrors `yaml_customization_exists_or_create`'s effect of always
// producing usable config even with no user file yet).
func LoadCustomization(path string) (*Customization, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Customization{}, nil
		}
		return nil, errs.Wrap(errs.BadRequest, err, "read customization file")
	}

	var c Customization
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errs.Wrap(errs.BadRequest, err, "parse customization file")
	}
	return &c, nil
}

// Merge overlays override's entries onto c, matching
// load_and_mix_with_users_config's last-writer-wins extend semantics
// (defaults, then capability-advertised prompts, then the user's own file).
func (c *Customization) Merge(override *Customization) *Customization {
	merged := &Customization{
		SystemPrompts:         cloneSystemPrompts(c.SystemPrompts),
		SubchatToolParameters: cloneSubchatParameters(c.SubchatToolParameters),
		ToolboxCommands:       cloneToolboxCommands(c.ToolboxCommands),
	}
	for k, v := range override.SystemPrompts {
		merged.SystemPrompts[k] = v
	}
	for k, v := range override.SubchatToolParameters {
		merged.SubchatToolParameters[k] = v
	}
	for k, v := range override.ToolboxCommands {
		merged.ToolboxCommands[k] = v
	}
	return merged
}

func cloneSystemPrompts(m map[string]SystemPrompt) map[string]SystemPrompt {
	out := make(map[string]SystemPrompt, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSubchatParameters(m map[string]SubchatParameters) map[string]SubchatParameters {
	out := make(map[string]SubchatParameters, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneToolboxCommands(m map[string]ToolboxCommand) map[string]ToolboxCommand {
	out := make(map[string]ToolboxCommand, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// modeToPromptKey maps a thread's chat_mode to the customization file's
// system_prompts key, grounded on customization_loader.rs's
// get_default_system_prompt (prompt_key selection by agentic/exploration
// tool availability, not by a mode enum — that distinction doesn't exist
// here, so Mode stands in for it directly).
var modeToPromptKey = map[session.Mode]string{
	session.ModeNoTools:        "default",
	session.ModeExplore:        "exploration_tools",
	session.ModeAgent:          "agentic_tools",
	session.ModeConfigure:      "configure",
	session.ModeProjectSummary: "project_summary",
}

// PromptProvider implements prepare.SystemPromptProvider against a loaded
// Customization, honoring each prompt's Show filter the way
// load_and_mix_with_users_config does: "never" prompts are never resolved,
// "experimental" prompts only resolve when AllowExperimental is set, and
// "always" (or empty) always resolves.
type PromptProvider struct {
	Customization     *Customization
	AllowExperimental bool
}

// SystemPrompt implements prepare.SystemPromptProvider.
func (p *PromptProvider) SystemPrompt(mode session.Mode) (string, bool) {
	if p == nil || p.Customization == nil {
		return "", false
	}
	key, ok := modeToPromptKey[mode]
	if !ok {
		key = strings.ToLower(string(mode))
	}
	prompt, ok := p.Customization.SystemPrompts[key]
	if !ok {
		prompt, ok = p.Customization.SystemPrompts["default"]
		if !ok {
			return "", false
		}
	}
	switch prompt.Show {
	case "never":
		return "", false
	case "experimental":
		if !p.AllowExperimental {
			return "", false
		}
	}
	return prompt.Text, true
}
