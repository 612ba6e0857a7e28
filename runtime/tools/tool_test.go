package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/errs"
)

type stubTool struct {
	desc       Description
	deps       []string
	match      MatchResult
	execResult ExecuteResult
	execErr    error
}

func (s stubTool) Description() Description { return s.desc }
func (s stubTool) DependsOn() []string       { return s.deps }
func (s stubTool) MatchAgainstConfirmDeny(map[string]any) MatchResult {
	if s.match.Decision == "" {
		return MatchResult{Decision: Pass}
	}
	return s.match
}
func (s stubTool) CommandToMatchAgainstConfirmDeny(map[string]any) string { return "" }
func (s stubTool) Execute(context.Context, string, map[string]any) (ExecuteResult, error) {
	return s.execResult, s.execErr
}

func basicDesc(name string) Description {
	return Description{
		Name:               name,
		Description:        "a test tool",
		Parameters:         []Parameter{{Name: "path", Type: "string"}},
		ParametersRequired: []string{"path"},
	}
}

func TestRegistry_LookupHidesToolMissingCapability(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{desc: basicDesc("read_file"), deps: []string{"vecdb"}}))

	_, ok := r.Lookup("read_file")
	require.False(t, ok)

	r.SetCapability("vecdb", true)
	_, ok = r.Lookup("read_file")
	require.True(t, ok)
}

func TestRegistry_ValidateRejectsMissingRequiredArg(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{desc: basicDesc("read_file")}))

	err := r.Validate("read_file", map[string]any{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ToolArgsInvalid))
}

func TestRegistry_ValidateAcceptsWellFormedArgs(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{desc: basicDesc("read_file")}))

	err := r.Validate("read_file", map[string]any{"path": "a.go"})
	require.NoError(t, err)
}

func TestRegistry_ValidateUnknownToolIsToolUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Validate("ghost", map[string]any{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ToolUnknown))
}

func TestRegistry_SupportedToolsFiltersByCapabilityAndModel(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{desc: basicDesc("always_on")}))
	require.NoError(t, r.Register(stubTool{desc: basicDesc("needs_ast"), deps: []string{"ast"}}))

	defs := r.SupportedTools("gpt")
	require.Len(t, defs, 1)
	require.Equal(t, "always_on", defs[0].Name)

	r.SetCapability("ast", true)
	defs = r.SupportedTools("gpt")
	require.Len(t, defs, 2)
}
