package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedCounter struct{ n int }

func (c fixedCounter) Count(string) int { return c.n }

func TestApprox_CountsByCharacterRatio(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Approx.Count(""))
	// 7 runes / 3.5 chars-per-token = 2, exactly.
	require.Equal(t, 2, Approx.Count("1234567"))
	// 8 runes rounds up to 3 tokens.
	require.Equal(t, 3, Approx.Count("12345678"))
}

func TestFacade_CountTokens_FallsBackToApproxWhenUnregistered(t *testing.T) {
	t.Parallel()

	f := NewFacade()
	require.Equal(t, Approx.Count("hello world"), f.CountTokens("gpt-5", "hello world"))
	require.Equal(t, Approx.Count("hello world"), f.CountTokens("", "hello world"))
}

func TestFacade_CountTokens_UsesRegisteredCounter(t *testing.T) {
	t.Parallel()

	f := NewFacade()
	f.Register("custom", fixedCounter{n: 11})
	require.Equal(t, 11, f.CountTokens("custom", "anything"))
	// A different, unregistered name still falls back.
	require.Equal(t, Approx.Count("anything"), f.CountTokens("other", "anything"))
}

func TestFacade_MessageCost_AddsPerMessageOverhead(t *testing.T) {
	t.Parallel()

	f := NewFacade()
	f.Register("custom", fixedCounter{n: 5})
	require.Equal(t, 5+ExtraTokensPerMessage, f.MessageCost("custom", "anything"))
}

func TestCushion_IsFifteenPercentRoundedUp(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Cushion(0))
	require.Equal(t, 2, Cushion(10))  // 1.5 -> 2
	require.Equal(t, 15, Cushion(100))
	require.Equal(t, 150, Cushion(1000))
}
