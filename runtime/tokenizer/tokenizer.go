// Package tokenizer implements the Tokenizer Facade (§4.1): a deterministic
// token count for a text blob under a named tokenizer, with a best-effort
// approximation when no tokenizer is loaded. It is the leaf dependency of
// the History Budgeter and the Prompt Preparer, mirroring goa-ai's
// runtime/agent/runtime/activity_input_budget.go, which estimates payload
// size ahead of a planner call without depending on a live provider.
package tokenizer

import "math"

// ExtraTokensPerMessage is added to every message's own byte cost to account
// for role/framing overhead providers charge per turn.
const ExtraTokensPerMessage = 3

// ExtraBudgetPercent is the safety cushion subtracted from an effective
// context limit, expressed as a fraction of the tokens currently occupied.
const ExtraBudgetPercent = 0.15

// charsPerTokenApprox is the rough ratio used for display budgets and for
// counting text when no tokenizer vocabulary is loaded.
const charsPerTokenApprox = 3.5

// Counter counts tokens for text under a fixed vocabulary.
//
// Implementations are external (a BPE/vocabulary table loaded from disk);
// this package only defines the contract and the approximation fallback.
type Counter interface {
	// Count returns the token count for text. Implementations must be pure
	// functions of text and the loaded vocabulary.
	Count(text string) int
}

// approxCounter implements Counter using the character-ratio approximation;
// it is used whenever a named tokenizer is unavailable.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / charsPerTokenApprox))
}

// Approx is the fallback Counter used when no tokenizer is registered.
var Approx Counter = approxCounter{}

// Facade resolves named tokenizers to Counters and exposes CountTokens with
// the fallback behavior §4.1 requires.
type Facade struct {
	named map[string]Counter
}

// NewFacade builds a Facade with no tokenizers registered; CountTokens falls
// back to Approx until Register is called.
func NewFacade() *Facade {
	return &Facade{named: make(map[string]Counter)}
}

// Register associates a tokenizer name with a Counter implementation.
func (f *Facade) Register(name string, c Counter) {
	f.named[name] = c
}

// CountTokens returns the token count for text under the named tokenizer, or
// the character-count approximation when tokenizer is empty or unregistered.
func (f *Facade) CountTokens(tokenizer, text string) int {
	if tokenizer != "" {
		if c, ok := f.named[tokenizer]; ok {
			return c.Count(text)
		}
	}
	return Approx.Count(text)
}

// MessageCost returns the effective token cost of one message's text,
// including ExtraTokensPerMessage.
func (f *Facade) MessageCost(tokenizer, text string) int {
	return f.CountTokens(tokenizer, text) + ExtraTokensPerMessage
}

// Cushion returns the safety cushion to subtract from an effective context
// limit, given the tokens already occupied.
func Cushion(occupied int) int {
	return int(math.Ceil(float64(occupied) * ExtraBudgetPercent))
}
