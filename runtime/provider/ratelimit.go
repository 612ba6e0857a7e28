package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitedAdapter wraps an Adapter with a process-local adaptive
// token-bucket limiter, grounded on goa-ai's features/model/middleware.AdaptiveRateLimiter
// (minus its cluster-coordination layer, which depends on an external
// replicated map this module does not carry — see DESIGN.md). It estimates
// request cost from the prompt size, blocks until capacity is available, and
// backs its budget off when the wrapped Adapter reports a rate-limit error.
type RateLimitedAdapter struct {
	next Adapter

	mu           sync.Mutex
	limiter      *rate.Limiter
	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimitedAdapter wraps next with a limiter starting at initialTPM
// tokens per minute, never exceeding maxTPM and never backing off below
// minTPM.
func NewRateLimitedAdapter(next Adapter, initialTPM, minTPM, maxTPM float64) *RateLimitedAdapter {
	return &RateLimitedAdapter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: 1.2,
	}
}

func (l *RateLimitedAdapter) estimate(req *Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content) / 4
	}
	return n + req.Sampling.MaxNewTokens
}

// Stream waits for token-bucket capacity sized to the request's estimated
// cost, then delegates to the wrapped Adapter. On a rate-limit signal from
// the provider it halves the current budget (multiplicative decrease);
// every successful call multiplies the budget by recoveryRate (1.2),
// capped at maxTPM.
func (l *RateLimitedAdapter) Stream(ctx context.Context, req *Request) (Stream, error) {
	cost := l.estimate(req)
	if err := l.limiter.WaitN(ctx, cost); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	s, err := l.next.Stream(ctx, req)
	if err != nil {
		if isRateLimitError(err) {
			l.backoff()
		}
		return nil, err
	}
	l.recover()
	return s, nil
}

func (l *RateLimitedAdapter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM = max(l.currentTPM/2, l.minTPM)
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60))
}

func (l *RateLimitedAdapter) recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM = min(l.currentTPM*l.recoveryRate, l.maxTPM)
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60))
}

// rateLimitError is implemented by provider errors that signal throttling.
type rateLimitError interface {
	RateLimited() bool
}

func isRateLimitError(err error) bool {
	var rle rateLimitError
	if e, ok := err.(rateLimitError); ok {
		rle = e
		return rle.RateLimited()
	}
	return false
}
