package completion

import (
	"context"
	"errors"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// RetryProvider re-issues a call that failed with a *types.ProviderError.
// Schema failures and caller cancellation are returned immediately.
type RetryProvider struct {
	next     types.CompletionProvider
	attempts int
	base     time.Duration
}

// WithRetry wraps p so each call is tried up to attempts times, sleeping
// base, 2*base, 4*base ... between tries.
func WithRetry(p types.CompletionProvider, attempts int, base time.Duration) *RetryProvider {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryProvider{next: p, attempts: attempts, base: base}
}

// Complete implements types.CompletionProvider.
func (r *RetryProvider) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", types.NewProviderError("completion", "complete", ctx.Err())
			case <-time.After(r.base * time.Duration(1<<uint(i-1))):
			}
		}
		out, err := r.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var pe *types.ProviderError
		if !errors.As(err, &pe) || ctx.Err() != nil {
			return "", err
		}
		logging.APIDebug("completion attempt %d/%d failed: %v", i+1, r.attempts, err)
	}
	return "", lastErr
}
