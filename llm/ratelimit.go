package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/chatflow/types"
)

// WithRateLimit blocks each generation until limiter admits it. A canceled
// wait is reported as ErrRateLimited.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				return "", types.NewError(types.ErrRateLimited, "generation rate limit wait aborted").
					WithCause(err).
					WithRetryable(false)
			}
			return next.Generate(ctx, messages)
		})
	}
}
