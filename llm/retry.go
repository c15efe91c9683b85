package llm

import (
	"context"

	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/types"
)

// WithRetry retries failed generations with r. Errors carrying a
// non-retryable types.Error are returned immediately.
func WithRetry(r retry.Retryer) Middleware {
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			var out string
			err := r.Do(ctx, func() error {
				reply, err := next.Generate(ctx, messages)
				if err != nil {
					if te, ok := types.AsError(err); ok && !te.Retryable {
						return retry.Permanent(err)
					}
					return err
				}
				out = reply
				return nil
			})
			return out, err
		})
	}
}
