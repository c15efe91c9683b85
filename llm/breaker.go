package llm

import (
	"context"

	"github.com/BaSui01/chatflow/llm/circuitbreaker"
	"github.com/BaSui01/chatflow/types"
)

// WithCircuitBreaker fails fast while b is open.
func WithCircuitBreaker(b *circuitbreaker.Breaker) Middleware {
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			return circuitbreaker.Execute(ctx, b, func(ctx context.Context) (string, error) {
				return next.Generate(ctx, messages)
			})
		})
	}
}
