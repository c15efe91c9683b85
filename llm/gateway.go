package llm

import (
	"context"

	"github.com/BaSui01/chatflow/types"
)

// Gateway produces the next reply from an ordered list of messages.
type Gateway interface {
	Generate(ctx context.Context, messages []types.Message) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, messages []types.Message) (string, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, messages []types.Message) (string, error) {
	return f(ctx, messages)
}

// Middleware wraps a Gateway with extra behavior.
type Middleware func(next Gateway) Gateway

// Chain applies middlewares to g. The first middleware is the outermost.
func Chain(g Gateway, middlewares ...Middleware) Gateway {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		g = middlewares[i](g)
	}
	return g
}
