package llm

import (
	"context"
	"time"

	"github.com/BaSui01/chatflow/types"
)

// Observer receives the outcome of each generation. metrics.Collector
// implements it.
type Observer interface {
	ObserveGeneration(backend, participant string, duration time.Duration, err error)
}

// WithObserver reports every generation to o.
func WithObserver(o Observer, backend string) Middleware {
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			start := time.Now()
			reply, err := next.Generate(ctx, messages)
			participant, _ := types.ParticipantID(ctx)
			o.ObserveGeneration(backend, participant, time.Since(start), err)
			return reply, err
		})
	}
}
