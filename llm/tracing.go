package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/chatflow/types"
)

const instrumentationName = "github.com/BaSui01/chatflow/llm"

// WithTracing wraps every generation in a span and counts calls through the
// global OpenTelemetry providers. name identifies the backend.
func WithTracing(name string) Middleware {
	tracer := otel.Tracer(instrumentationName)
	counter, _ := otel.Meter(instrumentationName).Int64Counter(
		"chatflow.llm.generations",
		metric.WithDescription("Number of generation calls"),
	)
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			attrs := []attribute.KeyValue{
				attribute.String("llm.backend", name),
				attribute.Int("llm.messages", len(messages)),
			}
			if id, ok := types.ParticipantID(ctx); ok {
				attrs = append(attrs, attribute.String("chatflow.participant", id))
			}
			if id, ok := types.ConversationID(ctx); ok {
				attrs = append(attrs, attribute.String("chatflow.conversation", id))
			}

			ctx, span := tracer.Start(ctx, "llm.generate",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			reply, err := next.Generate(ctx, messages)
			status := "ok"
			if err != nil {
				status = "error"
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
			}
			if counter != nil {
				counter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("llm.backend", name),
					attribute.String("status", status),
				))
			}
			return reply, err
		})
	}
}
