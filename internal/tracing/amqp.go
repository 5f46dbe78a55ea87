package tracing

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCarrier adapts AMQP message headers to a TextMapCarrier.
type HeaderCarrier amqp.Table

var _ propagation.TextMapCarrier = HeaderCarrier(nil)

func (c HeaderCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectHeaders writes the span context of ctx into headers.
func InjectHeaders(ctx context.Context, headers amqp.Table) {
	propagation.TraceContext{}.Inject(ctx, HeaderCarrier(headers))
}

// ExtractHeaders returns ctx carrying the remote span context found in headers.
func ExtractHeaders(ctx context.Context, headers amqp.Table) context.Context {
	if headers == nil {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, HeaderCarrier(headers))
}

func StartPublishSpan(ctx context.Context, queue string, priority uint8) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "amqp.publish "+queue,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", queue),
		attribute.Int("messaging.rabbitmq.priority", int(priority)),
	)
	return ctx, span
}

func StartTaskSpan(ctx context.Context, queue, taskType string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "task.process."+taskType,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source.name", queue),
		attribute.String("task.type", taskType),
	)
	return ctx, span
}
