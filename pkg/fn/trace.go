package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Traced runs f inside a span named name, recording a failed Result on it.
func Traced[T any](ctx context.Context, name string, f func(context.Context) Result[T], attrs ...attribute.KeyValue) Result[T] {
	ctx, span := otel.Tracer("pkg/fn").Start(ctx, name)
	defer span.End()
	span.SetAttributes(attrs...)
	result := f(ctx)
	if result.Failed() {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result
}
