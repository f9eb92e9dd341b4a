package tracing

import "context"

// Traced wraps fn so every call runs in its own span recording the input,
// the output and any error. Calls nest under the span already in ctx.
func Traced[I, O any](t *Tracer, name string, typ SpanType, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, in I) (O, error) {
		ctx, span := t.StartSpan(ctx, name, typ)
		defer span.End()

		span.SetInputs(in)
		out, err := fn(ctx, in)
		if err != nil {
			span.RecordError(err)
			return out, err
		}
		span.SetOutputs(out)
		return out, nil
	}
}

// WithSpan runs fn inside a span, like Traced for a one-off block.
func (t *Tracer) WithSpan(ctx context.Context, name string, typ SpanType, fn func(context.Context, *Span) error) error {
	ctx, span := t.StartSpan(ctx, name, typ)
	defer span.End()

	if err := fn(ctx, span); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
