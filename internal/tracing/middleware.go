package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/levelsync/internal/netcode"
)

// FrameMiddleware returns netcode middleware that runs every frame handler
// inside a span. The endpoint has already restored the sender's span
// context, so the handler span joins the sender's trace. A nil tracer
// returns a pass-through.
func FrameMiddleware(tracer trace.Tracer, peer netcode.PeerID) netcode.Middleware {
	if tracer == nil {
		return func(next netcode.Handler) netcode.Handler { return next }
	}

	return func(next netcode.Handler) netcode.Handler {
		return netcode.HandlerFunc(func(ctx context.Context, f netcode.Frame) error {
			ctx, span := tracer.Start(ctx, SpanPrefixHandler+f.Kind,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String(AttrFrameKind, f.Kind),
					attribute.String(AttrFrameFrom, string(f.From)),
					attribute.Int64(AttrFrameSeq, int64(f.Seq)), //nolint:gosec // G115: sequence numbers stay far below MaxInt64
					attribute.String(AttrPeerID, string(peer)),
				),
			)
			defer span.End()

			err := next.Handle(ctx, f)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		})
	}
}

// StartLifecycle starts a span covering one lifecycle transition.
func StartLifecycle(ctx context.Context, tracer trace.Tracer, state string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixLifecycle+state,
		trace.WithAttributes(attribute.String(AttrLifecycleState, state)),
	)
}
