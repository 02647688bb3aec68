package admin

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sim-engine/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// requestLoggingInterceptor tags each unary call with a request ID, taken
// from inbound metadata when present, annotates the active span and logs
// the call's outcome.
func requestLoggingInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqID := firstHeader(ctx, requestIDMetadataKey)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("request_id", reqID),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		)

		start := time.Now()
		resp, err := handler(ctx, req)
		log := base.With(
			logging.String("method", info.FullMethod),
			logging.String("request_id", reqID),
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(start)),
		)
		if err != nil {
			log.Warn(ctx, "admin rpc failed", logging.Err(err))
		} else {
			log.Debug(ctx, "admin rpc")
		}
		return resp, err
	}
}

func firstHeader(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
