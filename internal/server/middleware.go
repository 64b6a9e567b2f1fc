package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

const (
	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-Id"
)

// UnaryRequestContext copies x-request-id and x-user-id metadata into the
// context, minting a request id when the caller sent none.
func UnaryRequestContext(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var rid, uid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			rid = first(md.Get("x-request-id"))
			uid = first(md.Get("x-user-id"))
		}
		ctx = withRequest(ctx, rid, uid)

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc.call",
			"method", info.FullMethod,
			"req_id", common.RequestIDFromContext(ctx),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// requestContext is the HTTP equivalent of UnaryRequestContext.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := withRequest(r.Context(), r.Header.Get(headerRequestID), r.Header.Get(headerUserID))
		w.Header().Set(headerRequestID, common.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withRequest(ctx context.Context, requestID, userID string) context.Context {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = common.WithRequestID(ctx, requestID)
	if userID != "" {
		ctx = common.WithUserID(ctx, userID)
	}
	return ctx
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
