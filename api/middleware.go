package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/metrics"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// RequireActor reads the acting user from X-Actor-ID / X-Actor-Role.
// Authentication happens upstream; this layer only trusts the headers.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderActorID+" header", nil)
			return
		}
		role := core.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		switch role {
		case "":
			role = core.RoleRegular
		case core.RoleAdmin, core.RoleRegular:
		default:
			writeError(w, http.StatusUnauthorized, "Invalid "+HeaderActorRole+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, core.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey{}).(core.Actor)
	return a
}

// RequireAdmin rejects regular actors with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs each request with zap and, when m is set, records it
// under the matched route pattern.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			if m != nil {
				m.RecordHTTPRequest(r.Method, route, status, elapsed)
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if actor := r.Header.Get(HeaderActorID); actor != "" {
				fields = append(fields, zap.String("actor", actor))
			}
			switch {
			case status >= 500:
				logger.Error("request", fields...)
			case status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}
