package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/ratelimit"
)

type ctxKey int

const kindKey ctxKey = iota

func kindFrom(ctx context.Context) models.Kind {
	k, _ := ctx.Value(kindKey).(models.Kind)
	return k
}

// resolveKind rejects unknown {kind} path segments and stores the kind in the request context.
func (s *Server) resolveKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "kind")
		kind, ok := models.ParseKind(raw)
		if !ok {
			s.writeError(w, r, apperr.UnknownJobType(raw))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), kindKey, kind)))
	})
}

// limit enforces a rate limit class per user, or per client IP for anonymous callers.
func (s *Server) limit(class ratelimit.Class) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(class, ratelimit.Subject(s.cfg.TrustedUserHeader), func(w http.ResponseWriter, r *http.Request, _ ratelimit.Decision) {
		s.writeError(w, r, apperr.RateLimited(string(class)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// recoverer turns handler panics into a 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Msg("handler panicked")
				s.writeError(w, r, apperr.Internal(fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
