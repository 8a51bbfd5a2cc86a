package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Choirbook/core/gate"
	"Choirbook/logger"
	"Choirbook/model"
)

type contextKey int

const identityKey contextKey = iota

// identity is the resolved user of a request; User is nil for Anonymous.
type identity struct {
	User  *model.User
	State gate.State
}

func identityFrom(ctx context.Context) identity {
	if id, ok := ctx.Value(identityKey).(identity); ok {
		return id
	}
	return identity{State: gate.Anonymous}
}

// CurrentUser returns the user attached to the request context, or nil.
func CurrentUser(ctx context.Context) *model.User {
	return identityFrom(ctx).User
}

// identify resolves the session cookie once per request. Store failures are
// logged and the request continues as Anonymous.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{State: gate.Anonymous}
		if token := sessionToken(r); token != "" {
			user, state, err := h.gate.Resolve(r.Context(), token)
			if err != nil {
				logger.Error("[Session] 解析会话失败", logger.String("path", r.URL.Path), logger.ErrorField(err))
			} else {
				id = identity{User: user, State: state}
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// requireActive lets only Active users through; everyone else is sent to the
// login page with the original path in ?next=.
func (h *Handler) requireActive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		if !gate.Allows(id.State) {
			logger.Debug("[Gate] 拒绝访问",
				logger.String("path", r.URL.Path), logger.String("state", id.State.String()))
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next(w, r)
	}
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/landing"
	}
	return next
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// requestLogger 记录每个请求的方法、路径、状态码和耗时
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		log := logger.Info
		if rec.status >= http.StatusInternalServerError {
			log = logger.Warn
		}
		log("[HTTP] request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Int("bytes", rec.bytes),
			logger.Duration("duration", time.Since(start)))
	})
}
