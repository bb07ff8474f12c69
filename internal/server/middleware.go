package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// requestID keeps a caller-supplied X-Request-Id or assigns a UUID, and makes
// it visible to chi's middleware and to the relay.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := teams.ContextWithRequestID(r.Context(), id)
		ctx = context.WithValue(ctx, middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("panic recovered",
					logx.String("request_id", middleware.GetReqID(r.Context())),
					logx.String("panic", fmt.Sprint(p)),
					logx.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RequestsInFlight.Inc()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.metrics.RequestsInFlight.Dec()
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)
			s.metrics.ObserveRequest(route, status, d)
			s.log.Debug("request",
				logx.String("request_id", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("route", route),
				logx.Int("status", status),
				logx.Duration("dur", d),
				logx.String("remote", r.RemoteAddr),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wait, ok := s.limiter.allow(); !ok {
			s.metrics.RateLimited.Inc()
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", RetryAfter: &secs})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimSpace(s.config().APIToken)
		if tok == "" || bearerMatches(r, tok) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	})
}

func bearerMatches(r *http.Request, tok string) bool {
	const p = "Bearer "
	ah := r.Header.Get("Authorization")
	if !strings.HasPrefix(ah, p) {
		return false
	}
	return tokenEqual(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok)
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// limiter is a process-wide token bucket. A zero rate disables it.
type limiter struct {
	enabled atomic.Bool
	lim     *rate.Limiter
}

func newLimiter() *limiter {
	return &limiter{lim: rate.NewLimiter(rate.Inf, 1)}
}

func (l *limiter) apply(perSec float64, burst int) {
	if perSec <= 0 {
		l.enabled.Store(false)
		return
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSec)))
	}
	l.lim.SetLimit(rate.Limit(perSec))
	l.lim.SetBurst(burst)
	l.enabled.Store(true)
}

// allow reports whether a request may proceed and, if not, how long until a
// token would be available.
func (l *limiter) allow() (time.Duration, bool) {
	if !l.enabled.Load() {
		return 0, true
	}
	res := l.lim.Reserve()
	if !res.OK() {
		return time.Second, false
	}
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return d, false
	}
	return 0, true
}
