package server

import (
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
)

// pprofGate hides the profiling routes unless enabled, and checks the token
// from either "Authorization: Bearer" or ?token=.
func (s *Server) pprofGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.config().Pprof
		if !cfg.Enabled {
			http.NotFound(w, r)
			return
		}
		tok := strings.TrimSpace(cfg.Token)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		if got := r.URL.Query().Get("token"); got != "" {
			if tokenEqual(got, tok) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if bearerMatches(r, tok) {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// pprof.Index only resolves named profiles under /debug/pprof/, so requests
// under a custom prefix are rewritten first.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := strings.TrimSuffix(prefix, "/") + "/"
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		if suffix == strings.TrimSuffix(canon, "/") {
			suffix = ""
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}

// applyRuntimeRates sets the profiling rates. Zero keeps the Go default.
func applyRuntimeRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}
