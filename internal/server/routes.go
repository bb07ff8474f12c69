package server

import (
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requireToken)
		r.Post("/notify", s.handleNotify)
		r.Post("/validate", s.handleValidate)
		r.Get("/audit", s.handleAudit)
	})

	prefix := mountPrefix(cfg.Pprof.Prefix)
	r.Route(prefix, func(r chi.Router) {
		r.Use(s.pprofGate)
		index := pprofIndexAt(prefix)
		r.Get("/", index)
		r.HandleFunc("/cmdline", hpprof.Cmdline)
		r.HandleFunc("/profile", hpprof.Profile)
		r.HandleFunc("/symbol", hpprof.Symbol)
		r.HandleFunc("/trace", hpprof.Trace)
		r.Get("/{profile}", index)
	})

	return r
}

func mountPrefix(prefix string) string {
	p := strings.TrimRight(strings.TrimSpace(prefix), "/")
	if p == "" {
		p = "/debug/pprof"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
