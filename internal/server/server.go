// Package server exposes the relay over HTTP.
//
// Routes:
//
//	POST /notify     send a message to a channel or chat
//	POST /validate   check credentials and that the target exists
//	GET  /health     service status and supervisor snapshots
//	GET  /metrics    Prometheus exposition (server.metrics)
//	GET  /audit      recent audit entries, newest first (audit enabled)
//	     <prefix>/*  net/http/pprof (debug.pprof)
//
// Addr, timeouts, CORS origins and the pprof prefix are fixed at construction.
// Everything else in Config is read per request and can be swapped with Apply.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"teamsrelay/internal/metrics"
	"teamsrelay/internal/runtime/supervisor"
	"teamsrelay/internal/storage"
	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

const (
	serviceName       = "teamsrelay"
	maxBodyBytes      = 1 << 20
	readHeaderTimeout = 10 * time.Second
)

type Config struct {
	Addr        string
	APIToken    string
	CORSOrigins []string
	Metrics     bool

	RatePerSec float64
	Burst      int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Pprof PprofConfig
}

type PprofConfig struct {
	Enabled bool
	Prefix  string
	Token   string

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Relay is the part of teams.Relay the handlers use.
type Relay interface {
	Notify(ctx context.Context, req teams.NotificationRequest) teams.NotifyResult
	Validate(ctx context.Context, req teams.ValidationRequest) teams.ValidateResult
}

// AuditReader lists recorded deliveries.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// HealthFunc reports the supervisors shown on /health.
type HealthFunc func() []supervisor.Snapshot

type Options struct {
	Config  Config
	Relay   Relay
	Metrics *metrics.Metrics
	Health  HealthFunc
	Audit   AuditReader // nil when audit is off
	Version string
	Log     logx.Logger
}

type Server struct {
	relay   Relay
	metrics *metrics.Metrics
	health  HealthFunc
	audit   AuditReader
	version string
	log     logx.Logger
	started time.Time
	now     func() time.Time

	cfg     atomic.Pointer[Config]
	limiter *limiter
	handler http.Handler
}

func New(o Options) *Server {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	s := &Server{
		relay:   o.Relay,
		metrics: o.Metrics,
		health:  o.Health,
		audit:   o.Audit,
		version: o.Version,
		log:     o.Log.With(logx.String("comp", "http")),
		started: time.Now(),
		now:     time.Now,
		limiter: newLimiter(),
	}
	s.Apply(o.Config)
	s.handler = s.routes(o.Config)
	return s
}

// Apply swaps the per-request settings: API token, rate limit, metrics and
// pprof switches, pprof token and profiling rates.
func (s *Server) Apply(cfg Config) {
	c := cfg
	s.cfg.Store(&c)
	s.limiter.apply(cfg.RatePerSec, cfg.Burst)
	if cfg.Pprof.Enabled {
		applyRuntimeRates(cfg.Pprof)
	}
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) config() *Config { return s.cfg.Load() }

// Serve listens on the configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.config().Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then drains in-flight
// requests for at most ShutdownTimeout.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	cfg := s.config()
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sctx.Done()
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		dctx, dcancel := context.WithTimeout(context.Background(), timeout)
		defer dcancel()
		if err := srv.Shutdown(dctx); err != nil {
			s.log.Warn("http shutdown incomplete", logx.Err(err))
			_ = srv.Close()
		}
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		s.log.Info("http server stopped")
		return nil
	}
	return err
}
