package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"teamsrelay/internal/runtime/supervisor"
	"teamsrelay/internal/storage"
	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

const (
	invalidJSONMessage = "invalid JSON body"

	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type healthBody struct {
	Service       string                `json:"service"`
	Status        string                `json:"status"`
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version,omitempty"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Supervisors   []supervisor.Snapshot `json:"supervisors,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req teams.NotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.log.Debug("notify: bad body", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, teams.NotifyResult{Error: invalidJSONMessage})
		return
	}

	// The outbound calls finish even if the caller hangs up.
	res := s.relay.Notify(context.WithoutCancel(r.Context()), req)

	status := http.StatusOK
	if !res.Success {
		status = res.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
	}
	if res.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*res.RetryAfter))
	}
	writeJSON(w, status, res)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req teams.ValidationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.log.Debug("validate: bad body", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, teams.ValidateResult{Error: invalidJSONMessage})
		return
	}

	res := s.relay.Validate(context.WithoutCancel(r.Context()), req)

	status := http.StatusOK
	if res.Kind == teams.KindInternal {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	body := healthBody{
		Service:       serviceName,
		Status:        "ok",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
	}
	if s.health != nil {
		body.Supervisors = s.health()
		for _, snap := range body.Supervisors {
			if snap.FirstError != "" {
				body.Status = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type auditBody struct {
	Entries []storage.AuditEntry `json:"entries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "audit is disabled"})
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := s.audit.RecentAudit(r.Context(), limit)
	if err != nil {
		s.log.Error("audit: list failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditBody{Entries: entries})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config().Metrics {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// decodeJSON reads exactly one JSON value. Unknown fields are tolerated so
// callers can send extra metadata.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
