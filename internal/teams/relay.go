package teams

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"teamsrelay/internal/eventbus"
	logx "teamsrelay/pkg/logx"
)

const (
	EventMessageSent   = "teams.message.sent"
	EventMessageFailed = "teams.message.failed"
	EventTargetChecked = "teams.target.checked"

	internalErrorMessage = "internal server error"
	validMessage         = "configuration is valid"
	deliveredAtLayout    = "2006-01-02T15:04:05Z"
)

// Settings is the per-process configuration the relay reads on every call.
type Settings struct {
	Credentials  Credentials
	Defaults     Defaults
	GraphBaseURL string
	LoginBaseURL string
	// HTTPTimeout bounds each outbound call. Zero keeps the client's own timeout.
	HTTPTimeout time.Duration
}

// NotifyResult is the caller-facing outcome of Notify.
type NotifyResult struct {
	Success     bool   `json:"success"`
	MessageID   string `json:"message_id,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryAfter  *int   `json:"retry_after,omitempty"`

	Kind   ErrorKind `json:"-"`
	Status int       `json:"-"`
}

// ValidateResult is the caller-facing outcome of Validate.
type ValidateResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Kind ErrorKind `json:"-"`
}

// Delivery is published as EventMessageSent after a successful send.
type Delivery struct {
	RequestID   string    `json:"request_id,omitempty"`
	MessageID   string    `json:"message_id"`
	TargetType  string    `json:"target_type"`
	TeamID      string    `json:"team_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	Format      string    `json:"format"`
	HasSubject  bool      `json:"has_subject"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Failure is published as EventMessageFailed.
type Failure struct {
	RequestID  string    `json:"request_id,omitempty"`
	TargetType string    `json:"target_type,omitempty"`
	Kind       ErrorKind `json:"kind"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error"`
}

// Check is published as EventTargetChecked after every Validate.
type Check struct {
	RequestID  string `json:"request_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Valid      bool   `json:"valid"`
}

type state struct {
	settings Settings
	tokens   *TokenSource
	graph    *GraphClient
}

// Relay composes validation, token acquisition, formatting and Graph calls.
// Calls share no mutable state; Apply swaps the settings snapshot atomically.
type Relay struct {
	http *http.Client
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	cur atomic.Pointer[state]
}

func New(s Settings, hc *http.Client, log logx.Logger, bus eventbus.Bus) *Relay {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Relay{http: hc, log: log, bus: bus, now: time.Now}
	r.Apply(s)
	return r
}

func (r *Relay) Apply(s Settings) {
	hc := r.http
	if s.HTTPTimeout > 0 {
		c := *r.http
		c.Timeout = s.HTTPTimeout
		hc = &c
	}
	r.cur.Store(&state{
		settings: s,
		tokens:   NewTokenSource(hc, s.LoginBaseURL),
		graph:    NewGraphClient(hc, s.GraphBaseURL),
	})
}

func (r *Relay) Notify(ctx context.Context, req NotificationRequest) (res NotifyResult) {
	st := r.cur.Load()
	reqID := RequestIDFrom(ctx)
	var targetType string

	defer func() {
		if p := recover(); p != nil {
			res = r.notifyFailure(reqID, targetType, fmt.Errorf("panic: %v", p), string(debug.Stack()))
		}
	}()

	target, err := ParseNotification(req, st.settings.Defaults)
	if err != nil {
		return r.notifyFailure(reqID, req.ChannelType, err, "")
	}
	targetType = target.Kind()

	token, err := st.tokens.AcquireToken(ctx, st.settings.Credentials)
	if err != nil {
		return r.notifyFailure(reqID, targetType, err, "")
	}

	format := req.Format
	if format == "" {
		format = st.settings.Defaults.Format
	}
	content, contentType := FormatMessage(req.Message, format)
	payload := MessagePayload{
		Subject: req.Subject,
		Body:    MessageBody{ContentType: contentType, Content: content},
	}

	body, err := st.graph.PostMessage(ctx, st.graph.MessagesURL(target), token, payload)
	if err != nil {
		return r.notifyFailure(reqID, targetType, err, "")
	}

	now := r.now().UTC()
	d := Delivery{
		RequestID:   reqID,
		MessageID:   stringField(body, "id"),
		TargetType:  targetType,
		Format:      contentType,
		HasSubject:  req.Subject != "",
		DeliveredAt: now,
	}
	switch t := target.(type) {
	case ChannelTarget:
		d.TeamID, d.ChannelID = t.TeamID, t.ChannelID
	case ChatTarget:
		d.ChatID = t.ChatID
	}
	r.publish(EventMessageSent, d)
	r.log.Info("message delivered",
		logx.String("request_id", reqID),
		logx.String("target", targetType),
		logx.String("message_id", d.MessageID),
	)

	return NotifyResult{
		Success:     true,
		MessageID:   d.MessageID,
		DeliveredAt: now.Format(deliveredAtLayout),
		Status:      http.StatusOK,
	}
}

func (r *Relay) Validate(ctx context.Context, req ValidationRequest) (res ValidateResult) {
	st := r.cur.Load()
	reqID := RequestIDFrom(ctx)

	defer func() {
		if p := recover(); p != nil {
			res = r.validateFailure(reqID, req.ChannelType, fmt.Errorf("panic: %v", p), string(debug.Stack()))
		}
	}()

	token, err := st.tokens.AcquireToken(ctx, st.settings.Credentials)
	if err != nil {
		return r.validateFailure(reqID, req.ChannelType, err, "")
	}
	target, err := ParseValidation(req, st.settings.Defaults)
	if err != nil {
		return r.validateFailure(reqID, req.ChannelType, err, "")
	}
	if _, err := st.graph.GetResource(ctx, st.graph.ResourceURL(target), token); err != nil {
		return r.validateFailure(reqID, target.Kind(), err, "")
	}

	r.publish(EventTargetChecked, Check{RequestID: reqID, TargetType: target.Kind(), Valid: true})
	return ValidateResult{Valid: true, Message: validMessage}
}

func (r *Relay) notifyFailure(reqID, targetType string, err error, stack string) NotifyResult {
	kind, msg, status, retry := r.classify(reqID, err, stack)
	r.publish(EventMessageFailed, Failure{RequestID: reqID, TargetType: targetType, Kind: kind, Status: status, Error: msg})
	return NotifyResult{Error: msg, RetryAfter: retry, Kind: kind, Status: status}
}

func (r *Relay) validateFailure(reqID, targetType string, err error, stack string) ValidateResult {
	kind, msg, _, _ := r.classify(reqID, err, stack)
	r.publish(EventTargetChecked, Check{RequestID: reqID, TargetType: targetType, Valid: false})
	return ValidateResult{Error: msg, Kind: kind}
}

// classify is the single place where errors become caller-facing messages.
func (r *Relay) classify(reqID string, err error, stack string) (ErrorKind, string, int, *int) {
	var (
		reqErr *RequestError
		cfgErr *ConfigError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &reqErr):
		return KindInvalidRequest, reqErr.Reason, http.StatusBadRequest, nil
	case errors.As(err, &cfgErr):
		r.log.Warn("relay misconfigured", logx.String("request_id", reqID), logx.String("reason", cfgErr.Reason))
		return KindConfiguration, cfgErr.Reason, http.StatusBadRequest, nil
	case errors.As(err, &apiErr):
		r.log.Warn("teams api error",
			logx.String("request_id", reqID),
			logx.Int("status", apiErr.Status),
			logx.String("error", apiErr.Message),
		)
		return KindRemote, "Teams API error: " + apiErr.Message, apiErr.HTTPStatus(), apiErr.RetryAfter
	default:
		fields := []logx.Field{logx.String("request_id", reqID), logx.Err(err)}
		if stack != "" {
			fields = append(fields, logx.String("stack", stack))
		}
		r.log.Error("unexpected relay failure", fields...)
		return KindInternal, internalErrorMessage, http.StatusInternalServerError, nil
	}
}

func (r *Relay) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}

func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

type requestIDKey struct{}

// ContextWithRequestID tags ctx so relay logs and events carry the inbound request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
