// Package audit records relay outcomes off the hot path.
//
// Sink subscribes to the event bus and, for each event, appends an audit
// entry to the store, exports delivery events to Kafka, and updates metrics.
// Pruner trims old entries on a cron schedule.
package audit

import (
	"context"
	"strconv"
	"time"

	"teamsrelay/internal/eventbus"
	"teamsrelay/internal/metrics"
	"teamsrelay/internal/storage"
	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
	drainTimeout  = 2 * time.Second
)

type Sink struct {
	store   storage.Store
	pub     Publisher
	metrics *metrics.Metrics
	log     logx.Logger

	ch    <-chan eventbus.Event
	unsub func()
}

// Options wires a Sink. Store, Publisher and Metrics are each optional.
type Options struct {
	Bus       eventbus.Bus
	Store     storage.Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Log       logx.Logger
	Buffer    int
}

// NewSink subscribes immediately so events published before Run are queued.
func NewSink(o Options) *Sink {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultBuffer
	}
	s := &Sink{
		store:   o.Store,
		pub:     o.Publisher,
		metrics: o.Metrics,
		log:     o.Log.With(logx.String("comp", "audit")),
	}
	s.ch, s.unsub = o.Bus.Subscribe(o.Buffer,
		teams.EventMessageSent, teams.EventMessageFailed, teams.EventTargetChecked)
	return s
}

// Run consumes events until ctx is done, then drains what is already queued.
// It may be restarted; Close ends the subscription for good.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain(s.ch)
			return nil
		case e, ok := <-s.ch:
			if !ok {
				return nil
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Sink) Close() { s.unsub() }

func (s *Sink) drain(ch <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, e)
		default:
			return
		}
	}
}

func (s *Sink) handle(ctx context.Context, e eventbus.Event) {
	switch d := e.Data.(type) {
	case teams.Delivery:
		if s.metrics != nil {
			s.metrics.MessagesSent.WithLabelValues(d.TargetType).Inc()
		}
		s.append(ctx, EntryFromDelivery(d))
		s.export(ctx, e)
	case teams.Failure:
		if s.metrics != nil {
			s.metrics.MessagesFailed.WithLabelValues(d.Kind.String()).Inc()
		}
		s.append(ctx, EntryFromFailure(e.Time, d))
	case teams.Check:
		if s.metrics != nil {
			s.metrics.TargetChecks.WithLabelValues(strconv.FormatBool(d.Valid)).Inc()
		}
	default:
		s.log.Debug("unexpected event payload", logx.String("type", e.Type))
	}
}

func (s *Sink) append(ctx context.Context, entry storage.AuditEntry) {
	if s.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := s.store.AppendAudit(wctx, entry)
	cancel()
	if s.metrics != nil {
		s.metrics.AuditWrites.WithLabelValues(metrics.Result(err)).Inc()
	}
	if err != nil {
		s.log.Warn("audit append failed", logx.String("request_id", entry.RequestID), logx.Err(err))
	}
}

func (s *Sink) export(ctx context.Context, e eventbus.Event) {
	if s.pub == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := s.pub.Publish(wctx, e)
	cancel()
	if s.metrics != nil {
		s.metrics.EventsExported.WithLabelValues(metrics.Result(err)).Inc()
	}
	if err != nil {
		s.log.Warn("event export failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func EntryFromDelivery(d teams.Delivery) storage.AuditEntry {
	return storage.AuditEntry{
		At:         d.DeliveredAt,
		RequestID:  d.RequestID,
		Outcome:    storage.OutcomeSent,
		TargetType: d.TargetType,
		TeamID:     d.TeamID,
		ChannelID:  d.ChannelID,
		ChatID:     d.ChatID,
		MessageID:  d.MessageID,
		Format:     d.Format,
		Status:     200,
	}
}

func EntryFromFailure(at time.Time, f teams.Failure) storage.AuditEntry {
	return storage.AuditEntry{
		At:         at,
		RequestID:  f.RequestID,
		Outcome:    storage.OutcomeFailed,
		TargetType: f.TargetType,
		Status:     f.Status,
		ErrorKind:  f.Kind.String(),
		Error:      f.Error,
	}
}

func requestID(data any) string {
	switch d := data.(type) {
	case teams.Delivery:
		return d.RequestID
	case teams.Failure:
		return d.RequestID
	case teams.Check:
		return d.RequestID
	}
	return ""
}
