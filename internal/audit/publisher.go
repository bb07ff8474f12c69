package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	k "github.com/segmentio/kafka-go"

	"teamsrelay/internal/eventbus"
)

// Publisher exports relay events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, e eventbus.Event) error
	Close() error
}

// Envelope is the wire form of an exported event.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type kafkaPublisher struct {
	w *k.Writer
}

// KafkaConfig configures NewKafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

func NewKafkaPublisher(cfg KafkaConfig) Publisher {
	bt := cfg.BatchTimeout
	if bt <= 0 {
		bt = 5 * time.Millisecond
	}
	return &kafkaPublisher{w: &k.Writer{
		Addr:                   k.TCP(cfg.Brokers...),
		Topic:                  strings.TrimSpace(cfg.Topic),
		Balancer:               &k.LeastBytes{},
		BatchTimeout:           bt,
		RequiredAcks:           k.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *kafkaPublisher) Publish(ctx context.Context, e eventbus.Event) error {
	msg, err := encodeMessage(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }

// encodeMessage keys by request id so one request's events share a partition.
func encodeMessage(e eventbus.Event) (k.Message, error) {
	b, err := json.Marshal(Envelope{Type: e.Type, Time: e.Time.UTC(), Data: e.Data})
	if err != nil {
		return k.Message{}, err
	}
	msg := k.Message{
		Value:   b,
		Time:    e.Time,
		Headers: []k.Header{{Key: "event-type", Value: []byte(e.Type)}},
	}
	if id := requestID(e.Data); id != "" {
		msg.Key = []byte(id)
	}
	return msg, nil
}
