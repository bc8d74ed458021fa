// Package publish streams decisions and analysis results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"ratesim/internal/config"
	"ratesim/internal/logging"
	"ratesim/internal/model"
)

const (
	KindDecision = "decision"
	KindReport   = "report"
)

// Event is the JSON payload written to the topic.
type Event struct {
	Kind     string              `json:"kind"`
	ClientID string              `json:"client_id"`
	SentAt   time.Time           `json:"sent_at"`
	Decision *model.Decision     `json:"decision,omitempty"`
	Report   *model.ReportRecord `json:"report,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per event keyed by client id, so a client's
// events stay ordered within a partition.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafka returns nil when publishing is disabled. The writer is async:
// WriteMessages only queues, and delivery errors are logged.
func NewKafka(cfg config.PublishConfig, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires brokers and topic")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", "topic", cfg.Topic, "messages", len(messages), "err", err)
			}
		},
	}
	return newPublisher(w, cfg.Timeout), nil
}

func newPublisher(w messageWriter, timeout time.Duration) *Publisher {
	return &Publisher{writer: w, timeout: timeout, now: time.Now}
}

func (p *Publisher) PublishDecision(ctx context.Context, d model.Decision) error {
	return p.publish(ctx, Event{Kind: KindDecision, ClientID: d.Request.ClientID, Decision: &d})
}

func (p *Publisher) PublishReport(ctx context.Context, rec model.ReportRecord) error {
	return p.publish(ctx, Event{Kind: KindReport, ClientID: rec.ClientID, Report: &rec})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	ev.SentAt = p.now().UTC()
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ClientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
