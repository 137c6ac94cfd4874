// Package eventexport publishes lifecycle and error events (connection
// established, disposed, SLOW_CONSUMER, IMAGE_LOST, ...) onto a watermill
// publisher, purely for observability — nothing in the hot path depends on
// delivery succeeding (§4.L "Event export", §5).
package eventexport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"log/slog"
)

// Envelope is the wire shape of every exported event.
type Envelope struct {
	Kind      string `json:"kind"`
	SessionID int32  `json:"session_id"`
	Channel   string `json:"channel"`
	At        int64  `json:"at"`
	Detail    string `json:"detail,omitempty"`
}

// Exporter publishes Envelopes to a fixed topic. Publish failures are
// logged and swallowed: event export never influences Connection
// behavior.
type Exporter struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func New(publisher message.Publisher, topic string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{publisher: publisher, topic: topic, logger: logger}
}

// NewAMQPPublisher builds a watermill-amqp publisher against a topic
// exchange.
func NewAMQPPublisher(amqpURI string) (message.Publisher, error) {
	cfg := amqp.NewDurablePubSubConfig(amqpURI, func(topic string) string { return topic })
	pub, err := amqp.NewPublisher(cfg, watermill.NewStdLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("eventexport: building amqp publisher: %w", err)
	}
	return pub, nil
}

func (e *Exporter) Emit(ctx context.Context, kind string, channel string, sessionID int32, detail string) {
	if e == nil || e.publisher == nil {
		return
	}
	payload, err := json.Marshal(Envelope{
		Kind:      kind,
		SessionID: sessionID,
		Channel:   channel,
		At:        time.Now().UnixNano(),
		Detail:    detail,
	})
	if err != nil {
		e.logger.Warn("eventexport: marshal failure", slog.Any("error", err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := e.publisher.Publish(e.topic, msg); err != nil {
		e.logger.Warn("eventexport: publish failed", slog.Any("error", err), slog.String("topic", e.topic))
	}
}

func (e *Exporter) Close() error {
	if e == nil || e.publisher == nil {
		return nil
	}
	return e.publisher.Close()
}
