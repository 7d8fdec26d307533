package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher delivers lifecycle events. A returned error means the event was
// not delivered; callers decide whether that is fatal.
type Publisher interface {
	Publish(ctx context.Context, event Event, severity Severity) error
}

// RoutingKeyPrefix prefixes every event kind on the exchange
const RoutingKeyPrefix = "simulation."

// Envelope is the JSON document sent over AMQP
type Envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

// messagePublisher is the subset of the RabbitMQ client used for events
type messagePublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitPublisher publishes events as JSON envelopes to a topic exchange,
// routed by simulation.<kind>
type RabbitPublisher struct {
	client messagePublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewRabbitPublisher creates a new RabbitPublisher instance
func NewRabbitPublisher(client messagePublisher, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Publish marshals the event into an Envelope and publishes it
func (p *RabbitPublisher) Publish(ctx context.Context, event Event, severity Severity) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	envelope := Envelope{
		ID:        uuid.New().String(),
		Kind:      event.Kind(),
		Severity:  severity,
		Timestamp: p.now().UTC(),
		Payload:   event,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKeyPrefix + string(event.Kind())
	if err := p.client.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind(), err)
	}

	p.logger.Debug("Event published",
		slog.String("event_id", envelope.ID),
		slog.String("kind", string(envelope.Kind)),
		slog.String("severity", string(severity)),
	)

	return nil
}

// LogPublisher writes events to the logger; used when RabbitMQ is disabled
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a new LogPublisher instance
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event at a level matching its severity
func (p *LogPublisher) Publish(ctx context.Context, event Event, severity Severity) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}

	p.logger.Log(ctx, level, "Simulation event",
		slog.String("kind", string(event.Kind())),
		slog.Any("payload", event),
	)

	return nil
}
