// Package notify delivers user notifications to an outside channel. Delivery is
// best effort: callers log and drop failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/config"
)

// Message is one notification for one user.
type Message struct {
	UserID  uuid.UUID      `json:"user_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Sink sends a message to its channel.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// New builds the sink selected by cfg.Sink.
func New(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Sink {
	case "", "log":
		return &LogSink{Logger: logger}, nil
	case "webhook":
		return NewWebhookSink(cfg.WebhookURL), nil
	case "sqs":
		return NewSQSSink(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	}
	return nil, fmt.Errorf("unknown notify sink %q", cfg.Sink)
}

// LogSink writes notifications to the structured log. Used in development.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Send(ctx context.Context, m Message) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification", "user_id", m.UserID, "kind", m.Kind, "payload", m.Payload)
	return nil
}
