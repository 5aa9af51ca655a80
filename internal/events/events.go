// Package events announces session lifecycle events on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectSessionEvaluated carries a SessionEvaluated after scoring succeeds.
	SubjectSessionEvaluated = "simpatient.session.evaluated"
	// SubjectSessionEnded carries a SessionEnded when a conversation is closed.
	SubjectSessionEnded = "simpatient.session.ended"
	// SubjectAll matches every session event.
	SubjectAll = "simpatient.session.>"
)

// SessionEvaluated is emitted when a transcript has been scored.
type SessionEvaluated struct {
	SessionID    string    `json:"session_id"`
	CaseID       string    `json:"case_id"`
	OverallScore float64   `json:"overall_score"`
	Turns        int       `json:"turns"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// SessionEnded is emitted when the server drops a conversation.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	CaseID    string    `json:"case_id"`
	Turns     int       `json:"turns"`
	EndedAt   time.Time `json:"ended_at"`
}

// Publisher sends an event to a subject.
type Publisher interface {
	Publish(subject string, data any) error
}

// Nop discards every event. It is used when no NATS URL is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

// Client is a NATS connection that publishes and subscribes to JSON events.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewClient connects to NATS. The connection keeps retrying in the background
// if the server is not up yet.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("simpatient"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// Publish marshals data as JSON and publishes it on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Subscribe calls handler for every message on subject, which may contain
// wildcards.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

// Safe wraps p so that publish failures are logged instead of returned.
func Safe(p Publisher, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return safePublisher{p: p, logger: logger}
}

type safePublisher struct {
	p      Publisher
	logger *slog.Logger
}

func (s safePublisher) Publish(subject string, data any) error {
	if err := s.p.Publish(subject, data); err != nil {
		s.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
	return nil
}
