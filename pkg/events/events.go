// Package events publishes scoring outcomes to NATS with OpenTelemetry
// trace propagation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultSubject is where computed scores are published.
const DefaultSubject = "microscore.score.computed"

// Event describes a computed score.
type Event struct {
	UserID      string    `json:"user_id"`
	Score       int       `json:"score"`
	Raw         float64   `json:"score_raw"`
	CreditLimit int       `json:"creditLimit"`
	Source      string    `json:"source"`
	Time        time.Time `json:"time"`
}

// Publisher emits score events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NATS publishes events as JSON on a single subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// Connect dials the NATS server at url. An empty subject uses DefaultSubject.
func Connect(url, subject string) (*NATS, error) {
	if url == "" {
		return nil, errors.New("nats url not specified")
	}
	nc, err := nats.Connect(url,
		nats.Name("microscore"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return NewNATS(nc, subject), nil
}

// NewNATS wraps an existing connection.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{nc: nc, subject: subject}
}

// Subject returns the subject events are published on.
func (p *NATS) Subject() string { return p.subject }

// Publish sends e. Trace context from ctx travels in the message headers.
func (p *NATS) Publish(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	msg, err := newMsg(ctx, p.subject, e)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATS) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    b,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
