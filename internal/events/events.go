// Package events publishes feedback and prompt-update events to NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/prompts"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
)

// Event types, appended to the subject prefix to form the subject.
const (
	TypeFeedbackSubmitted = "feedback.submitted"
	TypePromptUpdated     = "prompt.updated"
)

const defaultSubjectPrefix = "promptsmith"

var _ refine.Notifier = (*Notifier)(nil)

// Envelope wraps every published payload.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// FeedbackSubmitted is the payload of TypeFeedbackSubmitted.
type FeedbackSubmitted struct {
	Record   feedback.Record   `json:"record"`
	Decision feedback.Decision `json:"decision"`
}

// PromptUpdated is the payload of TypePromptUpdated.
type PromptUpdated struct {
	Version     prompts.Version `json:"version"`
	FeedbackIDs []int64         `json:"feedback_ids"`
}

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier publishes refinement events.
type Notifier struct {
	publisher Publisher
	prefix    string
	now       func() time.Time
}

// NewNotifier returns a Notifier publishing under prefix.
func NewNotifier(p Publisher, prefix string) (*Notifier, error) {
	if p == nil {
		return nil, errors.New("publisher is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Notifier{publisher: p, prefix: prefix, now: time.Now}, nil
}

// Subject returns the full subject for an event type.
func (n *Notifier) Subject(eventType string) string {
	return n.prefix + "." + eventType
}

// FeedbackSubmitted publishes an accepted feedback record.
func (n *Notifier) FeedbackSubmitted(ctx context.Context, rec feedback.Record, decision feedback.Decision) error {
	return n.publish(ctx, TypeFeedbackSubmitted, FeedbackSubmitted{Record: rec, Decision: decision})
}

// PromptUpdated publishes a new prompt version.
func (n *Notifier) PromptUpdated(ctx context.Context, version prompts.Version, feedbackIDs []int64) error {
	return n.publish(ctx, TypePromptUpdated, PromptUpdated{Version: version, FeedbackIDs: feedbackIDs})
}

func (n *Notifier) publish(ctx context.Context, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	body, err := json.Marshal(Envelope{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   n.now().UTC(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	subject := n.Subject(eventType)
	if err := n.publisher.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Conn is a NATS connection used as a Publisher.
type Conn struct {
	nc *nats.Conn
}

// Connect dials the configured NATS server. The connection retries in the
// background when the server is not yet reachable.
func Connect(cfg config.EventsConfig) (*Conn, error) {
	url := strings.TrimSpace(cfg.NATSURL)
	if url == "" {
		return nil, errors.New("events nats_url is required")
	}
	logger := logging.Logger()
	opts := []nats.Option{
		nats.Name("promptsmith"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Conn{nc: nc}, nil
}

// Publish sends data to subject.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Close flushes pending messages and closes the connection.
func (c *Conn) Close() {
	if err := c.nc.FlushTimeout(2 * time.Second); err != nil {
		logging.Logger().Warn("nats flush failed", "err", err)
	}
	c.nc.Close()
}
