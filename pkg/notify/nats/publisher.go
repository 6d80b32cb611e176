// Package nats publishes role changes to a NATS subject so other services can
// react to upgrades and downgrades without polling role storage.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/gorole"
)

// DefaultSubject is used when Config.Subject is empty.
const DefaultSubject = "gorole.role.changed"

// ErrNoConnection is returned by NewPublisher when conn is nil.
var ErrNoConnection = errors.New("nats connection is required")

// Config configures a Publisher.
type Config struct {
	// Subject receives one message per role change.
	Subject string

	// FlushTimeout bounds the wait for the server to acknowledge the publish.
	// Zero means messages are buffered and flushed by the client in the background.
	FlushTimeout time.Duration

	Logger gorole.Logger
}

// Message is the JSON body published for each role change.
type Message struct {
	UserID         string    `json:"user_id"`
	PreviousRoleID *int      `json:"previous_role_id,omitempty"`
	NewRoleID      int       `json:"new_role_id"`
	Provider       string    `json:"provider"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id,omitempty"`
	EventTimestamp time.Time `json:"event_timestamp"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PriceID        string    `json:"price_id,omitempty"`
}

// Publisher sends billing.RoleChangeEvent values to NATS.
type Publisher struct {
	conn   *nats.Conn
	config Config
}

// NewPublisher wraps an established connection. The caller owns conn.
func NewPublisher(conn *nats.Conn, config Config) (*Publisher, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.Logger == nil {
		config.Logger = &gorole.NoopLogger{}
	}
	return &Publisher{conn: conn, config: config}, nil
}

// Subject returns the subject messages are published on.
func (p *Publisher) Subject() string {
	return p.config.Subject
}

// Publish encodes event and sends it. With a FlushTimeout set, it also waits
// for the server round trip, bounded by ctx.
func (p *Publisher) Publish(ctx context.Context, event billing.RoleChangeEvent) error {
	data, err := json.Marshal(messageFromEvent(event))
	if err != nil {
		return fmt.Errorf("encode role change: %w", err)
	}
	if err := p.conn.Publish(p.config.Subject, data); err != nil {
		return fmt.Errorf("publish role change for user %s: %w", event.UserID, err)
	}
	if p.config.FlushTimeout <= 0 {
		return nil
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.config.FlushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush role change for user %s: %w", event.UserID, err)
	}
	return nil
}

// Callback returns a billing.RoleChangeCallback that publishes every change.
func (p *Publisher) Callback() billing.RoleChangeCallback {
	return func(ctx context.Context, event billing.RoleChangeEvent) error {
		if err := p.Publish(ctx, event); err != nil {
			p.config.Logger.Warn("role change not published",
				gorole.Field{Key: "subject", Value: p.config.Subject},
				gorole.Field{Key: "user_id", Value: event.UserID},
				gorole.Field{Key: "error", Value: err})
			return err
		}
		return nil
	}
}

func messageFromEvent(e billing.RoleChangeEvent) Message {
	return Message{
		UserID:         e.UserID,
		PreviousRoleID: e.PreviousRoleID,
		NewRoleID:      e.NewRoleID,
		Provider:       e.Provider,
		EventType:      e.EventType,
		EventID:        e.EventID,
		EventTimestamp: e.EventTimestamp.UTC(),
		SubscriptionID: e.SubscriptionID,
		PriceID:        e.PriceID,
	}
}
