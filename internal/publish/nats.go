package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marinealarm/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes alarm events into a JetStream stream.
// Params: NATS connection and publish subject settings.
// Returns: publisher implementation for the notification boundary.
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher creates the JetStream publisher for alarm events.
// Params: publish config section.
// Returns: initialized publisher or setup error.
func NewNATSPublisher(cfg config.NATSPublishConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats publish: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for publish: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !cfg.AllowCreateStream {
			nc.Close()
			return nil, fmt.Errorf("open publish stream %q: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create publish stream %q: %w", cfg.Stream, err)
		}
	}

	return &NATSPublisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Publish delivers one alarm event with message-id dedup.
// Params: context and event payload.
// Returns: publish error.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alarm event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	if strings.TrimSpace(event.ID) != "" {
		msg.Header.Set("Nats-Msg-Id", strings.TrimSpace(event.ID))
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish alarm event: %w", err)
	}
	return nil
}

// Close closes the publisher NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}
