package ingest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marinealarm/internal/config"
	"marinealarm/internal/domain"
	"marinealarm/internal/permanent"

	"github.com/nats-io/nats.go"
)

// NATSSubscriber consumes readings and statuses via JetStream queue
// consumers and forwards them to sink.
// Params: NATS connection, queue subscriptions, and event sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumers for reading ingestion.
// Params: ingest NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink ReadingSink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond

	readingsSub, err := subscriber.subscribe(js, cfg, cfg.ReadingsSubject, cfg.ConsumerName+"-readings", nackDelay, func(data []byte) error {
		event, err := domain.DecodeReading(data)
		if err != nil {
			return permanent.Mark(err)
		}
		return sink.PushReading(event)
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	subscriber.subs = append(subscriber.subs, readingsSub)

	statusSub, err := subscriber.subscribe(js, cfg, cfg.StatusSubject, cfg.ConsumerName+"-status", nackDelay, func(data []byte) error {
		event, err := domain.DecodeStatus(data)
		if err != nil {
			return permanent.Mark(err)
		}
		return sink.PushStatus(event)
	})
	if err != nil {
		_ = readingsSub.Drain()
		nc.Close()
		return nil, err
	}
	subscriber.subs = append(subscriber.subs, statusSub)

	return subscriber, nil
}

// subscribe opens one queue subscription with shared consumer settings.
// Decode failures are acked (poison messages are not retried); sink failures
// are nacked for redelivery.
// Params: JetStream context, ingest config, subject, durable name, nack
// delay, and handler callback.
// Returns: subscription or setup error.
func (s *NATSSubscriber) subscribe(js nats.JetStreamContext, cfg config.NATSIngestConfig, subject, durable string, nackDelay time.Duration, handle func(data []byte) error) (*nats.Subscription, error) {
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(subject, cfg.DeliverGroup, func(message *nats.Msg) {
		if err := handle(message.Data); err != nil {
			if permanent.Is(err) {
				if s.logger != nil {
					s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
				}
				s.ackMessage(message, "decode")
				return
			}
			if s.logger != nil {
				s.logger.Error("nats ingest push failed", "subject", message.Subject, "error", err.Error())
			}
			s.nackMessage(message, nackDelay)
			return
		}
		s.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", subject, cfg.DeliverGroup, err)
	}
	return sub, nil
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops subscriptions and closes the connection.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.nc.Close()
	return firstErr
}
