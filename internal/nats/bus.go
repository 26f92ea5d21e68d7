package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// EventHandler receives events published by other instances
type EventHandler interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Bus publishes domain events on NATS subjects and relays events from
// other instances
type Bus struct {
	nc     *nats.Conn
	prefix string
	origin string
	logger *slog.Logger
	sub    *nats.Subscription
}

// Connect dials NATS with unbounded reconnects
func Connect(cfg *config.NATSConfig, origin string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("photohunt-" + origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	logger.Info("connected to nats", "url", nc.ConnectedUrl(), "subject_prefix", cfg.SubjectPrefix)
	return &Bus{nc: nc, prefix: cfg.SubjectPrefix, origin: origin, logger: logger}, nil
}

// Subject maps an event name to its subject, e.g. game:winner under
// photohunt.events becomes photohunt.events.game.winner
func Subject(prefix, eventName string) string {
	return prefix + "." + strings.ReplaceAll(eventName, ":", ".")
}

// Publish sends an event on its subject
func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(domain.EventEnvelope{Origin: b.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.nc.Publish(Subject(b.prefix, event.Name), data); err != nil {
		return fmt.Errorf("publishing %s: %w", event.Name, err)
	}
	return nil
}

// Relay subscribes to every event subject and forwards events that
// originated elsewhere to handler
func (b *Bus) Relay(handler EventHandler) error {
	sub, err := b.nc.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		event, ok := b.decode(msg.Data)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handler.Publish(ctx, event); err != nil {
			b.logger.Warn("failed to relay event", "event", event.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.prefix, err)
	}
	b.sub = sub
	return nil
}

// decode parses an envelope and drops events this instance produced
func (b *Bus) decode(data []byte) (domain.Event, bool) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logger.Warn("failed to decode event", "error", err)
		return domain.Event{}, false
	}
	if envelope.Origin == b.origin || envelope.Event.Name == "" {
		return domain.Event{}, false
	}
	return envelope.Event, true
}

// Close drains the subscription and the connection
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn("nats drain failed", "error", err)
		b.nc.Close()
	}
}
