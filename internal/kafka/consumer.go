package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// EventHandler receives events relayed from other instances
type EventHandler interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Relay consumes the event topic and hands events produced by other
// instances to a local handler
type Relay struct {
	config        *config.KafkaConfig
	origin        string
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewRelay creates a relay. Every instance joins its own consumer group so
// each one sees the full stream.
func NewRelay(cfg *config.KafkaConfig, origin string, handler EventHandler, logger *slog.Logger) (*Relay, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	groupID := cfg.GroupID + "-" + origin
	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		config:        cfg,
		origin:        origin,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming and blocks until the first session is set up
func (r *Relay) Start() error {
	r.logger.Info("starting kafka relay",
		"brokers", r.config.Brokers,
		"topic", r.config.Topic,
		"origin", r.origin,
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			handler := &consumerGroupHandler{
				relay: r,
				ready: r.ready,
			}

			if err := r.consumerGroup.Consume(r.ctx, []string{r.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				r.logger.Error("error from consumer", "error", err)
			}

			if r.ctx.Err() != nil {
				return
			}

			r.ready = make(chan bool)
		}
	}()

	select {
	case <-r.ready:
		r.logger.Info("kafka relay ready")
	case <-r.ctx.Done():
		return r.ctx.Err()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case err, ok := <-r.consumerGroup.Errors():
				if !ok {
					return
				}
				r.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop stops consuming and closes the group
func (r *Relay) Stop() error {
	r.logger.Info("stopping kafka relay")
	r.cancel()
	r.wg.Wait()
	return r.consumerGroup.Close()
}

// handleMessage decodes one record and forwards it unless it came from
// this instance
func (r *Relay) handleMessage(msg *sarama.ConsumerMessage) {
	envelope, err := DecodeEnvelope(msg.Value)
	if err != nil {
		r.logger.Warn("failed to decode event",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return
	}
	if envelope.Origin == r.origin {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.handler.Publish(ctx, envelope.Event); err != nil {
		r.logger.Warn("failed to relay event", "event", envelope.Event.Name, "error", err)
	}
}

// DecodeEnvelope parses a record value written by Producer
func DecodeEnvelope(value []byte) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return envelope, err
	}
	if envelope.Event.Name == "" {
		return envelope, errors.New("event name missing")
	}
	return envelope, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	relay *Relay
	ready chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim relays messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.relay.handleMessage(message)
			session.MarkMessage(message, "")
		}
	}
}
