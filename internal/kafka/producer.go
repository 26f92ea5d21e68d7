package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

var (
	// ErrBufferFull is returned when events arrive faster than the broker
	// takes them
	ErrBufferFull = errors.New("kafka producer buffer full")
	// ErrProducerClosed is returned by Publish after Close
	ErrProducerClosed = errors.New("kafka producer closed")
)

// Producer publishes domain events to a Kafka topic. Publish only ever
// enqueues; a forwarder goroutine feeds sarama.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	origin   string
	logger   *slog.Logger

	queue     chan *sarama.ProducerMessage
	forwarded chan struct{}
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// NewProducer creates an async producer for the configured topic. Origin
// is stamped on every envelope.
func NewProducer(cfg *config.KafkaConfig, origin string, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = cfg.FlushTimeout
	saramaConfig.Producer.Return.Errors = true

	ap, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	logger.Info("kafka producer ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newProducer(ap, cfg.Topic, origin, saramaConfig.ChannelBufferSize, logger), nil
}

func newProducer(ap sarama.AsyncProducer, topic, origin string, buffer int, logger *slog.Logger) *Producer {
	p := &Producer{
		producer:  ap,
		topic:     topic,
		origin:    origin,
		logger:    logger,
		queue:     make(chan *sarama.ProducerMessage, buffer),
		forwarded: make(chan struct{}),
	}

	go func() {
		defer close(p.forwarded)
		for msg := range p.queue {
			ap.Input() <- msg
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range ap.Errors() {
			p.logger.Error("failed to deliver event", "error", err.Err, "topic", err.Msg.Topic)
		}
	}()

	return p
}

// Publish queues an event without waiting on the broker. Events are keyed
// by team so one team's events stay ordered within a partition.
func (p *Producer) Publish(_ context.Context, event domain.Event) error {
	value, err := json.Marshal(domain.EventEnvelope{Origin: p.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event.Name)},
		},
	}
	if event.TeamID != "" {
		msg.Key = sarama.StringEncoder(event.TeamID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close hands queued events to sarama, then flushes and stops it
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.forwarded
	p.producer.AsyncClose()
	p.wg.Wait()
}
