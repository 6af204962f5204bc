package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// EventTypeNewHigh tags published new-high events.
const EventTypeNewHigh = "new_high"

// Event is the machine-readable form of a notification published to brokers.
type Event struct {
	ID            string    `json:"event_id"`
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol"`
	Quote         string    `json:"quote"`
	Rate          string    `json:"rate"`
	PreviousHigh  string    `json:"previous_high"`
	EffectiveDays int       `json:"effective_days"`
	ObservedAt    time.Time `json:"observed_at"`
}

// NewEvent converts a notification into a uniquely identified event.
func NewEvent(note Notification) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          EventTypeNewHigh,
		Symbol:        note.Symbol,
		Quote:         note.Quote,
		Rate:          note.Rate.String(),
		PreviousHigh:  note.PreviousHigh.String(),
		EffectiveDays: note.EffectiveDays,
		ObservedAt:    note.ObservedAt.UTC(),
	}
}

func encodeEvent(note Notification) (Event, []byte, error) {
	event := NewEvent(note)
	payload, err := json.Marshal(event)
	if err != nil {
		return Event{}, nil, fmt.Errorf("marshal event: %w", err)
	}
	return event, payload, nil
}

// RedisOptions configure the pub/sub publisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
}

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher constructs a publisher; the connection is established lazily.
func NewRedisPublisher(opts RedisOptions, logger zerolog.Logger) *RedisPublisher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &RedisPublisher{
		client:  client,
		channel: opts.Channel,
		logger:  logger.With().Str("component", "alert_redis").Logger(),
	}
}

// Notify publishes the event JSON.
func (p *RedisPublisher) Notify(ctx context.Context, note Notification) error {
	event, payload, err := encodeEvent(note)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.logger.Debug().Str("event_id", event.ID).Int64("receivers", receivers).Msg("event published")
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// KafkaPublisher writes events to a Kafka topic keyed by symbol.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher constructs a topic writer.
func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration, logger zerolog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: timeout,
		},
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Notify writes the event JSON.
func (p *KafkaPublisher) Notify(ctx context.Context, note Notification) error {
	event, payload, err := encodeEvent(note)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(note.Symbol),
		Value: payload,
		Time:  note.ObservedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	p.logger.Debug().Str("event_id", event.ID).Msg("event published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var (
	_ Notifier = (*RedisPublisher)(nil)
	_ Notifier = (*KafkaPublisher)(nil)
)
