package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"booking_worker/core/domain"
)

// TriggerHandler takes over one dequeued trigger.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, trigger domain.Trigger) error
}

// TriggerHandlerFunc adapts a function to TriggerHandler.
type TriggerHandlerFunc func(ctx context.Context, trigger domain.Trigger) error

func (f TriggerHandlerFunc) HandleTrigger(ctx context.Context, trigger domain.Trigger) error {
	return f(ctx, trigger)
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Batch    int
	Block    time.Duration
	Handler  TriggerHandler
	Logger   zerolog.Logger
}

// TriggerConsumer reads triggers from a Redis Stream consumer group.
type TriggerConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration
	handler  TriggerHandler
	log      zerolog.Logger

	retryDelay time.Duration
}

// NewTriggerConsumer creates a consumer, filling unset tuning values with defaults.
func NewTriggerConsumer(client *redis.Client, cfg *ConsumerConfig) *TriggerConsumer {
	c := &TriggerConsumer{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		batch:    int64(cfg.Batch),
		block:    cfg.Block,
		handler:  cfg.Handler,
		log:      cfg.Logger.With().Str("component", "trigger_consumer").Logger(),

		retryDelay: time.Second,
	}
	if c.stream == "" {
		c.stream = DefaultTriggerStream
	}
	if c.batch <= 0 {
		c.batch = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *TriggerConsumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("stream", c.stream).
		Str("group", c.group).
		Str("consumer", c.consumer).
		Msg("starting trigger consumer")

	if err := c.createGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.batch,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// handle hands one entry to the handler. The entry is acked whatever the
// handler returns; failed triggers are not redelivered.
func (c *TriggerConsumer) handle(ctx context.Context, msg redis.XMessage) {
	defer c.ack(ctx, msg.ID)

	env, err := decodeTrigger(msg.Values)
	if err != nil {
		c.log.Warn().Err(err).Str("id", msg.ID).Msg("dropping malformed trigger")
		return
	}

	if err := c.handler.HandleTrigger(ctx, env.Trigger); err != nil {
		c.log.Error().
			Err(err).
			Str("id", msg.ID).
			Str("bucket", env.Trigger.Bucket).
			Str("key", env.Trigger.Key).
			Msg("error handing off trigger")
	}
}

func (c *TriggerConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("error acknowledging trigger")
	}
}

func (c *TriggerConsumer) createGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}
