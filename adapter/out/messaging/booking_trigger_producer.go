// Package messaging provides the Redis Stream trigger queue.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"booking_worker/core/domain"
)

// DefaultTriggerStream is used when no stream name is configured.
const DefaultTriggerStream = "inbound:email"

// triggerEnvelope is the JSON stored under the "data" field of each entry.
type triggerEnvelope struct {
	ID         string         `json:"id"`
	Trigger    domain.Trigger `json:"trigger"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func encodeTrigger(trigger domain.Trigger, now time.Time) (string, []byte, error) {
	env := triggerEnvelope{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		EnqueuedAt: now.UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	return env.ID, data, nil
}

func decodeTrigger(values map[string]interface{}) (triggerEnvelope, error) {
	var env triggerEnvelope
	data, ok := values["data"]
	if !ok {
		return env, fmt.Errorf("invalid message format: missing data field")
	}
	dataStr, ok := data.(string)
	if !ok {
		return env, fmt.Errorf("invalid message format: data is not a string")
	}
	if err := json.Unmarshal([]byte(dataStr), &env); err != nil {
		return env, fmt.Errorf("invalid trigger payload: %w", err)
	}
	if env.Trigger.Bucket == "" || env.Trigger.Key == "" {
		return env, fmt.Errorf("invalid trigger payload: bucket and key are required")
	}
	return env, nil
}

// TriggerProducer implements out.TriggerPublisher on a Redis Stream.
type TriggerProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewTriggerProducer creates a producer. maxLen of zero leaves the stream untrimmed.
func NewTriggerProducer(client *redis.Client, stream string, maxLen int64) *TriggerProducer {
	if stream == "" {
		stream = DefaultTriggerStream
	}
	return &TriggerProducer{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends the trigger and returns the envelope id.
func (p *TriggerProducer) Publish(ctx context.Context, trigger domain.Trigger) (string, error) {
	id, data, err := encodeTrigger(trigger, time.Now())
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("failed to publish trigger: %w", err)
	}
	return id, nil
}

// Stream returns the stream name.
func (p *TriggerProducer) Stream() string { return p.stream }
