package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream scheduling events are appended to.
const DefaultStream = "clinic.scheduling.events"

// RedisPublisher appends events to a Redis stream with XADD. Consumers read
// the stream with their own consumer group.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to redisURL (redis://host:port/db).
func NewRedisPublisher(redisURL, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notification: parse redis url: %w", err)
	}
	return NewRedisPublisherWithClient(redis.NewClient(opts), stream), nil
}

func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: 100000}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notification: marshal event: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"subject":    evt.Subject,
			"payload":    string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("notification: xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping is used by the readiness check.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
