package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/interfaces"
)

// RedisStore relays session notifications between server processes over a
// Redis pub/sub channel
type RedisStore struct {
	client  *redis.Client
	channel string
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, channel: cfg.Channel}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Publish sends a notification to every subscribed process
func (s *RedisStore) Publish(ctx context.Context, n interfaces.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe listens on the notification channel until ctx ends
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan interfaces.Notification, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	// Wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	out := make(chan interfaces.Notification, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n interfaces.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					log.Printf("[RedisStore] Dropping malformed notification: %v", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
