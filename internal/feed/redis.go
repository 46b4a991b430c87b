package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ideaforge/api/internal/store"
)

const (
	recentKey      = "activity:recent"
	activityTopic  = "activity"
	defaultHistory = 200
)

// Redis keeps a capped list of recent events and publishes each one on a
// pub/sub channel.
type Redis struct {
	client  *redis.Client
	history int64
}

func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, history: defaultHistory}
}

func (r *Redis) Publish(ctx context.Context, event store.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, recentKey, payload)
		pipe.LTrim(ctx, recentKey, 0, r.history-1)
		pipe.Publish(ctx, activityTopic, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish activity to redis: %w", err)
	}
	return nil
}

// Recent returns up to n cached events, newest first.
func (r *Redis) Recent(ctx context.Context, n int) ([]store.ActivityEvent, error) {
	if n <= 0 {
		n = 50
	}
	raw, err := r.client.LRange(ctx, recentKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent activity: %w", err)
	}
	events := make([]store.ActivityEvent, 0, len(raw))
	for _, item := range raw {
		var event store.ActivityEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decode cached activity: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Subscribe streams published events until ctx is done.
func (r *Redis) Subscribe(ctx context.Context) (<-chan store.ActivityEvent, error) {
	sub := r.client.Subscribe(ctx, activityTopic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to activity: %w", err)
	}
	out := make(chan store.ActivityEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event store.ActivityEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
