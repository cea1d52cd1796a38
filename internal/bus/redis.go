package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// PubSubPayload is the wire envelope for cross-pod fan-out messages.
type PubSubPayload struct {
	ChannelId string          `json:"channelId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	SenderId  string          `json:"senderId,omitempty"`
}

// RedisBus carries room events between pods over Redis pub/sub. The Hub
// publishes every channel send through it; Subscribe can forward another
// pod's events to a handler, but nothing in this repository subscribes, so
// each pod's Hub delivers only the events raised in that pod.
type RedisBus struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisBus dials addr and verifies connectivity before returning.
func NewRedisBus(addr, password string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(metrics.CircuitBreakerStateValue(stateName(to)))
		},
	}

	slog.Info("connected to redis event bus", "addr", addr)
	return &RedisBus{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Client exposes the underlying client (nil for a nil bus).
func (b *RedisBus) Client() *redis.Client {
	if b == nil {
		return nil
	}
	return b.client
}

func channelName(channelId string) string {
	return fmt.Sprintf("sfu:channel:%s", channelId)
}

// Publish republishes a locally-emitted event to every other pod's
// subscribers of channelId. Graceful degradation: when the breaker is
// open, the message is dropped and the caller proceeds uninterrupted.
func (b *RedisBus) Publish(ctx context.Context, channelId, event string, payload any, senderId string) error {
	if b == nil || b.client == nil {
		return nil
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		inner, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		msg := PubSubPayload{ChannelId: channelId, Event: event, Payload: inner, SenderId: senderId}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		return nil, b.client.Publish(ctx, channelName(channelId), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit open, dropping publish", "channel_id", channelId)
			return nil
		}
		slog.Error("redis publish failed", "channel_id", channelId, "error", err)
		return err
	}
	return nil
}

// Subscribe starts a background goroutine forwarding messages published by
// other pods on channelId to handler, until ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, channelId string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if b == nil || b.client == nil {
		return
	}

	pubsub := b.client.Subscribe(ctx, channelName(channelId))
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("failed to unmarshal redis event", "error", err)
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping verifies Redis connectivity for health checks.
func (b *RedisBus) Ping(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// SetAdd adds member to a Redis set.
func (b *RedisBus) SetAdd(ctx context.Context, key, member string) error {
	if b == nil || b.client == nil {
		return nil
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		return fmt.Errorf("set add: %w", err)
	}
	return nil
}

// SetRem removes member from a Redis set.
func (b *RedisBus) SetRem(ctx context.Context, key, member string) error {
	if b == nil || b.client == nil {
		return nil
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		return fmt.Errorf("set rem: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis set.
func (b *RedisBus) SetMembers(ctx context.Context, key string) ([]string, error) {
	if b == nil || b.client == nil {
		return nil, nil
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("set members: %w", err)
	}
	return res.([]string), nil
}
