package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the subset of *redis.Client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay forwards every snapshot published on the broker to a Redis
// pub/sub channel as the job JSON, the same payload /ws clients receive.
type RedisRelay struct {
	broker  *Broker
	pub     Publisher
	channel string
	log     *zap.Logger
}

func NewRedisRelay(broker *Broker, pub Publisher, channel string, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = "transcriber:jobs"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{broker: broker, pub: pub, channel: channel, log: log}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Run relays until ctx is done or the broker closes. Publish failures are
// logged and do not stop the relay.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.broker.Subscribe()
	defer sub.Close()

	r.log.Info("redis relay started", zap.String("channel", r.channel))
	for {
		jobs, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, job := range jobs {
			payload, err := json.Marshal(job)
			if err != nil {
				r.log.Warn("encode job snapshot", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.log.Warn("redis publish failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}
