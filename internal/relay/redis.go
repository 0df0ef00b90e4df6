// Package relay shares broadcasts between server instances over Redis pub/sub.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

const (
	defaultRetryMin = time.Second
	defaultRetryMax = 30 * time.Second
)

var errSubscriptionClosed = errors.New("subscription channel closed")

// Local is the in-process fan-out that receives relayed commands.
type Local interface {
	Publish(ctx context.Context, cmd protocol.Command) error
}

// Redis publishes commands to a channel and replays the channel into Local.
type Redis struct {
	client  *redis.Client
	channel string
	local   Local
	logger  *zap.Logger

	retryMin time.Duration
	retryMax time.Duration
}

// NewRedis parses url and returns a relay bound to channel.
func NewRedis(url string, channel string, local Local, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), channel, local, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, channel string, local Local, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:   client,
		channel:  channel,
		local:    local,
		logger:   logger,
		retryMin: defaultRetryMin,
		retryMax: defaultRetryMax,
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish sends cmd to every subscribed instance, including this one. When Redis
// rejects the publish, cmd goes straight to the local hub instead.
func (r *Redis) Publish(ctx context.Context, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("redis publish failed; delivering locally",
			zap.String("channel", r.channel),
			zap.String("type", cmd.CommandType()),
			zap.Error(err),
		)
		return r.local.Publish(ctx, cmd)
	}
	return nil
}

// Run replays the channel into the local hub until ctx ends. Subscription failures
// are logged and retried with backoff; Run only returns nil.
func (r *Redis) Run(ctx context.Context) error {
	delay := r.retryMin
	for {
		subscribed, err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = r.retryMin
		}
		r.logger.Warn("relay subscription failed",
			zap.String("channel", r.channel),
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		if !sleepContext(ctx, delay) {
			return nil
		}
		delay = nextBackoff(delay, r.retryMax)
	}
}

// subscribe holds one subscription open and reports whether it was ever established.
func (r *Redis) subscribe(ctx context.Context) (bool, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errSubscriptionClosed
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Redis) deliver(ctx context.Context, payload string) {
	cmd, err := protocol.Decode([]byte(payload))
	if err != nil {
		r.logger.Warn("relay payload skipped", zap.Error(err))
		return
	}
	if _, ok := cmd.(protocol.Connected); ok {
		r.logger.Warn("relay payload skipped", zap.String("type", protocol.TypeConnected))
		return
	}
	if err := r.local.Publish(ctx, cmd); err != nil {
		r.logger.Warn("relay local publish failed", zap.Error(err))
	}
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func nextBackoff(current time.Duration, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
