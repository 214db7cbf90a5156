package gateway

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/mediocregopher/radix/v3"
	"golang.org/x/time/rate"
)

// IdentifyRatelimiter is consulted before every identify, the gateway only
// allows one identify per 5 seconds per bot (per bucket with max concurrency)
type IdentifyRatelimiter interface {
	RatelimitIdentify(ctx context.Context, shardID int) error
}

// StdIdentifyRatelimiter is an in-process identify limiter
type StdIdentifyRatelimiter struct {
	limiter *rate.Limiter
}

func NewStdIdentifyRatelimiter() *StdIdentifyRatelimiter {
	return &StdIdentifyRatelimiter{
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (rl *StdIdentifyRatelimiter) RatelimitIdentify(ctx context.Context, shardID int) error {
	return rl.limiter.Wait(ctx)
}

// RedisIdentifyRatelimiter shares the identify limit between processes
// through a redis key set with NX and a 5 second expiry.
type RedisIdentifyRatelimiter struct {
	Client radix.Client
	Key    string

	// how long to sleep between attempts to claim the key
	PollInterval time.Duration
}

func NewRedisIdentifyRatelimiter(client radix.Client) *RedisIdentifyRatelimiter {
	return &RedisIdentifyRatelimiter{
		Client:       client,
		Key:          "dgateway.gateway.identify.limit",
		PollInterval: time.Second,
	}
}

func (rl *RedisIdentifyRatelimiter) RatelimitIdentify(ctx context.Context, shardID int) error {
	for {
		var resp string
		err := rl.Client.Do(radix.Cmd(&resp, "SET", rl.Key, "1", "EX", "5", "NX"))
		if err != nil {
			logger.WithError(err).WithField("shard", shardID).Error("failed ratelimiting gateway identify")
		} else if resp == "OK" {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(rl.PollInterval):
		}
	}
}
