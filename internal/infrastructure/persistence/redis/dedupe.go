package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/falaja/tutor-bot/pkg/logger"
)

// DefaultDedupeTTL is how long a message id is remembered.
const DefaultDedupeTTL = 10 * time.Minute

type setNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// DedupeGuard remembers inbound message ids in Redis so that every instance
// drops a redelivered message. It fails open: when Redis is unreachable the
// message is processed.
type DedupeGuard struct {
	rdb     setNXer
	ttl     time.Duration
	timeout time.Duration
	log     *logger.Logger
}

// NewDedupeGuard creates a DedupeGuard over client.
func NewDedupeGuard(client *Client, ttl time.Duration, log *logger.Logger) *DedupeGuard {
	return newDedupeGuard(client.Redis(), ttl, log)
}

func newDedupeGuard(rdb setNXer, ttl time.Duration, log *logger.Logger) *DedupeGuard {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DedupeGuard{
		rdb:     rdb,
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
		log:     log.With(logger.Component("redis_dedupe")),
	}
}

// ShouldProcess implements session.Guard.
func (g *DedupeGuard) ShouldProcess(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fresh, err := g.rdb.SetNX(ctx, PrefixDedupe+id, 1, g.ttl).Result()
	if err != nil {
		g.log.Warn("dedupe check failed, processing message", logger.MessageID(id), logger.Err(err))
		return true
	}
	return fresh
}
