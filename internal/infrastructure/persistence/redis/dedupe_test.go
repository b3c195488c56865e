package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type fakeSetNX struct {
	seen map[string]bool
	err  error
	ttl  time.Duration
}

func (f *fakeSetNX) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	f.ttl = ttl
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.seen[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.seen[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestDedupeGuard(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSetNX{seen: map[string]bool{}}
	g := newDedupeGuard(fake, 0, nil)

	assert.True(t, g.ShouldProcess(ctx, "wamid.1"))
	assert.False(t, g.ShouldProcess(ctx, "wamid.1"))
	assert.True(t, g.ShouldProcess(ctx, "wamid.2"))
	assert.True(t, fake.seen["dedupe:wamid.1"])
	assert.Equal(t, DefaultDedupeTTL, fake.ttl)

	assert.True(t, g.ShouldProcess(ctx, ""))
}

func TestDedupeGuard_FailsOpen(t *testing.T) {
	g := newDedupeGuard(&fakeSetNX{err: errors.New("dial tcp: connection refused")}, time.Minute, nil)

	assert.True(t, g.ShouldProcess(context.Background(), "wamid.1"))
	assert.True(t, g.ShouldProcess(context.Background(), "wamid.1"))
}
