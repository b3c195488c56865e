package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errGateway = errors.New("gateway returned 502")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error    { return errGateway }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	cb := New("gateway",
		WithFailureThreshold(2),
		WithTimeout(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errGateway)
	assert.True(t, cb.IsClosed())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errGateway)
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(10 * time.Second)
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New("openai", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, fail)

	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	notFound := errors.New("not found")
	cb := New("database",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, notFound) }),
	)

	_ = cb.Execute(context.Background(), func(context.Context) error { return notFound })
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_Fallback(t *testing.T) {
	cb := New("gateway", WithFailureThreshold(1))
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	err := cb.ExecuteWithFallback(ctx, succeed, func(err error) error {
		assert.ErrorIs(t, err, ErrCircuitOpen)
		return nil
	})
	assert.NoError(t, err)

	cb.Reset()
	assert.True(t, cb.IsClosed())
	assert.Zero(t, cb.Counts().Requests)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "gateway", GatewayBreaker(nil).Name())
	assert.Equal(t, "openai-chat", OpenAIBreaker("openai-chat", nil).Name())
	assert.Equal(t, "database", DatabaseBreaker(nil).Name())
}

func TestCircuitBreaker_StateChangeHookMayQueryBreaker(t *testing.T) {
	var cb *CircuitBreaker
	var seen State
	cb = New("gateway", WithFailureThreshold(1), WithOnStateChange(func(string, State, State) {
		seen = cb.State()
	}))

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, seen)
}

func TestCircuitBreaker_StaleResultIgnored(t *testing.T) {
	cb := New("database", WithFailureThreshold(1))
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error {
		cb.Reset()
		return errGateway
	})

	assert.ErrorIs(t, err, errGateway)
	assert.True(t, cb.IsClosed())
	assert.Equal(t, 1, cb.Counts().TotalFailures)
}
