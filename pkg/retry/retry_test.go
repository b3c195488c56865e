package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

func fast(opts ...Option) []Option {
	return append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	var retried []int

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errUpstream)
		}
		return nil
	}, fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))...)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ReturnsUnwrappedErrorAfterLastAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Retryable(errUpstream)
	}, fast(WithMaxAttempts(2))...)

	assert.Equal(t, errUpstream, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_StopsOnPermanentAndPlainErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errUpstream)
	}, fast()...)
	assert.Equal(t, errUpstream, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = Do(context.Background(), func(context.Context) error {
		attempts++
		return errUpstream
	}, fast()...)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetryIf(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), func(context.Context) error {
		attempts++
		return errUpstream
	}, fast(WithMaxAttempts(4), WithRetryIf(func(err error) bool { return errors.Is(err, errUpstream) }))...)

	assert.Equal(t, 4, attempts)
}

func TestDo_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	got, err := DoWithData(context.Background(), func(context.Context) ([]byte, error) {
		return []byte("audio"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), got)
}

func TestCalculateDelay_IsCapped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithMultiplier(10), WithJitter(0))
	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 3*time.Second, r.calculateDelay(2))
}
