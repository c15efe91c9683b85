package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_SucceedsAfterFailures(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_Exhausted(t *testing.T) {
	var retried []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }
	r := NewBackoffRetryer(p, nil)

	boom := errors.New("persistent")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestBackoffRetryer_Permanent(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	boom := errors.New("bad request")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return Permanent(boom)
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	p := fastPolicy(3)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := NewBackoffRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Do(ctx, func() error {
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffRetryer_Delay(t *testing.T) {
	r := NewBackoffRetryer(Policy{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(4))
}

func TestNewBackoffRetryer_Defaults(t *testing.T) {
	r := NewBackoffRetryer(Policy{MaxRetries: -1, Multiplier: 0.5}, nil).(*backoffRetryer)

	def := DefaultPolicy()
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, def.InitialDelay, r.policy.InitialDelay)
	assert.Equal(t, def.MaxDelay, r.policy.MaxDelay)
	assert.Equal(t, def.Multiplier, r.policy.Multiplier)
}
