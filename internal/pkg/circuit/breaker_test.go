package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("下游超时")

func tripBreaker(t *testing.T, b *Breaker, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		err := b.Do(func() error { return errDownstream })
		require.ErrorIs(t, err, errDownstream)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	assert.Equal(t, StateClosed, b.State())

	tripBreaker(t, b, 2)
	assert.Equal(t, StateClosed, b.State())

	tripBreaker(t, b, 1)
	assert.Equal(t, StateOpen, b.State())

	// 断开态不触达下游
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.ErrorContains(t, err, "test")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	tripBreaker(t, b, 2)
	require.NoError(t, b.Do(func() error { return nil }))

	// 计数清零后需重新累计到阈值
	tripBreaker(t, b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	tripBreaker(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	// 冷却后放行一次试探，失败则回到断开态
	err := b.Do(func() error { return errDownstream })
	assert.ErrorIs(t, err, errDownstream)
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("defaults", 0, 0)
	tripBreaker(t, b, 3)
	assert.Equal(t, StateOpen, b.State())
}
