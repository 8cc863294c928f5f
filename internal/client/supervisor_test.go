package client

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorDefaults(t *testing.T) {
	t.Parallel()

	s := Supervisor{}.withDefaults()
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 2*time.Second, s.Backoff.Delay(1))
	assert.Equal(t, 2*time.Second, s.Backoff.Delay(3))
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, b.Delay(i+1), "retry %d", i+1)
	}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
}

func TestExponentialBackoffWithoutMaxStaysPositive(t *testing.T) {
	t.Parallel()

	b := ExponentialBackoff{Base: 2 * time.Second}
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 32*time.Second, b.Delay(5))
	assert.Equal(t, 32*time.Second, b.Delay(40))
	assert.Equal(t, 32*time.Second, b.Delay(1000))

	huge := ExponentialBackoff{Base: time.Duration(math.MaxInt64 / 4)}
	for _, retry := range []int{1, 2, 3, 10, 100} {
		assert.Positive(t, huge.Delay(retry), "retry %d", retry)
	}
	assert.Zero(t, ExponentialBackoff{}.Delay(3))
}

func TestNewBackoff(t *testing.T) {
	t.Parallel()

	b, err := NewBackoff("", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, FixedBackoff(2*time.Second), b)

	b, err = NewBackoff("Exponential", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, b.Delay(3))

	_, err = NewBackoff("linear", time.Second)
	require.Error(t, err)
}

func TestRetryString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Connection lost. Retrying (2/3)...", Retry{Attempt: 2, Max: 3}.String())
}
