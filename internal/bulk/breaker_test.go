package bulk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerItemCountThresholdIsExact(t *testing.T) {
	b := New()
	b.MaxItems = 3
	b.Start()

	require.NoError(t, b.Check(1))
	require.NoError(t, b.Check(1))
	require.NoError(t, b.Check(1))

	err := b.Check(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTripped)
	var trip *TripError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, ReasonItems, trip.Reason)
}

func TestBreakerItemSizeThresholdIsExact(t *testing.T) {
	b := New()
	b.MaxItemBytes = 100
	b.Start()

	assert.NoError(t, b.Check(100))

	err := b.Check(101)
	require.Error(t, err)
	var trip *TripError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, ReasonItemSize, trip.Reason)
}

func TestBreakerElapsedThreshold(t *testing.T) {
	b := New()
	b.MaxElapsed = 10 * time.Millisecond

	current := time.Unix(1000, 0)
	b.now = func() time.Time { return current }
	b.Start()

	require.NoError(t, b.Check(1))

	current = current.Add(11 * time.Millisecond)
	err := b.Check(1)
	require.Error(t, err)
	var trip *TripError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, ReasonElapsed, trip.Reason)
}

func TestBreakerCheckWithoutStartPanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() { _ = b.Check(1) })
}
