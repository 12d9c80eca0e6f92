package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythmd/internal/bus"
	"rhythmd/internal/logging"
)

func TestNeverBeaten(t *testing.T) {
	var m Monitor

	assert.True(t, m.LastHeartbeat().IsZero())
	assert.Equal(t, Never, m.Since(time.Now()))
	assert.Equal(t, uint64(0), m.Beats())
}

func TestBeatAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := New(func() time.Time { return now }, logging.Discard())

	m.BeatAt(now.Add(-2 * time.Second))
	assert.Equal(t, 2*time.Second, m.Since(now))

	m.Beat()
	assert.Equal(t, time.Duration(0), m.Since(now))
	assert.True(t, m.LastHeartbeat().Equal(now))
	assert.Equal(t, uint64(2), m.Beats())
}

func TestListen(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()
	m := New(nil, logging.Discard())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Listen(ctx, b)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return b.Subscribers(bus.ViewerActive) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Emit(bus.ViewerActive))
	assert.Eventually(t, func() bool {
		return m.Since(time.Now()) < time.Second
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Emit(bus.DataUpdated))

	cancel()
	<-done
	assert.Equal(t, 0, b.Subscribers(bus.ViewerActive))
}

func TestListenEndsOnBusClose(t *testing.T) {
	b := bus.NewMemory()
	m := New(nil, logging.Discard())

	done := make(chan struct{})
	go func() {
		m.Listen(t.Context(), b)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return b.Subscribers(bus.ViewerActive) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after bus close")
	}
}
