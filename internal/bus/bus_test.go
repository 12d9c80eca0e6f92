package bus

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythmd/internal/logging"
)

func received(ch <-chan struct{}) bool {
	select {
	case _, ok := <-ch:
		return ok
	case <-time.After(time.Second):
		return false
	}
}

func pending(ch <-chan struct{}) bool {
	select {
	case _, ok := <-ch:
		return ok
	default:
		return false
	}
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "ViewerActive", ViewerActive.String())
	assert.Equal(t, "DataUpdated", DataUpdated.String())
	assert.Equal(t, "io.rhythmd.Liveness.DataUpdated", MemberName(DataUpdated))

	s, ok := ParseSignal("ViewerActive")
	assert.True(t, ok)
	assert.Equal(t, ViewerActive, s)

	_, ok = ParseSignal("Nope")
	assert.False(t, ok)
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	a, cancelA := b.Subscribe(DataUpdated)
	defer cancelA()
	c, cancelC := b.Subscribe(DataUpdated)
	defer cancelC()
	other, cancelOther := b.Subscribe(ViewerActive)
	defer cancelOther()

	require.NoError(t, b.Emit(DataUpdated))

	assert.True(t, received(a))
	assert.True(t, received(c))
	assert.False(t, pending(other), "other signals are not delivered")
}

func TestMemoryBusCoalesces(t *testing.T) {
	b := NewMemory()
	ch, cancel := b.Subscribe(ViewerActive)
	defer cancel()

	for range 100 {
		require.NoError(t, b.Emit(ViewerActive))
	}

	assert.True(t, pending(ch))
	assert.False(t, pending(ch), "bursts collapse into one wakeup")
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemory()
	ch, cancel := b.Subscribe(DataUpdated)
	assert.Equal(t, 1, b.Subscribers(DataUpdated))

	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers(DataUpdated))

	_, ok := <-ch
	assert.False(t, ok, "channel closed on cancel")
	require.NoError(t, b.Emit(DataUpdated))
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemory()
	ch, cancel := b.Subscribe(DataUpdated)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, b.Emit(DataUpdated), ErrClosed)

	late, _ := b.Subscribe(ViewerActive)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestMemoryBusConcurrentEmit(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ch, cancel := b.Subscribe(ViewerActive)
	defer cancel()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = b.Emit(ViewerActive)
			}
		}()
	}
	wg.Wait()
	assert.True(t, pending(ch))
}

func TestOpen(t *testing.T) {
	b, err := Open("memory", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBus{}, b)
	require.NoError(t, b.Close())

	_, err = Open("carrier-pigeon", nil)
	assert.Error(t, err)
}

func TestDBusRoundTrip(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no session bus")
	}

	viewer, err := ConnectDBus(logging.Discard())
	if err != nil {
		t.Skipf("session bus unavailable: %v", err)
	}
	defer viewer.Close()

	daemon, err := ConnectDBus(logging.Discard())
	require.NoError(t, err)
	defer daemon.Close()

	ch, cancel := daemon.Subscribe(ViewerActive)
	defer cancel()

	require.NoError(t, viewer.Emit(ViewerActive))
	assert.True(t, received(ch))
}
