package focus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythmd/internal/logging"
)

func TestInfoIsZero(t *testing.T) {
	assert.True(t, Info{}.IsZero())
	assert.False(t, Info{Title: "notes.txt - gedit"}.IsZero())
	assert.False(t, Info{PID: 42}.IsZero())
}

func TestStaticProvider(t *testing.T) {
	p := NewStatic(Info{PID: 7, AppID: "kitty", Title: "~"})

	info, err := p.Lookup()
	require.NoError(t, err)
	assert.Equal(t, "kitty", info.AppID)

	p.Fail(ErrNoFocus)
	_, err = p.Lookup()
	assert.ErrorIs(t, err, ErrNoFocus)

	p.Set(Info{AppID: "firefox"})
	info, err = p.Lookup()
	require.NoError(t, err)
	assert.Equal(t, "firefox", info.AppID)
}

func TestTrackerInitialReading(t *testing.T) {
	p := NewStatic(Info{PID: 1, AppID: "code", Title: "main.go"})
	tr := NewTracker(p, time.Hour, logging.Discard())

	assert.True(t, tr.Current().IsZero(), "nothing cached before Start")

	tr.Start(t.Context())
	defer tr.Close()

	assert.Equal(t, Info{PID: 1, AppID: "code", Title: "main.go"}, tr.Current())
}

func TestTrackerPollsChanges(t *testing.T) {
	p := NewStatic(Info{AppID: "code"})
	tr := NewTracker(p, 5*time.Millisecond, logging.Discard())
	tr.Start(t.Context())
	defer tr.Close()

	p.Set(Info{AppID: "slack"})
	assert.Eventually(t, func() bool {
		return tr.Current().AppID == "slack"
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerFailureYieldsEmptyInfo(t *testing.T) {
	p := NewStatic(Info{AppID: "code"})
	tr := NewTracker(p, 5*time.Millisecond, logging.Discard())
	tr.Start(t.Context())
	defer tr.Close()

	p.Fail(errors.New("accessibility denied"))
	assert.Eventually(t, func() bool {
		return tr.Current().IsZero()
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerCloseIdempotent(t *testing.T) {
	tr := NewTracker(NewStatic(Info{}), 0, nil)
	tr.Close()

	tr.Start(t.Context())
	tr.Close()
	tr.Close()
}
