package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooshek/keymon/internal/capture"
)

func TestObserveAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "stats.json")
	sm := NewStatsManager(path)

	now := time.Now()
	for i := 0; i < 3; i++ {
		sm.Observe(capture.KeyEvent(30, "", true, now))
		sm.Observe(capture.KeyEvent(30, "", false, now))
	}
	sm.Observe(capture.KeyEvent(48, "", true, now))
	ev, _ := capture.ButtonEvent(1, true, now)
	sm.Observe(ev)
	require.NoError(t, sm.EndSession(90*time.Second, 2))

	reloaded := NewStatsManager(path)
	st := reloaded.GetStats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 90.0, st.TotalSeconds)
	assert.Equal(t, uint64(2), st.Unresolved)
	assert.Equal(t, uint64(4), st.Events[capture.KeyDown.String()])
	assert.Equal(t, uint64(3), st.Events[capture.KeyUp.String()])
	assert.Equal(t, uint64(1), st.Events[capture.ButtonDown.String()])
	assert.Equal(t, []KeyCount{{30, 3}, {48, 1}}, reloaded.TopKeys(5))
	assert.Equal(t, []KeyCount{{30, 3}}, reloaded.TopKeys(1))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestGetStatsIsACopy(t *testing.T) {
	sm := NewStatsManager(filepath.Join(t.TempDir(), "stats.json"))
	sm.Observe(capture.KeyEvent(30, "", true, time.Now()))

	st := sm.GetStats()
	st.Scancodes["30"] = 100
	assert.Equal(t, uint64(1), sm.GetStats().Scancodes["30"])
}

func TestCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	sm := NewStatsManager(path)
	sm.Observe(capture.KeyEvent(30, "", true, time.Now()))
	assert.Equal(t, uint64(1), sm.GetStats().Scancodes["30"])

	require.NoError(t, sm.Reset())
	assert.Empty(t, sm.GetStats().Scancodes)
}
