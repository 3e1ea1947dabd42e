package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/journal"
	"github.com/dooshek/keymon/internal/keymap"
	"github.com/dooshek/keymon/internal/monitor"
	"github.com/dooshek/keymon/internal/renderer"
	"github.com/dooshek/keymon/internal/types"
)

func parse(t *testing.T, args ...string) *options {
	t.Helper()
	fs := flag.NewFlagSet("keymon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	o, err := parseFlags(fs, args)
	require.NoError(t, err)
	return o
}

func TestApplyOnlyOverridesSetFlags(t *testing.T) {
	cfg := &types.Config{
		Behavior:   types.BehaviorConfig{KeyTimeout: 2, Sticky: true},
		Indicators: types.IndicatorsConfig{Meta: types.Bool(true)},
	}
	o := parse(t, "--backend=evdev", "--old-keys=3", "--sticky=false", "--kbdfile", "xmodmap")
	o.apply(cfg)

	assert.Equal(t, "evdev", cfg.Capture.Backend)
	assert.Equal(t, "xmodmap", cfg.Keymap.File)
	assert.Equal(t, 3, *cfg.Indicators.OldKeys)
	assert.False(t, cfg.Behavior.Sticky)
	// untouched by the command line
	assert.Equal(t, 2.0, cfg.Behavior.KeyTimeout)
	assert.True(t, *cfg.Indicators.Meta)
}

func TestApplyMetaFalseIsExplicit(t *testing.T) {
	cfg := &types.Config{Indicators: types.IndicatorsConfig{Meta: types.Bool(true)}}
	parse(t, "--meta=false").apply(cfg)
	require.NotNil(t, cfg.Indicators.Meta)
	assert.False(t, *cfg.Indicators.Meta)
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("keymon", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parseFlags(fs, []string{"--bogus"})
	assert.Error(t, err)
}

func TestReplaySession(t *testing.T) {
	id, err := parse(t, "--replay=latest").replaySession()
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = parse(t, "--replay=12").replaySession()
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"--replay=abc", "--replay=-1", "--replay=0"} {
		_, err := parse(t, bad).replaySession()
		assert.Error(t, err, bad)
	}
}

func TestScreenshotFlagWithoutValueIsSet(t *testing.T) {
	o := parse(t, "--screenshot=")
	assert.True(t, o.set["screenshot"])
	assert.Empty(t, o.screenshot)
}

func TestWriteSessions(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevNo := color.Output, color.NoColor
	color.Output, color.NoColor = &buf, true
	defer func() { color.Output, color.NoColor = prevOut, prevNo }()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, writeSessions([]journal.Session{
		{ID: 2, Started: started, Backend: "x11", Events: 7},
		{ID: 1, Started: started, Ended: started.Add(90 * time.Second), Backend: "evdev", Events: 40},
	}))

	out := buf.String()
	assert.Contains(t, out, "2026-03-01 10:00:00")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "evdev")

	buf.Reset()
	require.NoError(t, writeSessions(nil))
	assert.Contains(t, buf.String(), "no sessions recorded")
}

func TestJournalCommandListsTempDatabase(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevNo := color.Output, color.NoColor
	color.Output, color.NoColor = &buf, true
	defer func() { color.Output, color.NoColor = prevOut, prevNo }()

	path := t.TempDir() + "/journal.db"
	j, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j.Begin("evdev")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	require.NoError(t, journalCommand([]string{"--list", "--path", path}))
	assert.Contains(t, buf.String(), "evdev")
}

func TestLoopControllerReachesLoopBuiltLater(t *testing.T) {
	var loop *monitor.Loop
	ctl := loopController{&loop}

	table := keymap.NewTable()
	table.Set(keymap.Entry{Scancode: 30, Name: "KEY_A", Medium: "A"})
	m := indicator.New(indicator.Config{}, table, renderer.None{})
	loop = monitor.New(capture.NewQueue(8), m, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, ctl.Inject(ctx, "KEY_A", true))
	assert.ErrorIs(t, ctl.Inject(ctx, "KEY_NOPE", true), indicator.ErrUnknownKey)

	slots, err := ctl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KEY_A", slots[len(slots)-1].Symbol)
	assert.Eventually(t, func() bool { return ctl.Counters().Injected == 1 }, time.Second, time.Millisecond)
}
