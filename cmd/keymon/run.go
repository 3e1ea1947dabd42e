package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/config"
	"github.com/dooshek/keymon/internal/dbus"
	"github.com/dooshek/keymon/internal/fileops"
	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/journal"
	"github.com/dooshek/keymon/internal/keymap"
	"github.com/dooshek/keymon/internal/logger"
	"github.com/dooshek/keymon/internal/monitor"
	"github.com/dooshek/keymon/internal/notification"
	"github.com/dooshek/keymon/internal/renderer"
	"github.com/dooshek/keymon/internal/screenshot"
	"github.com/dooshek/keymon/internal/stats"
	"github.com/dooshek/keymon/internal/types"
)

func keymapOptions(cfg *types.Config, fileOps fileops.FileOps, display string) keymap.Options {
	km := cfg.GetKeymapConfig()
	return keymap.Options{
		File:          km.File,
		SearchDirs:    fileOps.KbdSearchDirs(),
		DefaultLayout: km.DefaultLayout,
		Display:       display,
	}
}

func run(cfg *types.Config, opts *options) error {
	start := time.Now()

	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return fmt.Errorf("failed to initialize file operations: %w", err)
	}
	if err := fileOps.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create necessary directories: %w", err)
	}

	if opts.showStats {
		return printStats(stats.NewStatsManager(fileOps.GetStatsPath()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.dumpKbd {
		t, err := keymap.LiveDump(ctx, keymapOptions(cfg, fileOps, opts.display))
		if err != nil {
			return err
		}
		return keymap.WriteKbd(os.Stdout, t)
	}

	// Check if another instance is running
	if err := fileOps.CheckPID(); err != nil {
		if errors.Is(err, fileops.ErrProcessAlreadyRunning) {
			return fmt.Errorf("another instance of keymon is already running: %w", err)
		}
		logger.Warnf("PID check failed: %v", err)
	}
	if err := fileOps.SavePID(); err != nil {
		return fmt.Errorf("failed to save PID file: %w", err)
	}
	defer fileOps.HandleExit()

	table, err := keymap.Build(ctx, keymapOptions(cfg, fileOps, opts.display))
	if err != nil {
		return err
	}

	// capture source: a journal replay or the live backend
	var jr *journal.Journal
	var replay *journal.ReplaySource
	var src capture.Source
	backend := cfg.GetCaptureConfig().Backend
	journalCfg := cfg.Journal
	if journalCfg.Path == "" {
		journalCfg.Path = fileOps.GetJournalPath()
	}
	if opts.replay != "" || journalCfg.Enabled {
		if jr, err = journal.Open(journalCfg.Path); err != nil {
			return err
		}
		defer func() {
			if err := jr.Close(); err != nil {
				logger.Error("Failed to close journal", err)
			}
		}()
	}
	if opts.replay != "" {
		id, err := opts.replaySession()
		if err != nil {
			return err
		}
		if id == 0 {
			if id, err = jr.Latest(); err != nil {
				return err
			}
		}
		replay = journal.NewReplaySource(jr, id, opts.replaySpeed)
		src = replay
		backend = "replay"
	} else {
		if src, err = capture.NewSource(backend, opts.display); err != nil {
			return err
		}
		if journalCfg.Enabled {
			if _, err := jr.Begin(backend); err != nil {
				return err
			}
		}
	}

	icfg := indicator.ConfigFrom(cfg)
	slots := indicator.SlotIDs(icfg)
	kind := cfg.GetRendererConfig().Kind
	if opts.set["screenshot"] {
		// screenshots need something visible on screen
		if kind == types.RendererAuto || kind == types.RendererNone {
			kind = types.RendererScreen
		}
	}
	out, screen, err := renderer.New(kind, slots, os.Stdout)
	if err != nil {
		return err
	}
	if screen != nil && opts.logFilename == "" {
		// the terminal belongs to the screen renderer now
		if err := logger.SetOutputFile(filepath.Join(fileOps.GetConfigDir(), "keymon.log")); err != nil {
			return err
		}
		defer logger.CloseLogFile()
	}

	renderers := renderer.Multi{out}
	var srv *dbus.Server
	var loop *monitor.Loop
	if cfg.DBus.Enabled {
		srv = dbus.NewServer(loopController{&loop})
		renderers = append(renderers, srv)
	}

	machine := indicator.New(icfg, table, renderers)
	service := capture.NewService(src)
	statsManager := stats.NewStatsManager(fileOps.GetStatsPath())
	loopOpts := []monitor.Option{monitor.WithObserver(statsManager)}
	if jr != nil && replay == nil {
		loopOpts = append(loopOpts, monitor.WithObserver(jr))
	}
	loop = monitor.New(service, machine, cfg.GetCaptureConfig().PollEvery(), loopOpts...)

	if err := service.Start(ctx); err != nil {
		return err
	}
	defer service.Stop()

	if screen != nil {
		if err := screen.Init(); err != nil {
			return fmt.Errorf("failed to initialize terminal screen: %w", err)
		}
		defer screen.Shutdown()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if screen != nil {
		go screen.Events(ctx, cancel)
	}

	if srv != nil {
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start D-Bus service", err)
		} else {
			defer srv.Stop()
		}
	}

	if jr != nil && replay == nil {
		go jr.Run(ctx)
	}

	watcher := startWatcher(cfg, opts, fileOps, loop)
	if watcher != nil {
		defer watcher.Close()
	}

	var notifier notification.Notifier = notification.New()
	if opts.noNotify || replay != nil || opts.set["screenshot"] {
		notifier = notification.NewSilent()
	}
	if err := notifier.NotifyStarted(backend); err != nil {
		logger.Warn("Could not send notification")
	}

	switch {
	case opts.set["screenshot"]:
		go func() {
			defer cancel()
			runner := screenshot.NewRunner(loop, screenshot.ScreenCapturer{}, fileOps.GetScreenshotsDir())
			if _, err := runner.Run(ctx, screenshot.ParseKeys(opts.screenshot)); err != nil {
				logger.Error("Screenshot failed", err)
			}
		}()
	case replay != nil:
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-replay.Done():
			}
			// let the last keys fade before exiting
			linger := icfg.KeyTimeout*time.Duration(icfg.OldKeys+2) + 100*time.Millisecond
			select {
			case <-ctx.Done():
			case <-time.After(linger):
				cancel()
			}
		}()
	default:
		logger.Infof("Showing keys from the %s backend, press Ctrl+C to quit", backend)
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}

	counters := loop.Counters()
	coalesced, stalls, restarts := service.Stats()
	logger.Infof("Session over after %v: %d events, %d unresolved, %d motions coalesced, %d stalls, %d restarts, %d polls",
		time.Since(start).Round(time.Second), counters.Events, counters.Unresolved, coalesced, stalls, restarts, loop.Polls())
	if replay == nil {
		if err := statsManager.EndSession(time.Since(start), counters.Unresolved); err != nil {
			logger.Error("Failed to save stats", err)
		}
	}
	return nil
}

// loopController lets the D-Bus server be built before the loop it talks
// to exists.
type loopController struct {
	loop **monitor.Loop
}

func (c loopController) Inject(ctx context.Context, name string, pressed bool) error {
	return (*c.loop).Inject(ctx, name, pressed)
}

func (c loopController) Snapshot(ctx context.Context) ([]indicator.SlotState, error) {
	return (*c.loop).Snapshot(ctx)
}

func (c loopController) Counters() indicator.Counters {
	return (*c.loop).Counters()
}

// startWatcher reloads the keymap when the config file or a kbd file
// changes. Other settings apply on restart.
func startWatcher(cfg *types.Config, opts *options, fileOps fileops.FileOps, loop *monitor.Loop) *config.Watcher {
	configPath := opts.configPath
	if configPath == "" {
		configPath = fileOps.GetConfigPath()
	}

	current := cfg
	w := config.NewWatcher([]string{configPath}, []string{fileOps.GetKbdDir()}, func(path string) {
		next := current
		if filepath.Clean(path) == filepath.Clean(configPath) {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				logger.Error("Ignoring invalid config change", err)
				return
			}
			if loaded == nil {
				return
			}
			opts.apply(loaded)
			next = loaded
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		table, err := keymap.Build(ctx, keymapOptions(next, fileOps, opts.display))
		if err != nil {
			logger.Error("Keymap reload failed", err)
			return
		}
		current = next
		loop.SetResolver(table)
	})
	if err := w.Start(); err != nil {
		logger.Debugf("Config watching disabled: %v", err)
		return nil
	}
	return w
}
