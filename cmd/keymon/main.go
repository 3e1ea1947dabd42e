package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/config"
	"github.com/dooshek/keymon/internal/logger"
	"github.com/dooshek/keymon/internal/types"
)

func init() {
	// Set custom usage message to show -- prefix
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(out, "  %s journal --list    List recorded sessions\n", os.Args[0])
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(out, "  --%s", f.Name)
			name, usage := flag.UnquoteUsage(f)
			if len(name) > 0 {
				fmt.Fprintf(out, " %s", name)
			}
			fmt.Fprintf(out, "\n    \t%s", usage)
			if f.DefValue != "" && f.DefValue != "false" {
				fmt.Fprintf(out, " (default %q)", f.DefValue)
			}
			fmt.Fprintf(out, "\n")
		})
	}
}

// options holds the command line.
type options struct {
	configPath  string
	logLevel    string
	logFilename string
	wizard      bool
	dumpKbd     bool
	showStats   bool
	noNotify    bool
	display     string

	kbdFile      string
	backend      string
	rendererKind string
	meta         bool
	sticky       bool
	onlyCombo    bool
	emulate      bool
	swapButtons  bool
	followMouse  bool
	keyTimeout   float64
	mouseTimeout float64
	oldKeys      int
	scale        float64
	dbus         bool
	journal      bool

	screenshot  string
	replay      string
	replaySpeed float64

	set map[string]bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Config file (.yaml or .toml); defaults to ~/.config/keymon/keymon.yaml")
	fs.StringVar(&o.logLevel, "log-level", "info", "Set log level (debug|info|warn|error)")
	fs.StringVar(&o.logFilename, "log-filename", "", "Log to file instead of stderr")
	fs.BoolVar(&o.wizard, "wizard", false, "Run the configuration wizard")
	fs.BoolVar(&o.dumpKbd, "dump-kbd", false, "Print the server's keymap in kbd format and exit")
	fs.BoolVar(&o.showStats, "stats", false, "Print usage statistics and exit")
	fs.BoolVar(&o.noNotify, "no-notify", false, "Do not send a desktop notification on start")
	fs.StringVar(&o.display, "display", "", "X display to capture from (defaults to $DISPLAY)")

	fs.StringVar(&o.kbdFile, "kbdfile", "", "Keymap: kbd file name or path, or \"xmodmap\" for the live mapping")
	fs.StringVar(&o.backend, "backend", "", "Capture backend (auto|x11|evdev)")
	fs.StringVar(&o.rendererKind, "renderer", "", "Renderer (auto|console|screen|none)")
	fs.BoolVar(&o.meta, "meta", false, "Show the Meta/Super indicator")
	fs.BoolVar(&o.sticky, "sticky", false, "Sticky modifiers: shown until pressed again")
	fs.BoolVar(&o.onlyCombo, "only-combo", false, "Only show keys pressed together with a modifier")
	fs.BoolVar(&o.emulate, "emulate-middle", false, "Show left+right as the middle button")
	fs.BoolVar(&o.swapButtons, "swap-buttons", false, "Swap left and right buttons (left-handed mouse)")
	fs.BoolVar(&o.followMouse, "follow-mouse", false, "Track the pointer position")
	fs.Float64Var(&o.keyTimeout, "key-timeout", 0, "Seconds before a released key fades (default 0.5)")
	fs.Float64Var(&o.mouseTimeout, "mouse-timeout", 0, "Seconds before a released button fades (default 0.2)")
	fs.IntVar(&o.oldKeys, "old-keys", 0, "Number of previous keys kept on screen")
	fs.Float64Var(&o.scale, "scale", 0, "Label scale; below 1 uses short labels")
	fs.BoolVar(&o.dbus, "dbus", false, "Expose the D-Bus endpoint")
	fs.BoolVar(&o.journal, "journal", false, "Record this session to the journal database")

	fs.StringVar(&o.screenshot, "screenshot", "", "Press a comma separated list of keys, save screenshot.png and exit")
	fs.StringVar(&o.replay, "replay", "", "Replay a journal session (id or \"latest\") instead of capturing")
	fs.Float64Var(&o.replaySpeed, "replay-speed", 1, "Replay speed factor; 0 replays without pauses")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overrides config values with the flags given on the command line.
func (o *options) apply(cfg *types.Config) {
	if o.set["kbdfile"] {
		cfg.Keymap.File = o.kbdFile
	}
	if o.set["backend"] {
		cfg.Capture.Backend = o.backend
	}
	if o.set["renderer"] {
		cfg.Renderer.Kind = o.rendererKind
	}
	if o.set["meta"] {
		cfg.Indicators.Meta = types.Bool(o.meta)
	}
	if o.set["old-keys"] {
		cfg.Indicators.OldKeys = types.Int(o.oldKeys)
	}
	if o.set["sticky"] {
		cfg.Behavior.Sticky = o.sticky
	}
	if o.set["only-combo"] {
		cfg.Behavior.OnlyCombo = o.onlyCombo
	}
	if o.set["emulate-middle"] {
		cfg.Behavior.EmulateMiddle = o.emulate
	}
	if o.set["swap-buttons"] {
		cfg.Behavior.SwapButtons = o.swapButtons
	}
	if o.set["follow-mouse"] {
		cfg.Behavior.FollowMouse = o.followMouse
	}
	if o.set["key-timeout"] {
		cfg.Behavior.KeyTimeout = o.keyTimeout
	}
	if o.set["mouse-timeout"] {
		cfg.Behavior.MouseTimeout = o.mouseTimeout
	}
	if o.set["scale"] {
		cfg.Behavior.Scale = o.scale
	}
	if o.set["dbus"] {
		cfg.DBus.Enabled = o.dbus
	}
	if o.set["journal"] {
		cfg.Journal.Enabled = o.journal
	}
}

// replaySession parses --replay. Zero means the latest session.
func (o *options) replaySession() (int64, error) {
	if o.replay == "latest" {
		return 0, nil
	}
	id, err := strconv.ParseInt(o.replay, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid --replay value %q: want a session id or \"latest\"", o.replay)
	}
	return id, nil
}

func main() {
	// Check if we're running the journal subcommand before parsing global flags
	if len(os.Args) > 1 && os.Args[1] == "journal" {
		if err := journalCommand(os.Args[2:]); err != nil {
			logger.Error("Journal command failed", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Set up logging level and output
	logger.SetLevel(opts.logLevel)
	if opts.logFilename != "" {
		if err := logger.SetOutputFile(opts.logFilename); err != nil {
			fmt.Printf("Error setting log file: %v\n", err)
			os.Exit(1)
		}
		defer logger.CloseLogFile()
	}

	if opts.wizard {
		if err := config.RunWizard(opts.configPath); err != nil {
			logger.Error("Error running wizard", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger.Error("Error loading config", err)
		os.Exit(1)
	}
	if cfg == nil {
		logger.Info("No configuration found, using defaults")
		logger.Info("💡 Note: You can run `keymon --wizard` to create one")
		cfg = &types.Config{}
	}
	opts.apply(cfg)

	if err := run(cfg, opts); err != nil {
		var startErr *capture.StartupError
		if errors.As(err, &startErr) && startErr.Hint != "" {
			logger.Error("Failed to start input capture", startErr.Err)
			fmt.Fprintln(os.Stderr, strings.TrimSpace(startErr.Hint))
		} else {
			logger.Error("keymon failed", err)
		}
		logger.CloseLogFile()
		os.Exit(1)
	}
}
