package keymap

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dooshek/keymon/internal/logger"
)

// LiveToken selects the running server's mapping as the keymap source.
const LiveToken = "xmodmap"

// DefaultLayout is used when nothing better is known.
const DefaultLayout = "us"

//go:embed kbd/*.kbd
var bundledKbd embed.FS

var errNotFound = errors.New("kbd file not found")

// ResolutionError means no keymap source at all could be read.
type ResolutionError struct {
	Tried  []string
	Causes []error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no keymap source available (tried %s): %v",
		strings.Join(e.Tried, ", "), errors.Join(e.Causes...))
}

func (e *ResolutionError) Unwrap() []error {
	return e.Causes
}

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Options controls where Build looks.
type Options struct {
	File          string   // kbd file name, LiveToken, or empty
	SearchDirs    []string // searched before the bundled files
	DefaultLayout string
	Display       string // passed to xmodmap -display when set
	Runner        CommandRunner
	Bundled       fs.FS // defaults to the files shipped with the binary
	Timeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultLayout == "" {
		o.DefaultLayout = DefaultLayout
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Bundled == nil {
		sub, err := fs.Sub(bundledKbd, "kbd")
		if err != nil {
			panic(err)
		}
		o.Bundled = sub
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// Build produces the resolver table following the source precedence:
// an explicit kbd file wins outright; the live token merges the server's
// dump over the bundled layout; otherwise the bundled default is used and
// the live dump is the last resort.
func Build(ctx context.Context, opts Options) (*Table, error) {
	opts = opts.withDefaults()

	if opts.File != "" && opts.File != LiveToken {
		t, src, err := loadKbdFile(opts, opts.File)
		if err == nil {
			logger.Infof("Loaded kbd file %s (%d keys)", src, t.Len())
			return t, nil
		}
		if errors.Is(err, errNotFound) {
			logger.Warnf("Can not find kbd file: %s", opts.File)
		} else {
			logger.Error("Failed to read kbd file", err)
		}
	}

	if opts.File == LiveToken {
		return buildLive(ctx, opts)
	}

	rerr := &ResolutionError{}
	name := opts.DefaultLayout + ".kbd"
	t, src, err := loadKbdFile(opts, name)
	if err == nil {
		logger.Debugf("Using default kbd file: %s", src)
		return t, nil
	}
	rerr.Tried = append(rerr.Tried, name)
	rerr.Causes = append(rerr.Causes, err)
	logger.Error("Can not find default kbd file", err)

	dump, err := LiveDump(ctx, opts)
	if err == nil {
		return dump, nil
	}
	rerr.Tried = append(rerr.Tried, "xmodmap")
	rerr.Causes = append(rerr.Causes, err)
	return nil, rerr
}

func buildLive(ctx context.Context, opts Options) (*Table, error) {
	rerr := &ResolutionError{}

	layout, err := QueryLayout(ctx, opts)
	if err != nil {
		logger.Debugf("setxkbmap query failed: %v", err)
	}

	var bundled *Table
	for _, id := range uniq(layout, opts.DefaultLayout) {
		name := id + ".kbd"
		t, src, err := loadKbdFile(opts, name)
		if err == nil {
			logger.Debugf("Merging with default kbd file: %s", src)
			bundled = t
			break
		}
		rerr.Tried = append(rerr.Tried, name)
		rerr.Causes = append(rerr.Causes, err)
	}

	dump, err := LiveDump(ctx, opts)
	if err != nil {
		rerr.Tried = append(rerr.Tried, "xmodmap")
		rerr.Causes = append(rerr.Causes, err)
	}

	switch {
	case dump != nil && bundled != nil:
		return Merge(dump, bundled), nil
	case bundled != nil:
		logger.Error("Unable to execute xmodmap, using bundled keymap", err)
		return bundled, nil
	case dump != nil:
		return dump, nil
	default:
		return nil, rerr
	}
}

// LiveDump reads the running server's keycode table through xmodmap.
func LiveDump(ctx context.Context, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := []string{"-pk"}
	if opts.Display != "" {
		args = append([]string{"-display", opts.Display}, args...)
	}
	out, err := opts.Runner.Run(ctx, "xmodmap", args...)
	if err != nil {
		return nil, fmt.Errorf("xmodmap failed: %w", err)
	}
	t := ParseModmap(string(out))
	if t.Len() == 0 {
		return nil, errors.New("xmodmap returned no key mappings")
	}
	logger.Debugf("Loaded %d keys from xmodmap", t.Len())
	return t, nil
}

// QueryLayout asks setxkbmap for the active layout and returns it as
// "layout" or "layout_variant".
func QueryLayout(ctx context.Context, opts Options) (string, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	out, err := opts.Runner.Run(ctx, "setxkbmap", "-query")
	if err != nil {
		return "", fmt.Errorf("setxkbmap failed: %w", err)
	}
	layout := ParseLayout(string(out))
	if layout == "" {
		return "", errors.New("setxkbmap reported no layout")
	}
	logger.Infof("setxkbmap returns a keyboard layout_variant: %s", layout)
	return layout, nil
}

// ParseLayout extracts "layout[_variant]" from setxkbmap -query output.
// Only the first group of a multi-layout setup is used.
func ParseLayout(text string) string {
	var layout, variant string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if i := strings.Index(val, ","); i >= 0 {
			val = val[:i]
		}
		switch strings.TrimSpace(key) {
		case "layout":
			layout = val
		case "variant":
			variant = val
		}
	}
	if layout != "" && variant != "" {
		return layout + "_" + variant
	}
	return layout
}

// loadKbdFile finds name in the search dirs, then in the bundled files.
func loadKbdFile(opts Options, name string) (*Table, string, error) {
	if filepath.IsAbs(name) {
		t, err := readKbdPath(name)
		return t, name, err
	}
	for _, dir := range opts.SearchDirs {
		path := filepath.Join(dir, name)
		t, err := readKbdPath(path)
		if errors.Is(err, errNotFound) {
			continue
		}
		return t, path, err
	}
	f, err := opts.Bundled.Open(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", errNotFound, name)
	}
	defer f.Close()
	t, err := ParseKbd(f)
	return t, "bundled:" + name, err
}

func readKbdPath(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errNotFound, path)
		}
		return nil, fmt.Errorf("failed to open kbd file: %w", err)
	}
	defer f.Close()
	return ParseKbd(f)
}

// BundledLayouts lists the layout ids shipped with the binary.
func BundledLayouts() []string {
	entries, err := fs.ReadDir(bundledKbd, "kbd")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".kbd"))
	}
	return out
}

func uniq(ids ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
