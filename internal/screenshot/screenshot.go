// Package screenshot presses a list of keys through the indicator machine
// and saves an image of the screen, for documentation.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/logger"
)

// DefaultKeys are shown when no list is given.
var DefaultKeys = []string{"KEY_A", "KEY_CONTROL_L", "KEY_ALT_L", "KEY_SHIFT_L"}

const (
	defaultSettle = 100 * time.Millisecond
	fileName      = "screenshot.png"
)

// Injector feeds synthetic presses to the indicator machine.
type Injector interface {
	Inject(ctx context.Context, name string, pressed bool) error
}

// Capturer grabs the current screen contents.
type Capturer interface {
	Capture() (image.Image, error)
}

// ScreenCapturer grabs a screen region with robotgo. A zero size means the
// whole screen.
type ScreenCapturer struct {
	X, Y, W, H int
}

func (c ScreenCapturer) Capture() (image.Image, error) {
	w, h := c.W, c.H
	if w <= 0 || h <= 0 {
		w, h = robotgo.GetScreenSize()
	}
	bit := robotgo.CaptureScreen(c.X, c.Y, w, h)
	if bit == nil {
		return nil, errors.New("screen capture failed")
	}
	defer robotgo.FreeBitmap(bit)
	return robotgo.ToImage(bit), nil
}

// ParseKeys splits a comma separated list. An empty list yields DefaultKeys.
func ParseKeys(list string) []string {
	var out []string
	for _, k := range strings.Split(list, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultKeys...)
	}
	return out
}

// Runner presses keys, waits for the renderer and saves one image.
type Runner struct {
	inj    Injector
	cap    Capturer
	dir    string
	Settle time.Duration
}

func NewRunner(inj Injector, c Capturer, dir string) *Runner {
	return &Runner{inj: inj, cap: c, dir: dir, Settle: defaultSettle}
}

// Run presses every key in order, captures the screen and releases the keys
// again. KEY_EMPTY leaves the indicators idle. It returns the written file.
func (r *Runner) Run(ctx context.Context, keys []string) (string, error) {
	var pressed []string
	defer func() {
		for i := len(pressed) - 1; i >= 0; i-- {
			if err := r.inj.Inject(ctx, pressed[i], false); err != nil {
				logger.Debugf("Release of %s failed: %v", pressed[i], err)
			}
		}
	}()

	for _, key := range keys {
		if key == indicator.KeyEmpty {
			continue
		}
		if err := r.inj.Inject(ctx, key, true); err != nil {
			return "", fmt.Errorf("key %s: %w", key, err)
		}
		pressed = append(pressed, key)
		if err := r.sleep(ctx); err != nil {
			return "", err
		}
	}
	if err := r.sleep(ctx); err != nil {
		return "", err
	}

	img, err := r.cap.Capture()
	if err != nil {
		return "", fmt.Errorf("failed to capture screen: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	path := filepath.Join(r.dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	logger.Infof("Saved screenshot %s", path)
	return path, nil
}

func (r *Runner) sleep(ctx context.Context) error {
	t := time.NewTimer(r.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
