package notification

import (
	"os/exec"

	"github.com/dooshek/keymon/internal/logger"
)

const appName = "keymon"

// Notifier defines the interface for system notifications
type Notifier interface {
	NotifyStarted(backend string) error
	NotifyKeymapReloaded(source string) error
	Notify(title, message string) error
}

// SilentNotifier is a no-op implementation for headless runs
type SilentNotifier struct{}

func NewSilent() Notifier {
	return &SilentNotifier{}
}

func (s *SilentNotifier) NotifyStarted(string) error         { return nil }
func (s *SilentNotifier) NotifyKeymapReloaded(string) error  { return nil }
func (s *SilentNotifier) Notify(title, message string) error { return nil }

// runFunc runs a command and waits for it.
type runFunc func(name string, args ...string) error

func execRun(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

type desktopNotifier struct {
	run runFunc
}

// New returns a notifier that shells out to notify-send.
func New() Notifier {
	logger.Debug("Initializing notification system")
	return &desktopNotifier{run: execRun}
}

func (n *desktopNotifier) NotifyStarted(backend string) error {
	return n.Notify(appName, "Showing keys ("+backend+" capture)")
}

func (n *desktopNotifier) NotifyKeymapReloaded(source string) error {
	return n.Notify(appName, "Keymap reloaded from "+source)
}

func (n *desktopNotifier) Notify(title, message string) error {
	logger.Debugf("Sending notification: %s - %s", title, message)
	go func() {
		if err := n.run("notify-send", "--app-name="+appName, title, message); err != nil {
			logger.Errorf("Failed to send notification", err)
		}
	}()
	return nil
}
