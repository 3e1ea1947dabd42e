package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dooshek/keymon/internal/logger"
)

// ErrConfigNotFound is returned when a configuration file does not exist
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrProcessAlreadyRunning is returned when the keymon process is already running
var ErrProcessAlreadyRunning = errors.New("keymon process is already running")

// systemKbdDirs are searched after the user's own kbd directory.
var systemKbdDirs = []string{
	"/usr/share/keymon",
	"/usr/local/share/keymon",
}

// FileOps interface defines operations for managing files in the keymon config directory
type FileOps interface {
	// GetConfigDir returns the full path to the keymon config directory
	GetConfigDir() string

	// GetConfigPath returns the path of the default config file
	GetConfigPath() string

	// SaveConfig saves data to a file in the config directory
	SaveConfig(filename string, data []byte) error

	// LoadConfig loads data from a file in the config directory
	LoadConfig(filename string) ([]byte, error)

	// GetKbdDir returns the directory holding user kbd files
	GetKbdDir() string

	// KbdSearchDirs lists directories searched for kbd files, user first
	KbdSearchDirs() []string

	// GetScreenshotsDir returns where screenshot mode writes images
	GetScreenshotsDir() string

	// GetStatsPath returns the stats file location
	GetStatsPath() string

	// GetJournalPath returns the default session journal database
	GetJournalPath() string

	// EnsureDirectories creates necessary directories if they don't exist
	EnsureDirectories() error

	// SavePID saves the current process ID to a file
	SavePID() error

	// CheckPID checks if another instance is running
	// Returns ErrProcessAlreadyRunning if another instance is running
	CheckPID() error

	// CleanupPID removes the PID file
	CleanupPID() error

	// HandleExit ensures proper cleanup of PID file on application exit
	HandleExit()
}

// DefaultFileOps implements FileOps interface
type DefaultFileOps struct {
	configDir string
}

// NewDefaultFileOps creates a new DefaultFileOps instance rooted at
// $XDG_CONFIG_HOME/keymon or ~/.config/keymon.
func NewDefaultFileOps() (*DefaultFileOps, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return &DefaultFileOps{configDir: filepath.Join(xdg, "keymon")}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return &DefaultFileOps{
		configDir: filepath.Join(homeDir, ".config", "keymon"),
	}, nil
}

// NewFileOpsAt roots the layout at dir.
func NewFileOpsAt(dir string) *DefaultFileOps {
	return &DefaultFileOps{configDir: dir}
}

func (f *DefaultFileOps) GetConfigDir() string {
	return f.configDir
}

func (f *DefaultFileOps) GetConfigPath() string {
	return filepath.Join(f.configDir, "keymon.yaml")
}

func (f *DefaultFileOps) SaveConfig(filename string, data []byte) error {
	path := filepath.Join(f.configDir, filename)
	return os.WriteFile(path, data, 0o644)
}

func (f *DefaultFileOps) LoadConfig(filename string) ([]byte, error) {
	path := filepath.Join(f.configDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrConfigNotFound
	}
	return os.ReadFile(path)
}

func (f *DefaultFileOps) GetKbdDir() string {
	return filepath.Join(f.configDir, "kbd")
}

func (f *DefaultFileOps) KbdSearchDirs() []string {
	dirs := []string{f.GetKbdDir()}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "kbd"))
	}
	return append(dirs, systemKbdDirs...)
}

func (f *DefaultFileOps) GetScreenshotsDir() string {
	return filepath.Join(f.configDir, "screenshots")
}

func (f *DefaultFileOps) GetStatsPath() string {
	return filepath.Join(f.configDir, "stats.json")
}

func (f *DefaultFileOps) GetJournalPath() string {
	return filepath.Join(f.configDir, "journal.db")
}

func (f *DefaultFileOps) EnsureDirectories() error {
	dirs := []string{
		f.configDir,
		f.GetKbdDir(),
		f.GetScreenshotsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func (f *DefaultFileOps) getPIDFilePath() string {
	return filepath.Join(f.configDir, "keymon.pid")
}

func (f *DefaultFileOps) SavePID() error {
	pidFile := f.getPIDFilePath()
	pid := os.Getpid()
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

func (f *DefaultFileOps) CheckPID() error {
	pidFile := f.getPIDFilePath()

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %w", err)
	}
	if pid == os.Getpid() {
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	// signal 0 only probes for existence
	if err := process.Signal(syscall.Signal(0)); err == nil {
		return ErrProcessAlreadyRunning
	}

	logger.Debug("Found stale PID file, will be overwritten")
	return nil
}

func (f *DefaultFileOps) CleanupPID() error {
	return os.Remove(f.getPIDFilePath())
}

func (f *DefaultFileOps) HandleExit() {
	if err := f.CleanupPID(); err != nil && !os.IsNotExist(err) {
		logger.Error("Failed to cleanup PID file on exit", err)
	}
}
