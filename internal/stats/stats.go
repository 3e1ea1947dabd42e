package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/logger"
)

// Stats holds usage totals across sessions
type Stats struct {
	Sessions     int               `json:"sessions"`
	TotalSeconds float64           `json:"total_seconds"`
	Events       map[string]uint64 `json:"events"`     // by event kind
	Scancodes    map[string]uint64 `json:"scancodes"`  // key presses by scancode
	Unresolved   uint64            `json:"unresolved"` // presses no keymap entry matched
}

// KeyCount is one entry of TopKeys.
type KeyCount struct {
	Scancode int
	Count    uint64
}

// StatsManager counts observed events and persists them
type StatsManager struct {
	stats    Stats
	filePath string
	mu       sync.Mutex
}

// NewStatsManager creates a stats manager backed by filePath and loads
// existing data
func NewStatsManager(filePath string) *StatsManager {
	sm := &StatsManager{filePath: filePath, stats: emptyStats()}
	if err := sm.load(); err != nil {
		logger.Debugf("Could not load stats (will start fresh): %v", err)
	}
	return sm
}

func emptyStats() Stats {
	return Stats{
		Events:    make(map[string]uint64),
		Scancodes: make(map[string]uint64),
	}
}

// Observe counts one captured event. It runs on the poll loop.
func (sm *StatsManager) Observe(ev capture.RawEvent) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stats.Events[ev.Kind.String()]++
	if ev.Kind == capture.KeyDown {
		sm.stats.Scancodes[strconv.Itoa(ev.Code)]++
	}
}

// EndSession adds a finished session and persists immediately
func (sm *StatsManager) EndSession(duration time.Duration, unresolved uint64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stats.Sessions++
	sm.stats.TotalSeconds += duration.Seconds()
	sm.stats.Unresolved += unresolved
	return sm.save()
}

// GetStats returns a deep copy of current statistics
func (sm *StatsManager) GetStats() Stats {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := sm.stats
	out.Events = make(map[string]uint64, len(sm.stats.Events))
	for k, v := range sm.stats.Events {
		out.Events[k] = v
	}
	out.Scancodes = make(map[string]uint64, len(sm.stats.Scancodes))
	for k, v := range sm.stats.Scancodes {
		out.Scancodes[k] = v
	}
	return out
}

// TopKeys returns the n most pressed scancodes, most pressed first
func (sm *StatsManager) TopKeys(n int) []KeyCount {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]KeyCount, 0, len(sm.stats.Scancodes))
	for k, v := range sm.stats.Scancodes {
		code, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out = append(out, KeyCount{Scancode: code, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Scancode < out[j].Scancode
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Reset clears all statistics and persists empty state
func (sm *StatsManager) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stats = emptyStats()
	if err := sm.save(); err != nil {
		return fmt.Errorf("failed to save reset stats: %w", err)
	}
	return nil
}

// load reads statistics from disk (internal use)
func (sm *StatsManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("Stats file not found, starting fresh: %s", sm.filePath)
			return nil
		}
		return fmt.Errorf("failed to read stats file: %w", err)
	}

	if err := json.Unmarshal(data, &sm.stats); err != nil {
		sm.stats = emptyStats()
		return fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	if sm.stats.Events == nil {
		sm.stats.Events = make(map[string]uint64)
	}
	if sm.stats.Scancodes == nil {
		sm.stats.Scancodes = make(map[string]uint64)
	}

	logger.Debugf("Loaded stats from %s", sm.filePath)
	return nil
}

// save writes statistics to disk (internal use)
func (sm *StatsManager) save() error {
	dir := filepath.Dir(sm.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	// write atomically by writing to temp file and renaming
	tempFile := sm.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}
	if err := os.Rename(tempFile, sm.filePath); err != nil {
		return fmt.Errorf("failed to rename temp stats file: %w", err)
	}

	logger.Debugf("Saved stats to %s", sm.filePath)
	return nil
}
