package main

import (
	"flag"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/dooshek/keymon/internal/fileops"
	"github.com/dooshek/keymon/internal/journal"
	"github.com/dooshek/keymon/internal/stats"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	valueColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.FgHiBlack)
)

func printStats(sm *stats.StatsManager) error {
	s := sm.GetStats()
	out := color.Output

	headerColor.Fprintln(out, "keymon usage")
	fmt.Fprintf(out, "  sessions:   %s\n", valueColor.Sprint(s.Sessions))
	fmt.Fprintf(out, "  time:       %s\n", valueColor.Sprint((time.Duration(s.TotalSeconds) * time.Second).String()))
	fmt.Fprintf(out, "  unresolved: %s\n", valueColor.Sprint(s.Unresolved))

	if len(s.Events) > 0 {
		headerColor.Fprintln(out, "events")
		kinds := make([]string, 0, len(s.Events))
		for k := range s.Events {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(out, "  %-12s %s\n", k, valueColor.Sprint(s.Events[k]))
		}
	}

	top := sm.TopKeys(10)
	if len(top) == 0 {
		dimColor.Fprintln(out, "no key presses recorded yet")
		return nil
	}
	headerColor.Fprintln(out, "most pressed scancodes")
	for _, kc := range top {
		fmt.Fprintf(out, "  %4d  %s\n", kc.Scancode, valueColor.Sprint(kc.Count))
	}
	return nil
}

// journalCommand handles `keymon journal`.
func journalCommand(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	list := fs.Bool("list", false, "List recorded sessions")
	path := fs.String("path", "", "Journal database (defaults to ~/.config/keymon/journal.db)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*list {
		fs.Usage()
		return nil
	}

	dbPath := *path
	if dbPath == "" {
		fileOps, err := fileops.NewDefaultFileOps()
		if err != nil {
			return err
		}
		if err := fileOps.EnsureDirectories(); err != nil {
			return err
		}
		dbPath = fileOps.GetJournalPath()
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		return err
	}
	defer j.Close()

	sessions, err := j.Sessions()
	if err != nil {
		return err
	}
	return writeSessions(sessions)
}

func writeSessions(sessions []journal.Session) error {
	out := color.Output
	if len(sessions) == 0 {
		dimColor.Fprintln(out, "no sessions recorded; start keymon with --journal")
		return nil
	}
	headerColor.Fprintf(out, "%-6s %-20s %-10s %-8s %s\n", "ID", "STARTED", "DURATION", "BACKEND", "EVENTS")
	for _, s := range sessions {
		duration := dimColor.Sprint("running")
		if !s.Ended.IsZero() {
			duration = s.Ended.Sub(s.Started).Round(time.Second).String()
		}
		fmt.Fprintf(out, "%-6d %-20s %-10s %-8s %s\n",
			s.ID, s.Started.Format("2006-01-02 15:04:05"), duration, s.Backend, valueColor.Sprint(s.Events))
	}
	return nil
}
