package keymap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dooshek/keymon/internal/logger"
)

// ParseKbd reads the kbd text format: one "scancode NAME MEDIUM [SHORT]"
// per line, '#' starts a comment. Malformed lines are skipped.
func ParseKbd(r io.Reader) (*Table, error) {
	t := NewTable()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			logger.Debugf("kbd line %d: expected at least 3 fields, got %d", lineNo, len(fields))
			continue
		}
		code, err := strconv.Atoi(fields[0])
		if err != nil || code < 0 {
			logger.Debugf("kbd line %d: bad scancode %q", lineNo, fields[0])
			continue
		}
		e := Entry{Scancode: code, Name: fields[1], Medium: fields[2]}
		if len(fields) > 3 {
			e.Short = fields[3]
		}
		t.Set(e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read kbd data: %w", err)
	}
	return t, nil
}

// WriteKbd writes t in the format ParseKbd reads.
func WriteKbd(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# This is a space separated file with UTF-8 encoding")
	fmt.Fprintln(bw, "# Short name is optional, will default to the medium-name")
	fmt.Fprintln(bw, "# Scancode Map-Name Medium-Name Short-Name")
	for _, e := range t.Entries() {
		medium := strings.ReplaceAll(e.Medium, " ", "_")
		if e.Short != "" {
			fmt.Fprintf(bw, "%d %s %s %s\n", e.Scancode, e.Name, medium, e.Short)
		} else {
			fmt.Fprintf(bw, "%d %s %s\n", e.Scancode, e.Name, medium)
		}
	}
	return bw.Flush()
}
