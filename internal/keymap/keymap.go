// Package keymap turns hardware scancodes into canonical key names.
//
// A Table is built once from a kbd file, a live xmodmap dump, or both
// merged, and is read-only afterwards.
package keymap

import (
	"sort"

	"github.com/dooshek/keymon/internal/logger"
)

// Entry is one row of the table.
type Entry struct {
	Scancode int
	Name     string // canonical, e.g. KEY_SHIFT_L
	Medium   string // human readable label
	Short    string // compact label for small layouts, may be empty
}

// Label picks the label to show at the given scale.
func (e Entry) Label(scale float64) string {
	if scale < 1.0 && e.Short != "" {
		return e.Short
	}
	return e.Medium
}

// Table maps scancodes to entries and canonical names back to scancodes.
type Table struct {
	byCode map[int]Entry
	byName map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		byCode: make(map[int]Entry),
		byName: make(map[string]int),
	}
}

// Set inserts or replaces the entry for e.Scancode. The reverse map is
// last-writer-wins and never keeps a name pointing at a replaced entry.
func (t *Table) Set(e Entry) {
	if e.Medium == "" {
		e.Medium = e.Name
	}
	if old, ok := t.byCode[e.Scancode]; ok && old.Name != e.Name {
		if t.byName[old.Name] == e.Scancode {
			delete(t.byName, old.Name)
		}
	}
	t.byCode[e.Scancode] = e
	t.byName[e.Name] = e.Scancode
}

// Len returns the number of scancodes in the table.
func (t *Table) Len() int {
	return len(t.byCode)
}

// Has reports whether scancode has an entry.
func (t *Table) Has(scancode int) bool {
	_, ok := t.byCode[scancode]
	return ok
}

// Lookup returns the entry stored for scancode without any name check.
func (t *Table) Lookup(scancode int) (Entry, bool) {
	e, ok := t.byCode[scancode]
	return e, ok
}

// Entries returns all entries ordered by scancode.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.byCode))
	for _, e := range t.byCode {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scancode < out[j].Scancode })
	return out
}

// Resolve looks scancode up directly. When the table disagrees with the
// name the input source observed, the observed name is looked up instead.
// An empty observed name means the source has no opinion.
func (t *Table) Resolve(scancode int, observed string) (Entry, bool) {
	if e, ok := t.byCode[scancode]; ok {
		if observed == "" || e.Name == observed {
			return e, true
		}
		logger.Debugf("Scancode %d is %s in the keymap but the server reports %s", scancode, e.Name, observed)
	}
	if observed != "" {
		if code, ok := t.byName[observed]; ok {
			logger.Debugf("Found key via name lookup: %s", observed)
			return t.byCode[code], true
		}
	}
	return Entry{}, false
}

// ScancodeFor is the reverse lookup used by synthetic injection.
func (t *Table) ScancodeFor(name string) (int, bool) {
	code, ok := t.byName[name]
	return code, ok
}

// Merge returns the union of live and fallback, preferring live for any
// scancode present in both.
func Merge(live, fallback *Table) *Table {
	out := NewTable()
	for _, e := range fallback.Entries() {
		if !live.Has(e.Scancode) {
			out.Set(e)
		}
	}
	for _, e := range live.Entries() {
		out.Set(e)
	}
	return out
}
