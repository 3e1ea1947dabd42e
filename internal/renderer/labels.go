// Package renderer draws indicator slots: a colored console status line, a
// tcell terminal screen, or both.
package renderer

import (
	"strings"
	"sync"

	"github.com/dooshek/keymon/internal/indicator"
)

// Labels remembers the text of every template announced by the machine.
type Labels struct {
	mu     sync.RWMutex
	byName map[string]indicator.Template
}

func NewLabels() *Labels {
	return &Labels{byName: make(map[string]indicator.Template)}
}

func (l *Labels) EnsureRenderable(symbol string, t indicator.Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[symbol] = t
}

// Label returns the text for symbol. Unannounced symbols fall back to the
// name without its KEY_ prefix.
func (l *Labels) Label(symbol string) string {
	l.mu.RLock()
	t, ok := l.byName[symbol]
	l.mu.RUnlock()
	if ok {
		return t.Label
	}
	return strings.TrimPrefix(symbol, "KEY_")
}

// Kind returns the template kind of symbol, if announced.
func (l *Labels) Kind(symbol string) (indicator.TemplateKind, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.byName[symbol]
	return t.Kind, ok
}

// Len returns the number of announced templates.
func (l *Labels) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byName)
}
