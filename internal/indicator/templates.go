package indicator

import (
	"strings"
	"unicode/utf8"
)

// TemplateKind says how a symbol is drawn.
type TemplateKind int

const (
	// TemplateNamed symbols have dedicated artwork.
	TemplateNamed TemplateKind = iota
	TemplateOneChar
	TemplateMultiChar
	TemplateNumpad
	TemplateMouse
)

func (k TemplateKind) String() string {
	switch k {
	case TemplateNamed:
		return "named"
	case TemplateOneChar:
		return "one-char"
	case TemplateMultiChar:
		return "multi-char"
	case TemplateNumpad:
		return "numpad"
	case TemplateMouse:
		return "mouse"
	}
	return "unknown"
}

// Template is the render recipe for one symbol.
type Template struct {
	Kind  TemplateKind
	Label string
}

var namedTemplates = map[string]string{
	MouseEmpty:            "",
	ShiftEmpty:            "",
	CtrlEmpty:             "",
	AltEmpty:              "",
	MetaEmpty:             "",
	KeyEmpty:              "",
	SymShift:              "Shift",
	SymCtrl:               "Ctrl",
	SymAlt:                "Alt",
	SymAltGr:              "AltGr",
	SymMeta:               "Meta",
	SymScrollUp:           "Scroll ↑",
	SymScrollDown:         "Scroll ↓",
	SymRelLeft:            "Scroll ←",
	SymRelRight:           "Scroll →",
	"BTN_LEFT":            "L",
	"BTN_MIDDLE":          "M",
	"BTN_RIGHT":           "R",
	"BTN_LEFTRIGHT":       "LR",
	"BTN_LEFTMIDDLE":      "LM",
	"BTN_MIDDLERIGHT":     "MR",
	"BTN_LEFTMIDDLERIGHT": "LMR",
	"KEY_SPACE":           "Space",
	"KEY_TAB":             "Tab",
	"KEY_BACKSPACE":       "Back",
	"KEY_RETURN":          "Return",
	"KEY_CAPS_LOCK":       "Caps",
	"KEY_MULTI_KEY":       "Multi",
}

// Templates caches the render template of every symbol seen so far. It is
// owned by one Machine.
type Templates struct {
	byName map[string]Template
}

// NewTemplates returns a cache holding the named symbols.
func NewTemplates() *Templates {
	t := &Templates{byName: make(map[string]Template, len(namedTemplates))}
	for name, label := range namedTemplates {
		t.byName[name] = Template{Kind: TemplateNamed, Label: label}
	}
	return t
}

// Lookup returns the template registered for symbol.
func (t *Templates) Lookup(symbol string) (Template, bool) {
	tpl, ok := t.byName[symbol]
	return tpl, ok
}

// Register stores tpl unless symbol already has a template. It reports
// whether the template was added.
func (t *Templates) Register(symbol string, tpl Template) bool {
	if _, ok := t.byName[symbol]; ok {
		return false
	}
	t.byName[symbol] = tpl
	return true
}

// Len returns the number of cached templates.
func (t *Templates) Len() int {
	return len(t.byName)
}

// Each calls fn for every cached template.
func (t *Templates) Each(fn func(symbol string, tpl Template)) {
	for name, tpl := range t.byName {
		fn(name, tpl)
	}
}

// keyTemplate picks the template for a key seen for the first time.
func keyTemplate(name, label string) Template {
	switch {
	case strings.HasPrefix(name, "KEY_KP"):
		return Template{Kind: TemplateNumpad, Label: label}
	case utf8.RuneCountInString(label) == 1:
		return Template{Kind: TemplateOneChar, Label: label}
	default:
		return Template{Kind: TemplateMultiChar, Label: label}
	}
}
