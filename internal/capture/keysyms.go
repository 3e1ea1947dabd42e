package capture

import (
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil/keybind"

	"github.com/dooshek/keymon/internal/keymap"
)

// keybind folds printable keysyms into single characters and keeps several
// names per keysym. These tables map both back to the names xmodmap prints.

var keypadNames = map[xproto.Keysym]string{
	0xff80: "KP_Space",
	0xff89: "KP_Tab",
	0xff8d: "KP_Enter",
	0xffaa: "KP_Multiply",
	0xffab: "KP_Add",
	0xffac: "KP_Separator",
	0xffad: "KP_Subtract",
	0xffae: "KP_Decimal",
	0xffaf: "KP_Divide",
	0xffb0: "KP_0",
	0xffb1: "KP_1",
	0xffb2: "KP_2",
	0xffb3: "KP_3",
	0xffb4: "KP_4",
	0xffb5: "KP_5",
	0xffb6: "KP_6",
	0xffb7: "KP_7",
	0xffb8: "KP_8",
	0xffb9: "KP_9",
	0xffbd: "KP_Equal",
}

var asciiNames = map[rune]string{
	' ':  "space",
	'!':  "exclam",
	'"':  "quotedbl",
	'#':  "numbersign",
	'$':  "dollar",
	'%':  "percent",
	'&':  "ampersand",
	'\'': "apostrophe",
	'(':  "parenleft",
	')':  "parenright",
	'*':  "asterisk",
	'+':  "plus",
	',':  "comma",
	'-':  "minus",
	'.':  "period",
	'/':  "slash",
	':':  "colon",
	';':  "semicolon",
	'<':  "less",
	'=':  "equal",
	'>':  "greater",
	'?':  "question",
	'@':  "at",
	'[':  "bracketleft",
	'\\': "backslash",
	']':  "bracketright",
	'^':  "asciicircum",
	'_':  "underscore",
	'`':  "grave",
	'{':  "braceleft",
	'|':  "bar",
	'}':  "braceright",
	'~':  "asciitilde",
}

var keysymAliases = map[string]string{
	"Page_Up":         "Prior",
	"Page_Down":       "Next",
	"KP_Page_Up":      "KP_Prior",
	"KP_Page_Down":    "KP_Next",
	"script_switch":   "Mode_switch",
	"ISO_Group_Shift": "Mode_switch",
	"kana_switch":     "Mode_switch",
}

// keysymName returns the xmodmap-style name of sym, or "" if unknown.
func keysymName(sym xproto.Keysym) string {
	if sym == 0 {
		return ""
	}
	if name, ok := keypadNames[sym]; ok {
		return name
	}
	s := keybind.KeysymToStr(sym)
	if s == "" {
		return ""
	}
	if r := []rune(s); len(r) == 1 {
		if name, ok := asciiNames[r[0]]; ok {
			s = name
		}
	}
	if alias, ok := keysymAliases[s]; ok {
		s = alias
	}
	return s
}

// keysymTable maps X keycodes to canonical key names using the first
// keysym column.
type keysymTable struct {
	min   byte
	names []string
}

func newKeysymTable(min byte, perKeycode byte, syms []xproto.Keysym) *keysymTable {
	t := &keysymTable{min: min}
	if perKeycode == 0 {
		return t
	}
	per := int(perKeycode)
	for i := 0; i+per <= len(syms); i += per {
		name := keysymName(syms[i])
		if name != "" {
			name = keymap.CanonicalName(name)
		}
		t.names = append(t.names, name)
	}
	return t
}

func (t *keysymTable) lookup(keycode byte) string {
	if t == nil || keycode < t.min {
		return ""
	}
	i := int(keycode - t.min)
	if i >= len(t.names) {
		return ""
	}
	return t.names[i]
}
