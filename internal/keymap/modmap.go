package keymap

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reRange     = regexp.MustCompile(`KeyCodes range from (\d+) to`)
	reKeyLine   = regexp.MustCompile(`^\s+(\d+)\s+0x[\dA-Fa-f]+\s+(.*)`)
	reParenName = regexp.MustCompile(`\((.+?)\)`)
)

// mediumNames maps an uppercased keysym name to its display label.
var mediumNames = map[string]string{
	"ESCAPE":                "Esc",
	"PLUS":                  "+",
	"MINUS":                 "-",
	"EQUAL":                 "=",
	"BACKSPACE":             "Back",
	"TAB":                   "Tab",
	"BRACKETLEFT":           "[",
	"BRACKETRIGHT":          "]",
	"BRACELEFT":             "(",
	"BRACERIGHT":            ")",
	"DEAD_ACUTE":            "´",
	"ACUTE":                 "´",
	"QUESTIONDOWN":          "¿",
	"WAKEUP":                "Wake",
	"BAR":                   "|",
	"TILDE":                 "~",
	"NTILDE":                "~",
	"RETURN":                "Return",
	"CONTROL_L":             "Ctrl",
	"SEMICOLON":             ";",
	"APOSTROPHE":            "'",
	"GRAVE":                 "`",
	"SHIFT_L":               "Shift",
	"BACKSLASH":             "\\",
	"COMMA":                 ",",
	"PERIOD":                ".",
	"SLASH":                 "/",
	"SHIFT_R":               "Shift",
	"KP_MULTIPLY":           "*",
	"ALT_L":                 "Alt",
	"ALT_R":                 "Alt",
	"SPACE":                 "Space",
	"MULTI_KEY":             "Multi",
	"NUM_LOCK":              "Num",
	"SCROLL_LOCK":           "Scrl",
	"KP_HOME":               "7",
	"KP_UP":                 "8",
	"KP_PRIOR":              "9",
	"KP_SUBTRACT":           "-",
	"KP_LEFT":               "4",
	"KP_BEGIN":              "5",
	"KP_RIGHT":              "6",
	"KP_ADD":                "+",
	"KP_END":                "1",
	"KP_DOWN":               "2",
	"KP_PAGE_DOWN":          "3",
	"KP_NEXT":               "3",
	"KP_INSERT":             "0",
	"KP_DELETE":             ".",
	"ISO_LEVEL3_SHIFT":      "Alt",
	"LESS":                  "<",
	"KP_ENTER":              "⏎",
	"CONTROL_R":             "Ctrl",
	"KP_DIVIDE":             "/",
	"PRINT":                 "Print",
	"LINEFEED":              "Lf",
	"HOME":                  "Home",
	"UP":                    "↑",
	"PRIOR":                 "PgUp",
	"LEFT":                  "←",
	"RIGHT":                 "→",
	"END":                   "End",
	"DOWN":                  "↓",
	"NEXT":                  "PgDn",
	"INSERT":                "Ins",
	"DELETE":                "Del",
	"XF86AUDIOMUTE":         "Mute",
	"XF86AUDIOLOWERVOLUME":  "Vol-",
	"XF86AUDIORAISEVOLUME":  "Vol+",
	"XF86POWEROFF":          "Off",
	"KP_EQUAL":              "=",
	"PLUSMINUS":             "+/-",
	"PAUSE":                 "Pause",
	"KP_DECIMAL":            ".",
	"SUPER_L":               "Super",
	"MENU":                  "Menu",
	"CANCEL":                "Cancel",
	"REDO":                  "Redo",
	"UNDO":                  "Undo",
	"XF86COPY":              "Copy",
	"XF86PASTE":             "Paste",
	"FIND":                  "Find",
	"XF86CUT":               "Cut",
	"HELP":                  "Help",
	"XF86MENUKB":            "MenuKb",
	"XF86CALCULATOR":        "Calc",
	"XF86SLEEP":             "Sleep",
	"XF86WAKEUP":            "Wake",
	"XF86EXPLORER":          "Explorer",
	"XF86SEND":              "Send",
	"XF86XFER":              "Xfer",
	"XF86LAUNCH1":           "Launch1",
	"XF86LAUNCH2":           "Launch2",
	"XF86LAUNCH3":           "Launch3",
	"XF86LAUNCH4":           "Launch4",
	"XF86WWW":               "www",
	"XF86DOS":               "Dos",
	"XF86SCREENSAVER":       "Screensaver",
	"XF86ROTATEWINDOWS":     "RotateWin",
	"XF86MAIL":              "Mail",
	"XF86FAVORITES":         "Fav",
	"XF86MYCOMPUTER":        "MyComputer",
	"XF86BACK":              "⇐",
	"XF86FORWARD":           "⇒",
	"XF86EJECT":             "Eject",
	"XF86AUDIONEXT":         "Next",
	"XF86AUDIOPLAY":         "Play",
	"XF86AUDIOPREV":         "Prev",
	"XF86AUDIOSTOP":         "Stop",
	"XF86AUDIORECORD":       "Record",
	"XF86AUDIOREWIND":       "Rewind",
	"XF86AUDIOPAUSE":        "Pause",
	"XF86PHONE":             "Phone",
	"XF86TOOLS":             "Tools",
	"XF86HOMEPAGE":          "HomePage",
	"XF86RELOAD":            "Reload",
	"XF86CLOSE":             "Close",
	"XF86SCROLLUP":          "ScrollUp",
	"XF86SCROLLDOWN":        "ScrollDn",
	"PARENLEFT":             "(",
	"PARENRIGHT":            ")",
	"XF86NEW":               "New",
	"MODE_SWITCH":           "Mode",
	"NOSYMBOL":              "-",
	"XF86SUSPEND":           "Suspend",
	"XF86WEBCAM":            "WebCam",
	"XF86SEARCH":            "Search",
	"XF86FINANCE":           "Finance",
	"XF86SHOP":              "Shop",
	"XF86MONBRIGHTNESSDOWN": "BrightnessDown",
	"XF86MONBRIGHTNESSUP":   "BrightnessUp",
	"XF86AUDIOMEDIA":        "AudioMedia",
	"XF86DISPLAY":           "Display",
	"XF86KBDLIGHTONOFF":     "LightOnOff",
	"XF86KBDBRIGHTNESSDOWN": "BrightnessDown",
	"XF86KBDBRIGHTNESSUP":   "BrightnessUp",
	"XF86REPLY":             "Reply",
	"XF86MAILFORWARD":       "MailForward",
	"XF86SAVE":              "Save",
	"XF86DOCUMENTS":         "Docs",
	"XF86BATTERY":           "Battery",
	"XF86BLUETOOTH":         "Bluetooth",
	"XF86WLAN":              "Lan",
}

// shortNames holds compact labels used when the indicators are scaled down.
var shortNames = map[string]string{
	"BACKSPACE":            "⇽",
	"RETURN":               "⏎",
	"CONTROL_L":            "Ctl",
	"SHIFT_L":              "Shft",
	"SHIFT_R":              "Shft",
	"SPACE":                "Spc",
	"PRINT":                "Prt",
	"LINEFEED":             "Lf",
	"HOME":                 "Hm",
	"INSERT":               "Ins",
	"DELETE":               "Del",
	"XF86AUDIOMUTE":        "Mute",
	"XF86AUDIOLOWERVOLUME": "V-",
	"XF86AUDIORAISEVOLUME": "V+",
	"XF86POWEROFF":         "Off",
	"PRIOR":                "PgU",
	"NEXT":                 "PgD",
	"PAUSE":                "Ps",
	"SUPER_L":              "Spr",
	"MULTI_KEY":            "Mul",
	"MENU":                 "Men",
	"CANCEL":               "Can",
	"REDO":                 "Red",
	"UNDO":                 "Und",
	"XF86COPY":             "Cp",
	"XF86CUT":              "Cut",
	"XF86MENUKB":           "MenuKb",
}

// CanonicalName builds the table name for a keysym name as printed by
// xmodmap or returned by the X server, e.g. "XF86AudioMute" gives
// KEY_AUDIOMUTE.
func CanonicalName(keysym string) string {
	return strings.ReplaceAll("KEY_"+strings.ToUpper(keysym), "XF86", "")
}

// ParseModmap parses `xmodmap -pk` output. Keycodes are shifted down by the
// reported lower bound so they line up with kbd scancodes.
func ParseModmap(text string) *Table {
	t := NewTable()
	lower := 8
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if m := reRange.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				lower = n
			}
		}
		m := reKeyLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		keycode, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		aliases := reParenName.FindStringSubmatch(m[2])
		if aliases == nil {
			continue
		}
		alias := strings.ToUpper(aliases[1])
		medium, ok := mediumNames[alias]
		if !ok {
			medium = alias
		}
		t.Set(Entry{
			Scancode: keycode - lower,
			Name:     CanonicalName(alias),
			Medium:   medium,
			Short:    shortNames[alias],
		})
	}
	return t
}
