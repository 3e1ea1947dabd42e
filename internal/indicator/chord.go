package indicator

import "strconv"

// chord is the set of held mouse buttons.
type chord uint8

const (
	chordLeft chord = 1 << iota
	chordRight
	chordMiddle
)

var chordSymbols = map[chord]string{
	chordLeft:                           "BTN_LEFT",
	chordMiddle:                         "BTN_MIDDLE",
	chordRight:                          "BTN_RIGHT",
	chordLeft | chordRight:              "BTN_LEFTRIGHT",
	chordLeft | chordMiddle:             "BTN_LEFTMIDDLE",
	chordMiddle | chordRight:            "BTN_MIDDLERIGHT",
	chordLeft | chordMiddle | chordRight: "BTN_LEFTMIDDLERIGHT",
}

// buttonBit maps an X button number to its chord bit. Other buttons are
// not part of chords.
func buttonBit(button int) (chord, bool) {
	switch button {
	case 1:
		return chordLeft, true
	case 2:
		return chordMiddle, true
	case 3:
		return chordRight, true
	}
	return 0, false
}

// symbol returns the composite symbol for the held set, or "" if empty.
func (c chord) symbol(emulateMiddle bool) string {
	if emulateMiddle && c == chordLeft|chordRight {
		return "BTN_MIDDLE"
	}
	return chordSymbols[c]
}

func extraButtonSymbol(button int) string {
	return "BTN_" + strconv.Itoa(button)
}

// swapButton exchanges left and right for left-handed setups.
func swapButton(button int) int {
	switch button {
	case 1:
		return 3
	case 3:
		return 1
	}
	return button
}
