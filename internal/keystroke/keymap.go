package keystroke

// Linux evdev key codes used by the hook. Other platforms translate their
// native codes into this space before delivery.
const (
	KeyEsc        = 1
	KeyBackspace  = 14
	KeyTab        = 15
	KeyEnter      = 28
	KeyLeftCtrl   = 29
	KeyLeftShift  = 42
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeySpace      = 57
	KeyCapsLock   = 58
	KeyRightCtrl  = 97
	KeyRightAlt   = 100
	KeyLeftMeta   = 125
	KeyRightMeta  = 126

	BtnLeft  = 0x110
	BtnRight = 0x111
)

type keyChars struct {
	plain, shifted string
}

// usLayout maps evdev key codes to characters on a US keyboard.
var usLayout = map[int]keyChars{
	2: {"1", "!"}, 3: {"2", "@"}, 4: {"3", "#"}, 5: {"4", "$"}, 6: {"5", "%"},
	7: {"6", "^"}, 8: {"7", "&"}, 9: {"8", "*"}, 10: {"9", "("}, 11: {"0", ")"},
	12: {"-", "_"}, 13: {"=", "+"},
	16: {"q", "Q"}, 17: {"w", "W"}, 18: {"e", "E"}, 19: {"r", "R"}, 20: {"t", "T"},
	21: {"y", "Y"}, 22: {"u", "U"}, 23: {"i", "I"}, 24: {"o", "O"}, 25: {"p", "P"},
	26: {"[", "{"}, 27: {"]", "}"},
	30: {"a", "A"}, 31: {"s", "S"}, 32: {"d", "D"}, 33: {"f", "F"}, 34: {"g", "G"},
	35: {"h", "H"}, 36: {"j", "J"}, 37: {"k", "K"}, 38: {"l", "L"},
	39: {";", ":"}, 40: {"'", "\""}, 41: {"`", "~"}, 43: {"\\", "|"},
	44: {"z", "Z"}, 45: {"x", "X"}, 46: {"c", "C"}, 47: {"v", "V"}, 48: {"b", "B"},
	49: {"n", "N"}, 50: {"m", "M"},
	51: {",", "<"}, 52: {".", ">"}, 53: {"/", "?"},
	KeySpace: {" ", " "},
	KeyTab:   {"\t", "\t"},
	KeyEnter: {"\n", "\n"},
}

type keyPos struct {
	code    int
	shifted bool
}

var reverseLayout = func() map[rune]keyPos {
	m := make(map[rune]keyPos)
	for code, kc := range usLayout {
		for _, r := range kc.plain {
			m[r] = keyPos{code, false}
		}
		for _, r := range kc.shifted {
			if _, ok := m[r]; !ok {
				m[r] = keyPos{code, true}
			}
		}
	}
	return m
}()

// CharFor resolves code to the character it types under mods.
// Caps lock only affects letters.
func CharFor(code int, mods Modifiers) (string, bool) {
	kc, ok := usLayout[code]
	if !ok {
		return "", false
	}
	if mods.Has(ModControl) || mods.Has(ModAlt) || mods.Has(ModCommand) {
		return "", false
	}

	shift := mods.Has(ModShift)
	if isLetter(kc.plain) && mods.Has(ModCapsLock) {
		shift = !shift
	}
	if shift {
		return kc.shifted, true
	}
	return kc.plain, true
}

// CodeFor returns the key code typing r, and whether shift is needed.
func CodeFor(r rune) (code int, shifted bool, ok bool) {
	e, ok := reverseLayout[r]
	return e.code, e.shifted, ok
}

func isLetter(s string) bool {
	return len(s) == 1 && s[0] >= 'a' && s[0] <= 'z'
}

// ModifierFor returns the modifier bit a modifier key controls, or 0.
func ModifierFor(code int) Modifiers {
	switch code {
	case KeyLeftShift, KeyRightShift:
		return ModShift
	case KeyLeftCtrl, KeyRightCtrl:
		return ModControl
	case KeyLeftAlt, KeyRightAlt:
		return ModAlt
	case KeyLeftMeta, KeyRightMeta:
		return ModCommand
	case KeyCapsLock:
		return ModCapsLock
	default:
		return 0
	}
}

// modifierState tracks held modifiers and the caps lock toggle from a
// stream of key transitions.
type modifierState struct {
	held Modifiers
}

func (m *modifierState) apply(code int, down bool) {
	bit := ModifierFor(code)
	switch {
	case bit == 0:
	case bit == ModCapsLock:
		if down {
			m.held ^= ModCapsLock
		}
	case down:
		m.held |= bit
	default:
		m.held &^= bit
	}
}

func (m *modifierState) current() Modifiers {
	return m.held
}
