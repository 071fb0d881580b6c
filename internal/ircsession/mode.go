package ircsession

import "fmt"

// ApplyMode parses a MODE parameter string over ch, right-to-left, so
// each flag letter claims its trailing parameter in the correct order
// (spec §4.6). The sign for a given letter is the nearest '+'/'-' found
// scanning left from it; default is '+'. Unknown letters are accepted
// silently and recorded with no parameter consumed.
func ApplyMode(ch *Channel, modeStr string, params []string) error {
	type letterSign struct {
		letter byte
		adding bool
	}
	var letters []letterSign
	adding := true
	for i := 0; i < len(modeStr); i++ {
		c := modeStr[i]
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			letters = append(letters, letterSign{c, adding})
		}
	}

	paramIdx := len(params) - 1
	for i := len(letters) - 1; i >= 0; i-- {
		ls := letters[i]
		var param string
		if modeLetterNeedsParam(ls.letter, ls.adding) {
			if paramIdx < 0 {
				return fmt.Errorf("ircsession: mode %q missing parameter for %c", modeStr, ls.letter)
			}
			param = params[paramIdx]
			paramIdx--
		}
		applyOneMode(ch, ls.letter, ls.adding, param)
	}
	return nil
}

// modeLetterNeedsParam reports whether letter consumes a trailing
// parameter, which for some letters depends on the sign (spec §4.6:
// `+o nick`, `+l 50`, `+b mask`, `+k key`; `-l`/`-k` take none).
func modeLetterNeedsParam(letter byte, adding bool) bool {
	switch letter {
	case 'o', 'h', 'a', 'q', 'v', 'b':
		return true
	case 'k', 'l':
		return adding
	default:
		return false
	}
}

func applyOneMode(ch *Channel, letter byte, adding bool, param string) {
	switch letter {
	case 'o':
		setNickFlag(ch, param, FlagOp, adding)
	case 'h':
		setNickFlag(ch, param, FlagHalfop, adding)
	case 'a':
		setNickFlag(ch, param, FlagChanAdmin, adding)
	case 'q':
		setNickFlag(ch, param, FlagChanOwner, adding)
	case 'v':
		setNickFlag(ch, param, FlagVoice, adding)
	case 'k', 'l':
		if adding {
			ch.Modes[letter] = param
		} else {
			delete(ch.Modes, letter)
		}
	case 'b':
		// ban mask list isn't part of the nick-flag model; recognized and
		// otherwise ignored, matching spec's "unknown letters accepted
		// silently" fallback for letters this module doesn't track state for.
	default:
		if adding {
			ch.Modes[letter] = ""
		} else {
			delete(ch.Modes, letter)
		}
	}
}

func setNickFlag(ch *Channel, nickName string, flag Flags, adding bool) {
	n, ok := ch.Nick(nickName)
	if !ok {
		return
	}
	if adding {
		n.Flags |= flag
	} else {
		n.Flags &^= flag
	}
}
