package archivefs

import (
	"strconv"
	"strings"
)

// naturalKey splits a name into alternating non-digit/digit runs so that
// "2.jpg" sorts before "10.jpg" (§8 natural-sort property).
type naturalKey []naturalToken

type naturalToken struct {
	isNum bool
	num   int64
	str   string
}

func buildNaturalKey(name string) naturalKey {
	lower := strings.ToLower(name)
	var key naturalKey
	runes := []rune(lower)
	i := 0
	for i < len(runes) {
		start := i
		isDigit := isDigitRune(runes[i])
		for i < len(runes) && isDigitRune(runes[i]) == isDigit {
			i++
		}
		run := string(runes[start:i])
		if isDigit {
			n, err := strconv.ParseInt(run, 10, 64)
			if err != nil {
				key = append(key, naturalToken{isNum: false, str: run})
				continue
			}
			key = append(key, naturalToken{isNum: true, num: n})
		} else {
			key = append(key, naturalToken{isNum: false, str: run})
		}
	}
	return key
}

func isDigitRune(r rune) bool { return r >= '0' && r <= '9' }

// compareNaturalKey orders a before b (<0), equal (0), or after (>0).
// A numeric token and a string token at the same position compare by kind,
// numeric first, matching Python's mixed-list comparison behavior the
// original relies on (it never mixes kinds at the same split position in
// practice, since splits always alternate, but ties in length are handled
// by falling back to shorter-is-less).
func compareNaturalKey(a, b naturalKey) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ta, tb := a[i], b[i]
		if ta.isNum && tb.isNum {
			switch {
			case ta.num < tb.num:
				return -1
			case ta.num > tb.num:
				return 1
			default:
				continue
			}
		}
		if ta.isNum != tb.isNum {
			if ta.isNum {
				return -1
			}
			return 1
		}
		if ta.str != tb.str {
			if ta.str < tb.str {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// NaturalLess reports whether name a should sort before name b.
func NaturalLess(a, b string) bool {
	return compareNaturalKey(buildNaturalKey(a), buildNaturalKey(b)) < 0
}
