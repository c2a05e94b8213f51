package util

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func TrimString(s string, length int) string {
	chars := []rune(s)
	if len(chars) <= length {
		return s
	}

	return strings.TrimSpace(string(chars[:length])) + "…"
}

// FoldText lower-cases s, strips diacritics and collapses every run of
// non-alphanumeric characters into a single space.
func FoldText(s string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, s)
	if err != nil {
		stripped = s
	}

	var builder strings.Builder
	pendingSpace := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && builder.Len() > 0 {
				builder.WriteByte(' ')
			}
			pendingSpace = false
			builder.WriteRune(r)
		} else {
			pendingSpace = true
		}
	}

	return builder.String()
}

// NaturalLess compares strings so that embedded numbers sort numerically,
// putting platform "2" before "10" and "7A" after "7".
func NaturalLess(a, b string) bool {
	for a != "" && b != "" {
		aNum, aRest := leadingNumber(a)
		bNum, bRest := leadingNumber(b)

		switch {
		case aNum != "" && bNum != "":
			an, _ := strconv.Atoi(aNum)
			bn, _ := strconv.Atoi(bNum)
			if an != bn {
				return an < bn
			}
			a, b = aRest, bRest
		case aNum != "":
			return true
		case bNum != "":
			return false
		default:
			if a[0] != b[0] {
				return a[0] < b[0]
			}
			a, b = a[1:], b[1:]
		}
	}

	return len(a) < len(b)
}

func leadingNumber(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
