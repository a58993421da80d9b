// Package textnorm folds French text for keyword and name matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics: "Épidémie" → "epidemie".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// HasKeyword reports whether text contains any keyword as a run of whole
// folded words. Keyword words also match their plural in "s" or "x"; a
// trailing "*" turns the last keyword word into a prefix ("priorit*").
func HasKeyword(text string, keywords ...string) bool {
	words := Words(text)
	for _, k := range keywords {
		stem := strings.HasSuffix(k, "*")
		kw := Words(strings.TrimSuffix(k, "*"))
		if len(kw) == 0 {
			continue
		}
		for i := 0; i+len(kw) <= len(words); i++ {
			if phraseAt(words[i:], kw, stem) {
				return true
			}
		}
	}
	return false
}

func phraseAt(words, kw []string, stem bool) bool {
	for j, k := range kw {
		w := words[j]
		if stem && j == len(kw)-1 {
			if !strings.HasPrefix(w, k) {
				return false
			}
			continue
		}
		if w != k && w != k+"s" && w != k+"x" {
			return false
		}
	}
	return true
}

// Words splits folded text into alphanumeric words.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Truncate shortens s to at most max runes, appending "…" when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
