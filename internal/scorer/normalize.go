package scorer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds case, strips diacritics and replaces punctuation with
// single spaces: "Tiffany & Co." becomes "tiffany co".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokens splits a normalized string into words, dropping stopwords.
func tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "with": true, "in": true, "by": true,
}

// legalSuffixes are dropped from the end of maker names before comparison.
var legalSuffixes = [][]string{
	{"and", "company"},
	{"and", "co"},
	{"co"},
	{"company"},
	{"inc"},
	{"incorporated"},
	{"ltd"},
	{"limited"},
	{"llc"},
	{"corp"},
	{"corporation"},
	{"mfg"},
	{"manufacturing"},
	{"gmbh"},
	{"plc"},
}

// normalizeMaker normalizes a maker name and strips trailing legal suffixes.
func normalizeMaker(s string) string {
	words := strings.Fields(Normalize(s))
	for {
		stripped := false
		for _, suf := range legalSuffixes {
			if len(words) > len(suf) && hasSuffix(words, suf) {
				words = words[:len(words)-len(suf)]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(words, " ")
}

func hasSuffix(words, suf []string) bool {
	off := len(words) - len(suf)
	for i, w := range suf {
		if words[off+i] != w {
			return false
		}
	}
	return true
}
