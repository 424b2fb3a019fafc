package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s into the form both queries and catalog text are compared
// in: lower case, diacritics removed, every character other than a-z, 0-9,
// whitespace and "-" turned into a space, whitespace collapsed and trimmed.
//
//	Normalize("Canción - Título_1.mp3") == "cancion - titulo 1 mp3"
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks(), strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return ' '
		}
	}, folded)

	return strings.Join(strings.Fields(mapped), " ")
}

// stripMarks decomposes and drops combining marks. Transformers keep state,
// so each call gets its own chain.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// queryWords splits a normalized query into the words that count for
// scoring; single characters are ignored.
func queryWords(normalized string) []string {
	var words []string
	for _, w := range strings.Fields(normalized) {
		if len(w) > 1 {
			words = append(words, w)
		}
	}
	return words
}
