// Package textnorm canonicalizes titles and author strings for comparison
// and storage. Both normalization strengths are deterministic, pure, and
// idempotent.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Transliterate maps the Danish letters to their closest ASCII digraphs.
var Transliterate = strings.NewReplacer(
	"æ", "ae",
	"ø", "oe",
	"å", "aa",
	"Æ", "Ae",
	"Ø", "Oe",
	"Å", "Aa",
)

// stripMarks decomposes precomposed characters and removes the combining
// marks, so 'á' becomes 'a'.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

var (
	entitySuffixRe = regexp.MustCompile(`(?i)\b(?:Ltd|Inc|Co|LLC|LLP|PLC)\.?\b`)
	parenthesesRe  = regexp.MustCompile(`\([^)]*\)`)
	punctuationRe  = regexp.MustCompile(`[^\w\s,]`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Loose normalizes a book title for matching: transliteration, diacritic
// stripping, lowercasing, and removal of everything that is not a letter,
// digit, or whitespace.
func Loose(s string) string {
	s = ascii(Transliterate.Replace(s))
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Strict normalizes an author string: on top of transliteration and
// diacritic stripping it removes business-entity suffixes and parenthesized
// content, keeps commas, collapses whitespace, and lowercases.
func Strict(s string) string {
	s = ascii(Transliterate.Replace(s))
	s = entitySuffixRe.ReplaceAllString(s, "")
	s = parenthesesRe.ReplaceAllString(s, "")
	s = punctuationRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// ascii drops combining marks, then any remaining rune outside ASCII except
// comma, asterisk, and hyphen.
func ascii(s string) string {
	decomposed, _, err := transform.String(stripMarks, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 128 || r == ',' || r == '*' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
