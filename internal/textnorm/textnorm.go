// Package textnorm folds text into a canonical form so that formatting differences do not matter.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC, Unicode case folding and whitespace collapsing.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Words splits normalized text into letter/digit runs, dropping punctuation.
func Words(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ContainsPhrase reports whether the word sequence of phrase appears in words.
func ContainsPhrase(words []string, phrase string) bool {
	target := Words(phrase)
	if len(target) == 0 || len(target) > len(words) {
		return false
	}
	for i := 0; i+len(target) <= len(words); i++ {
		match := true
		for j, w := range target {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
