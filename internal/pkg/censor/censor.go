/*
Package censor masks configured words in message bodies before they reach the log.

Matching runs an Aho-Corasick automaton over a normalized copy of the text (lower-cased,
common leet substitutions folded, punctuation dropped) and maps hits back onto the
original runes so surrounding text and spacing are preserved.
*/
package censor

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Mask is the rune written over censored characters.
const Mask = '*'

// Censor replaces configured words with Mask. The zero value and a Censor built
// from an empty word list leave text untouched.
type Censor struct {
	matcher *goahocorasick.Machine
}

// New builds a Censor for words. Blank entries are ignored.
func New(words []string) (*Censor, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		if p, _ := normalize(strings.TrimSpace(w)); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}

	if len(patterns) == 0 {
		return &Censor{}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}

	return &Censor{matcher: m}, nil
}

// Apply returns text with every match masked.
func (c *Censor) Apply(text string) string {
	if c == nil || c.matcher == nil {
		return text
	}

	norm, origIdx := normalize(text)
	if len(norm) == 0 {
		return text
	}

	terms := c.matcher.MultiPatternSearch(norm, false)
	if len(terms) == 0 {
		return text
	}

	out := []rune(text)
	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			out[i] = Mask
		}
	}

	return string(out)
}

// normalize folds s into its searchable form and records, per kept rune, its index in s.
func normalize(s string) ([]rune, []int) {
	runes := []rune(s)
	norm := make([]rune, 0, len(runes))
	idx := make([]int, 0, len(runes))

	for i, r := range runes {
		r = fold(r)
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		norm = append(norm, unicode.ToLower(r))
		idx = append(idx, i)
	}

	return norm, idx
}

func fold(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}
