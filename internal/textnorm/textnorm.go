// Package textnorm turns raw extracted text into the canonical form used for
// embedding and keyword matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Anything that is not a letter, digit, underscore, whitespace, hyphen or
	// period becomes a space. Combining marks are kept so decomposed accents
	// survive.
	disallowed = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s\p{Zs}\-.]`)
	spaceRuns  = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Lemmatizer maps tokens to lemmas and identifies stopwords. Implementations
// must return lemmas that are fixed points (Lemma(Lemma(t)) == Lemma(t)),
// otherwise normalization stops being idempotent.
type Lemmatizer interface {
	Name() string
	Lemma(token string) string
	IsStopword(token string) bool
}

// Normalizer applies the cleaning steps and, when a Lemmatizer is present,
// stopword removal and lemmatization.
type Normalizer struct {
	lemmatizer Lemmatizer
}

// New creates a Normalizer. A nil Lemmatizer limits normalization to
// character cleaning, whitespace collapsing and lowercasing.
func New(l Lemmatizer) *Normalizer {
	return &Normalizer{lemmatizer: l}
}

// Model returns the lemmatizer name, or "" when none is configured.
func (n *Normalizer) Model() string {
	if n == nil || n.lemmatizer == nil {
		return ""
	}
	return n.lemmatizer.Name()
}

// Normalize returns the canonical form of text. It is deterministic and
// idempotent.
func (n *Normalizer) Normalize(text string) string {
	cleaned := Clean(text)
	if cleaned == "" || n == nil || n.lemmatizer == nil {
		return cleaned
	}

	tokens := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r)
	})
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if n.lemmatizer.IsStopword(tok) {
			continue
		}
		lemma := n.lemmatizer.Lemma(tok)
		if lemma == "" || !alphabetic(lemma) || n.lemmatizer.IsStopword(lemma) {
			continue
		}
		kept = append(kept, lemma)
	}
	return strings.Join(kept, " ")
}

// Clean performs the lemmatizer-independent steps: strip disallowed
// characters, collapse whitespace, lowercase.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = disallowed.ReplaceAllString(text, " ")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(strings.ToLower(text))
}

func alphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			return false
		}
	}
	return s != ""
}
