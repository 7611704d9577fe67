package textnorm

import (
	_ "embed"
	"strings"
	"sync"
)

//go:embed stopwords_es.txt
var stopwordsES string

//go:embed lemmas_es.txt
var lemmasES string

// SpanishModel is the name reported for the built-in Spanish lemmatizer.
const SpanishModel = "es-stopwords-lemma-v1"

// Spanish is a dictionary lemmatizer with a Spanish stopword list. Tokens
// absent from the lemma table are their own lemma.
type Spanish struct {
	once      sync.Once
	stopwords map[string]struct{}
	lemmas    map[string]string
}

// NewSpanish returns the built-in Spanish lemmatizer.
func NewSpanish() *Spanish {
	return &Spanish{}
}

func (s *Spanish) load() {
	s.once.Do(func() {
		s.stopwords = make(map[string]struct{})
		for _, w := range strings.Split(stopwordsES, "\n") {
			w = strings.TrimSpace(w)
			if w != "" {
				s.stopwords[w] = struct{}{}
			}
		}

		s.lemmas = make(map[string]string)
		for _, line := range strings.Split(lemmasES, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			form, lemma, ok := strings.Cut(line, "\t")
			if !ok {
				continue
			}
			s.lemmas[strings.TrimSpace(form)] = strings.TrimSpace(lemma)
		}
	})
}

func (s *Spanish) Name() string { return SpanishModel }

func (s *Spanish) Lemma(token string) string {
	s.load()
	if lemma, ok := s.lemmas[token]; ok {
		return lemma
	}
	return token
}

func (s *Spanish) IsStopword(token string) bool {
	s.load()
	_, ok := s.stopwords[token]
	return ok
}

var _ Lemmatizer = (*Spanish)(nil)
