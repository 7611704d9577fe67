package fields

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/efebarandurmaz/docintel/internal/llm"
)

// Summarizer condenses a passage into an abstract. minLen and maxLen bound
// the output length in the summarizer's own unit (tokens or words).
type Summarizer interface {
	Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error)
	Model() string
}

// ErrEmptySummary is returned when a summarizer produced no text.
var ErrEmptySummary = errors.New("summarizer returned empty text")

const summarySystemPrompt = "Eres un asistente que redacta resúmenes de trabajos de grado universitarios. " +
	"Resume el texto en español, en un solo párrafo de entre %d y %d palabras, sin introducciones ni comentarios."

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?(?:</think>|$)`)

// LLMSummarizer generates abstracts through a completion provider.
type LLMSummarizer struct {
	provider llm.Provider
	model    string
}

// NewLLMSummarizer creates a generative summarizer. model is reported by
// Model and should match the provider's configured model.
func NewLLMSummarizer(provider llm.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model}
}

func (s *LLMSummarizer) Model() string { return s.model }

// Summarize asks the provider for a deterministic summary capped at maxLen
// tokens.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error) {
	prompt := llm.NewPrompt(fmt.Sprintf(summarySystemPrompt, minLen, maxLen), text)
	resp, err := s.provider.Complete(ctx, prompt, &llm.RequestOptions{
		MaxTokens:   llm.Int(maxLen),
		Temperature: llm.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("%s summarize: %w", s.provider.Name(), err)
	}

	out := strings.TrimSpace(thinkBlock.ReplaceAllString(resp.Content, ""))
	if out == "" {
		return "", ErrEmptySummary
	}
	return out, nil
}

// FrequencyModel is the model name reported by FrequencySummarizer.
const FrequencyModel = "extractive-frequency"

var (
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]+|[^.!?\n]+$`)
	wordPattern     = regexp.MustCompile(`\p{L}+`)
)

// FrequencySummarizer is an extractive summarizer: it ranks sentences by the
// normalized frequency of their content words and keeps the best ones, in
// document order, within the word budget.
type FrequencySummarizer struct {
	isStopword func(string) bool
}

// NewFrequencySummarizer creates an extractive summarizer. isStopword may be
// nil.
func NewFrequencySummarizer(isStopword func(string) bool) *FrequencySummarizer {
	if isStopword == nil {
		isStopword = func(string) bool { return false }
	}
	return &FrequencySummarizer{isStopword: isStopword}
}

func (s *FrequencySummarizer) Model() string { return FrequencyModel }

// Summarize selects sentences until adding another would exceed maxLen
// words. A single sentence longer than maxLen is cut to maxLen words.
func (s *FrequencySummarizer) Summarize(_ context.Context, text string, _, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = summaryMaxLength
	}
	var sentences []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) == 0 {
		return "", ErrEmptySummary
	}

	freq := map[string]float64{}
	tokens := make([][]string, len(sentences))
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = wordPattern.FindAllString(strings.ToLower(sent), -1)
		for _, tok := range tokens[i] {
			if s.isStopword(tok) {
				continue
			}
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, toks := range tokens {
		score := 0.0
		if maxF > 0 {
			for _, tok := range toks {
				score += freq[tok] / maxF
			}
		}
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var picked []int
	words := 0
	for _, r := range ranked {
		n := len(strings.Fields(sentences[r.idx]))
		if words+n > maxLen {
			continue
		}
		picked = append(picked, r.idx)
		words += n
	}
	if len(picked) == 0 {
		top := strings.Fields(sentences[ranked[0].idx])
		return strings.Join(top[:maxLen], " "), nil
	}

	sort.Ints(picked)
	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}
