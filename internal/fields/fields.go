// Package fields infers bibliographic fields (title, year, objectives,
// career, work type, abstract) from the raw text of a thesis using fixed
// keyword heuristics.
package fields

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fields is the best-effort metadata of a document. An empty string means
// the field could not be inferred.
type Fields struct {
	Title      string `json:"titulo"`
	Authors    string `json:"autores"`
	Advisors   string `json:"tutores"`
	Year       string `json:"año"`
	Objectives string `json:"objetivos"`
	Abstract   string `json:"resumen"`
	Career     string `json:"carrera"`
	WorkType   string `json:"tipo_trabajo"`
}

// Career identifiers.
const (
	CareerNaval         = "ingenieria_naval"
	CareerSystems       = "ingenieria_sistemas"
	CareerPetrochemical = "ingenieria_petroquimica"
	CareerNursing       = "tsu_enfermeria"
	CareerTourism       = "tsu_turismo"
	CareerSocialEconomy = "licenciatura_economia_social"
)

// Work type identifiers.
const (
	WorkTypeSpecialDegree = "especial_grado"
	WorkTypeInternship    = "practicas_profesionales"
)

const (
	titleScanLines    = 10
	titleMinRunes     = 10
	titleMaxRunes     = 300
	objectivesLimit   = 500
	summaryInputRunes = 1000
	summaryMinInput   = 100
	summaryMinLength  = 50
	summaryMaxLength  = 150
)

var (
	titleExclusions   = []string{"universidad", "trabajo", "grado", "pasantia"}
	objectiveMarkers  = []string{"objetivo", "propósito", "meta"}
	specialDegreeKeys = []string{"especial de grado", "proyecto especial"}
	internshipKeys    = []string{"práctica", "pasantia", "profesional"}

	yearPattern = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// careerRules are checked in order; the first category with a matching
// keyword wins.
var careerRules = []struct {
	career   string
	keywords []string
}{
	{CareerNaval, []string{"naval", "buque", "marítimo", "barco"}},
	{CareerSystems, []string{"sistema", "software", "programación", "tecnología"}},
	{CareerPetrochemical, []string{"petroquímica", "petróleo", "química", "refinería"}},
	{CareerNursing, []string{"enfermería", "salud", "paciente", "médico"}},
	{CareerTourism, []string{"turismo", "hotel", "viaje", "recreación"}},
	{CareerSocialEconomy, []string{"economía", "social", "comunidad", "desarrollo"}},
}

// Extractor applies the heuristics and, when configured, a Summarizer.
type Extractor struct {
	summarizer Summarizer
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSummarizer enables abstract generation.
func WithSummarizer(s Summarizer) Option {
	return func(e *Extractor) { e.summarizer = s }
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SummarizerModel returns the configured summarizer's model, or "".
func (e *Extractor) SummarizerModel() string {
	if e.summarizer == nil {
		return ""
	}
	return e.summarizer.Model()
}

// Extract infers Fields from raw text. It never fails; each field falls back
// to "" on its own.
func (e *Extractor) Extract(ctx context.Context, text string) Fields {
	lines := strings.Split(text, "\n")
	lower := strings.ToLower(text)

	f := Fields{
		Title:      Title(lines),
		Year:       Year(text),
		Objectives: Objectives(lines),
		Career:     Career(lower),
		WorkType:   WorkType(lower),
	}

	if e.summarizer != nil {
		if input := truncateRunes(text, summaryInputRunes); utf8.RuneCountInString(input) > summaryMinInput {
			summary, err := e.summarizer.Summarize(ctx, input, summaryMinLength, summaryMaxLength)
			if err != nil {
				e.logger.Warn("Error generating summary", "model", e.summarizer.Model(), "error", err)
			} else {
				f.Abstract = summary
			}
		}
	}

	e.logger.Debug("Extracted structured info", "title", f.Title != "", "year", f.Year,
		"career", f.Career, "work_type", f.WorkType, "abstract", f.Abstract != "")
	return f
}

// Title returns the first of the leading lines that looks like a title.
func Title(lines []string) string {
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n < titleMinRunes || n >= titleMaxRunes {
			continue
		}
		if !containsAny(strings.ToLower(line), titleExclusions) {
			return line
		}
	}
	return ""
}

// Year returns the first four-digit year token, with the second one appended
// when the text has more than one (e.g. "20192021").
func Year(text string) string {
	years := yearPattern.FindAllString(text, 2)
	return strings.Join(years, "")
}

// Objectives collects the non-blank lines after an objectives heading until
// the accumulated text exceeds 500 characters. Lines that mention a marker
// word are treated as headings and skipped.
func Objectives(lines []string) string {
	var b strings.Builder
	started := false
	count := 0
	for _, line := range lines {
		if containsAny(strings.ToLower(line), objectiveMarkers) {
			started = true
			continue
		}
		if !started {
			continue
		}
		if strings.TrimSpace(line) != "" {
			b.WriteString(line)
			b.WriteByte(' ')
			count += utf8.RuneCountInString(line) + 1
		}
		if count > objectivesLimit {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// Career classifies lowercase text into a career identifier.
func Career(lower string) string {
	for _, rule := range careerRules {
		if containsAny(lower, rule.keywords) {
			return rule.career
		}
	}
	return ""
}

// WorkType classifies lowercase text into a work type identifier.
func WorkType(lower string) string {
	switch {
	case containsAny(lower, specialDegreeKeys):
		return WorkTypeSpecialDegree
	case containsAny(lower, internshipKeys):
		return WorkTypeInternship
	default:
		return ""
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
