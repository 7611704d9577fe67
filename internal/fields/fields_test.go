package fields

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const navalThesis = `UNIVERSIDAD NACIONAL EXPERIMENTAL MARÍTIMA DEL CARIBE
Trabajo Especial de Grado
Diseño de un sistema de mantenimiento para buques tanqueros
Caracas, 2019
OBJETIVO GENERAL
Diseñar un plan de mantenimiento preventivo para la flota naval.

Evaluar el estado actual de los buques.
Presentado en 2021`

func TestExtract_NavalSpecialDegree(t *testing.T) {
	f := NewExtractor().Extract(context.Background(), navalThesis)

	assert.Equal(t, "Diseño de un sistema de mantenimiento para buques tanqueros", f.Title)
	assert.Equal(t, "20192021", f.Year)
	assert.Equal(t, CareerNaval, f.Career)
	assert.Equal(t, WorkTypeSpecialDegree, f.WorkType)
	assert.Equal(t, "Diseñar un plan de mantenimiento preventivo para la flota naval. Evaluar el estado actual de los buques. Presentado en 2021", f.Objectives)
	assert.Empty(t, f.Authors)
	assert.Empty(t, f.Advisors)
	assert.Empty(t, f.Abstract)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"skips short and excluded lines", []string{"UNEFA", "Universidad de Oriente", "Sistema de control de inventario"}, "Sistema de control de inventario"},
		{"exactly ten runes accepted", []string{"abcdefghij"}, "abcdefghij"},
		{"nine runes rejected", []string{"abcdefghi"}, ""},
		{"accented runes counted once", []string{"ñññññññññ", "ñññññññññá"}, "ñññññññññá"},
		{"300 runes rejected", []string{strings.Repeat("x", 300)}, ""},
		{"299 runes accepted", []string{strings.Repeat("x", 299)}, strings.Repeat("x", 299)},
		{"only first ten lines", append(make([]string, 10), "Una línea suficientemente larga"), ""},
		{"pasantia excluded", []string{"Informe de pasantia en la empresa"}, ""},
		{"trimmed", []string{"   Gestión hotelera sostenible   "}, "Gestión hotelera sostenible"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.lines))
		})
	}
}

func TestYear(t *testing.T) {
	assert.Equal(t, "", Year("sin fecha"))
	assert.Equal(t, "1998", Year("Maracaibo, 1998"))
	assert.Equal(t, "20182020", Year("2018 ... 2020 ... 2022"))
	assert.Equal(t, "", Year("código 120190 y 2100"))
}

func TestObjectives(t *testing.T) {
	long := strings.Repeat("a", 300)
	lines := []string{"Introducción", "Objetivos", long, "", long, long}
	got := Objectives(lines)
	assert.Equal(t, long+" "+long, got, "collection stops once over 500 characters")

	assert.Equal(t, "", Objectives([]string{"sin marcador", "texto"}))
	assert.Equal(t, "", Objectives([]string{"El propósito es claro"}))
}

func TestCareer(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"plan de mantenimiento de un barco", CareerNaval},
		{"software para la gestión", CareerSystems},
		{"sistema de salud", CareerSystems},
		{"refinería de petróleo", CareerPetrochemical},
		{"atención al paciente", CareerNursing},
		{"promoción del turismo", CareerTourism},
		{"desarrollo de la comunidad", CareerSocialEconomy},
		{"ninguna palabra clave", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Career(tt.text), tt.text)
	}
}

func TestWorkType(t *testing.T) {
	assert.Equal(t, WorkTypeSpecialDegree, WorkType("proyecto especial y práctica"))
	assert.Equal(t, WorkTypeInternship, WorkType("informe de práctica profesional"))
	assert.Equal(t, WorkTypeInternship, WorkType("informe de pasantia"))
	assert.Equal(t, "", WorkType("tesis"))
}

type stubSummarizer struct {
	out   string
	err   error
	input string
	min   int
	max   int
}

func (s *stubSummarizer) Model() string { return "stub" }

func (s *stubSummarizer) Summarize(_ context.Context, text string, minLen, maxLen int) (string, error) {
	s.input, s.min, s.max = text, minLen, maxLen
	return s.out, s.err
}

func TestExtract_Summary(t *testing.T) {
	text := strings.Repeat("é", 1500)
	s := &stubSummarizer{out: "Resumen generado."}
	f := NewExtractor(WithSummarizer(s)).Extract(context.Background(), text)

	assert.Equal(t, "Resumen generado.", f.Abstract)
	assert.Equal(t, strings.Repeat("é", 1000), s.input)
	assert.Equal(t, 50, s.min)
	assert.Equal(t, 150, s.max)
}

func TestExtract_SummarySkippedForShortText(t *testing.T) {
	s := &stubSummarizer{out: "no"}
	f := NewExtractor(WithSummarizer(s)).Extract(context.Background(), strings.Repeat("x", 100))
	assert.Empty(t, f.Abstract)
	assert.Empty(t, s.input)
}

func TestExtract_SummaryErrorLeavesEmpty(t *testing.T) {
	s := &stubSummarizer{err: errors.New("model not loaded")}
	e := NewExtractor(WithSummarizer(s))
	f := e.Extract(context.Background(), navalThesis+strings.Repeat(" relleno", 50))
	assert.Empty(t, f.Abstract)
	assert.Equal(t, CareerNaval, f.Career)
	assert.Equal(t, "stub", e.SummarizerModel())
}

func TestFrequencySummarizer(t *testing.T) {
	stop := map[string]bool{"el": true, "de": true, "la": true, "los": true, "en": true}
	s := NewFrequencySummarizer(func(w string) bool { return stop[w] })

	text := "El mantenimiento de los buques es costoso. " +
		"Hoy llovió en la ciudad. " +
		"Un plan de mantenimiento reduce fallas en los buques."
	got, err := s.Summarize(context.Background(), text, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, "El mantenimiento de los buques es costoso. Un plan de mantenimiento reduce fallas en los buques.", got)

	got, err = s.Summarize(context.Background(), "una dos tres cuatro cinco", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "una dos tres", got)

	_, err = s.Summarize(context.Background(), "  ", 1, 3)
	assert.ErrorIs(t, err, ErrEmptySummary)
	assert.Equal(t, FrequencyModel, s.Model())
}
