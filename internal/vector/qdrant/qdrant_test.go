package qdrant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efebarandurmaz/docintel/internal/fields"
	"github.com/efebarandurmaz/docintel/internal/vector"
)

func TestPayload(t *testing.T) {
	p := payload(vector.Point{
		Slot:       3,
		DocumentID: "42",
		Metadata:   fields.Fields{Title: "Sistema naval", Career: fields.CareerNaval, Year: "2019"},
	})

	assert.Equal(t, "42", p["document_id"].GetStringValue())
	assert.Equal(t, "Sistema naval", p["titulo"].GetStringValue())
	assert.Equal(t, fields.CareerNaval, p["carrera"].GetStringValue())
	assert.Equal(t, "2019", p["año"].GetStringValue())
	assert.Equal(t, "", p["resumen"].GetStringValue())
}
