package llm

import (
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/eikenprep/internal/model"
)

// questionSchema mirrors model.Question. The id is assigned locally, so the
// generator is never asked for it.
func questionSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"type": {
				Type: jsonschema.String,
				Enum: []string{
					string(model.TypeVocabulary),
					string(model.TypeDialogue),
					string(model.TypeSentenceOrder),
					string(model.TypeReading),
				},
			},
			"context": {
				Type:        jsonschema.String,
				Description: "Reading passage or dialogue setup. Empty when not needed.",
			},
			"fragments": {
				Type:        jsonschema.Array,
				Description: "Scrambled English pieces for sentence ordering, without punctuation.",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
			"text": {Type: jsonschema.String},
			"skeleton": {
				Type:        jsonschema.String,
				Description: "Blank layout for sentence ordering, e.g. \"[ 1 ] ( ) [ 3 ] ( ) .\"",
			},
			"options": {
				Type:  jsonschema.Array,
				Items: &jsonschema.Definition{Type: jsonschema.String},
			},
			"correctAnswer": {
				Type:        jsonschema.Integer,
				Description: "0-based index into options.",
			},
			"explanation": {Type: jsonschema.String},
			"category":    {Type: jsonschema.String},
		},
		Required: []string{"type", "text", "options", "correctAnswer", "explanation", "category"},
	}
}

// batchSchema is the root object every generation call must return.
func batchSchema() *jsonschema.Definition {
	q := questionSchema()
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"questions": {Type: jsonschema.Array, Items: &q},
		},
		Required: []string{"questions"},
	}
}
