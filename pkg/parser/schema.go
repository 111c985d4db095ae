package parser

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/castellan/castellan/pkg/models"
)

// definitionSchema guards the document envelope before normalization; step
// shapes are validated structurally during parsing, where errors can name
// the exact fragment.
const definitionSchema = `{
	"type": "object",
	"properties": {
		"alias": {"type": "string"},
		"description": {"type": "string"},
		"actions": {"type": "array", "items": {"type": "object"}},
		"sequence": {"type": "array", "items": {"type": "object"}}
	},
	"anyOf": [
		{"required": ["actions"]},
		{"required": ["sequence"]}
	]
}`

var schemaLoader = gojsonschema.NewStringLoader(definitionSchema)

func validateDocument(doc map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return models.NewParseError("document", err.Error())
	}

	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}

	return models.NewParseError("document", strings.Join(reasons, "; "))
}
