package groundtruth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema describes a single annotation file.
var recordSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []string{"document_id", "category", "ground_truth"},
	"properties": map[string]any{
		"document_id": map[string]any{"type": "string", "minLength": 1},
		"category":    map[string]any{"type": "string", "minLength": 1},
		"source":      map[string]any{"type": "string"},
		"ground_truth": map[string]any{
			"type":     "object",
			"required": []string{"full_text"},
			"properties": map[string]any{
				"full_text": map[string]any{"type": "string"},
				"headings": map[string]any{
					"type":  []string{"array", "null"},
					"items": map[string]any{"type": "string"},
				},
				"reading_order": map[string]any{
					"type":  []string{"array", "null"},
					"items": map[string]any{"type": "string"},
				},
				"tables": map[string]any{
					"type": []string{"array", "null"},
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	},
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ground_truth.schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("ground_truth.schema.json")
})

// validateSchema checks decoded JSON against the annotation schema.
func validateSchema(v any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(v)
}
