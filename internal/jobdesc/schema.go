package jobdesc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema describes a Historical PowerTrack job submission.
var payloadSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []string{"publisher", "streamType", "dataFormat", "fromDate", "toDate", "title", "rules"},
	"properties": map[string]any{
		"publisher":       map[string]any{"type": "string", "minLength": 1},
		"streamType":      map[string]any{"type": "string", "minLength": 1},
		"dataFormat":      map[string]any{"enum": []string{"activity-streams", "original"}},
		"fromDate":        map[string]any{"type": "string", "pattern": `^\d{12}$`},
		"toDate":          map[string]any{"type": "string", "pattern": `^\d{12}$`},
		"title":           map[string]any{"type": "string", "minLength": 1, "maxLength": 256},
		"serviceUsername": map[string]any{"type": "string"},
		"rules": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":                 "object",
				"required":             []string{"value"},
				"additionalProperties": false,
				"properties": map[string]any{
					"value": map[string]any{"type": "string", "minLength": 1, "maxLength": 2048},
					"tag":   map[string]any{"type": "string"},
				},
			},
		},
	},
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(payloadSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("job.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("job.json")
})

// validatePayload checks a submission body against payloadSchema.
func validatePayload(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
