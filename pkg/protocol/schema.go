package protocol

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ChatRequestSchema is the JSON schema every inbound frame must satisfy.
// The type enum is checked after decoding so unknown types get their own
// rejection reason.
const ChatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "handle", "message"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "handle": {"type": "string", "minLength": 1},
    "message": {"type": "string"}
  }
}`

func compileSchema(src string) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile frame schema: %w", err)
	}
	return schema, nil
}

func validateSchema(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for i, err := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += err.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}

	return nil
}
