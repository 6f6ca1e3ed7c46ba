package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// detectionsSchema validates sidecar responses before they are trusted.
// A response that fails validation is treated like any other transient
// classification error: the tick is skipped.
const detectionsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["detections"],
  "properties": {
    "detections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label", "confidence"],
        "properties": {
          "label": {
            "type": "string",
            "enum": ["face", "person", "phone", "book"]
          },
          "confidence": {
            "type": "number",
            "minimum": 0,
            "maximum": 1
          },
          "box": {
            "type": "object",
            "required": ["x", "y", "width", "height"],
            "properties": {
              "x": {"type": "integer"},
              "y": {"type": "integer"},
              "width": {"type": "integer", "minimum": 0},
              "height": {"type": "integer", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

var compiledDetectionsSchema = jsonschema.MustCompileString("detections.schema.json", detectionsSchema)

// validateDetections checks a raw sidecar response against the schema.
func validateDetections(raw []byte) error {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := compiledDetectionsSchema.Validate(instance); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
