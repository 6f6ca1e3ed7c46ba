package examsvc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// startTestSchema validates the attempt-start response. The exam structure
// drives every timer in the attempt, so a malformed response must fail the
// start rather than produce an exam with zero budgets.
const startTestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["attempt_id", "total_questions", "sections", "first_question"],
  "properties": {
    "attempt_id": {"type": "string", "minLength": 1},
    "total_questions": {"type": "integer", "minimum": 1},
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "question_count", "per_question_sec"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "question_count": {"type": "integer", "minimum": 1},
          "per_question_sec": {"type": "integer", "minimum": 1}
        }
      }
    },
    "total_budget_sec": {"type": "integer", "minimum": 0},
    "first_question": {
      "type": "object",
      "required": ["number", "body"],
      "properties": {
        "number": {"type": "integer", "const": 1},
        "section": {"type": "string"},
        "body": {"type": "string", "minLength": 1},
        "options": {"type": "array", "items": {"type": "string"}},
        "multiple_choice": {"type": "boolean"},
        "budget_sec": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var compiledStartTestSchema = jsonschema.MustCompileString("start_test.schema.json", startTestSchema)

// validateStartTest checks a raw start response against the schema.
func validateStartTest(raw []byte) error {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := compiledStartTestSchema.Validate(instance); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
