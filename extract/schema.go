package extract

import (
	"encoding/json"

	"github.com/chatclean/chatclean/backend"
)

// recordArraySchemaJSON restricts constrained decoding to the exact
// array-of-objects shape the contract demands: four keys, a three-valued
// role enum, a nullable time, no extra properties.
const recordArraySchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "time": {"type": ["string", "null"]},
      "speaker": {"type": "string"},
      "role": {"type": "string", "enum": ["Agent", "User", "System"]},
      "message": {"type": "string"}
    },
    "required": ["time", "speaker", "role", "message"],
    "additionalProperties": false
  }
}`

// recordArraySchema returns the schema constraint attached to extraction
// requests while constrained decoding is enabled.
func recordArraySchema() *backend.SchemaSpec {
	return &backend.SchemaSpec{
		Name:   "message_records",
		Schema: json.RawMessage(recordArraySchemaJSON),
	}
}
