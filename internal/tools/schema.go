package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema derives a JSON schema map from a Go args type, grounded on
// kadirpekel-hector's pkg/tool/functiontool/schema.go: reflect over struct
// tags (json + jsonschema), inline everything rather than emitting $ref
// definitions, and strip $schema/$id before handing the result to a
// provider's tool-definition parameters field.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
