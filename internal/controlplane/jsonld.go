package controlplane

import (
	"fmt"
	"strconv"
)

// AsString reads a JSON-LD-ish property value as a string. Expanded
// value objects ({"@value": ...}) are unwrapped, scalars are rendered
// in their canonical form, and anything else yields "".
func AsString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case map[string]any:
		if inner, ok := v["@value"]; ok {
			return AsString(inner)
		}
		if id, ok := v["@id"]; ok {
			return AsString(id)
		}
		return ""
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
