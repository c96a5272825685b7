package builtin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aetherpro/fabric/tools"
)

// DataJSONTool parses JSON with an optional dotted-path query.
func DataJSONTool() *tools.Tool {
	return &tools.Tool{
		ID:          "data.json",
		Category:    "data",
		Description: "JSON parsing with dotted-path queries",
		Capabilities: map[string]tools.Capability{
			"parse": {
				Method:   "parse",
				Required: []string{"json"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return dataJSONParse(params)
				},
			},
		},
	}
}

func dataJSONParse(params map[string]any) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(str(params, "json")), &parsed); err != nil {
		return nil, tools.Failf("PARSE_ERROR", "invalid JSON: %v", err)
	}

	query := str(params, "query")
	if query != "" {
		value, err := jsonPath(parsed, query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": value, "query": query}, nil
	}
	return map[string]any{"value": parsed}, nil
}

// jsonPath walks a dotted path like "items.0.name" through maps and arrays.
func jsonPath(data any, query string) (any, error) {
	current := data
	for _, part := range strings.Split(strings.TrimPrefix(query, "$."), ".") {
		if part == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			value, exists := node[part]
			if !exists {
				return nil, tools.Failf("QUERY_ERROR", "key %q not found", part)
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, tools.Failf("QUERY_ERROR", "index %q out of range", part)
			}
			current = node[idx]
		default:
			return nil, tools.Failf("QUERY_ERROR", "cannot descend into %T at %q", current, part)
		}
	}
	return current, nil
}

// DataCSVTool parses CSV text into records.
func DataCSVTool() *tools.Tool {
	return &tools.Tool{
		ID:          "data.csv",
		Category:    "data",
		Description: "CSV parsing with configurable delimiter and headers",
		Capabilities: map[string]tools.Capability{
			"parse": {
				Method:   "csv_parse",
				Required: []string{"csv"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return dataCSVParse(params)
				},
			},
		},
	}
}

func dataCSVParse(params map[string]any) (any, error) {
	reader := csv.NewReader(strings.NewReader(str(params, "csv")))
	if delimiter := str(params, "delimiter"); delimiter != "" {
		reader.Comma = rune(delimiter[0])
	}
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, tools.Failf("PARSE_ERROR", "invalid CSV: %v", err)
	}
	if len(records) == 0 {
		return map[string]any{"rows": []any{}, "count": 0}, nil
	}

	hasHeaders := true
	if v, ok := params["headers"].(bool); ok {
		hasHeaders = v
	}

	if !hasHeaders {
		rows := make([]any, len(records))
		for i, rec := range records {
			rows[i] = rec
		}
		return map[string]any{"rows": rows, "count": len(rows)}, nil
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return map[string]any{
		"headers": headers,
		"rows":    rows,
		"count":   len(rows),
	}, nil
}

// DataValidateTool checks a document against a minimal JSON-Schema subset:
// type, required, and properties.
func DataValidateTool() *tools.Tool {
	return &tools.Tool{
		ID:          "data.validate",
		Category:    "data",
		Description: "Document validation against a JSON-Schema subset",
		Capabilities: map[string]tools.Capability{
			"validate": {
				Method:   "validate",
				Required: []string{"data", "schema"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return dataValidate(params)
				},
			},
		},
	}
}

func dataValidate(params map[string]any) (any, error) {
	schema, ok := params["schema"].(map[string]any)
	if !ok {
		return nil, tools.Failf("BAD_SCHEMA", "schema must be an object")
	}
	violations := validateNode(params["data"], schema, "$")
	return map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	}, nil
}

func validateNode(data any, schema map[string]any, path string) []string {
	var violations []string

	if wantType, ok := schema["type"].(string); ok {
		if !typeMatches(data, wantType) {
			violations = append(violations,
				fmt.Sprintf("%s: expected type %s", path, wantType))
			return violations
		}
	}

	obj, isObj := data.(map[string]any)
	if required, ok := schema["required"].([]any); ok && isObj {
		for _, raw := range required {
			name, _ := raw.(string)
			if _, present := obj[name]; !present {
				violations = append(violations,
					fmt.Sprintf("%s: missing required field %q", path, name))
			}
		}
	}
	if properties, ok := schema["properties"].(map[string]any); ok && isObj {
		for name, rawProp := range properties {
			prop, ok := rawProp.(map[string]any)
			if !ok {
				continue
			}
			if value, present := obj[name]; present {
				violations = append(violations, validateNode(value, prop, path+"."+name)...)
			}
		}
	}
	return violations
}

func typeMatches(data any, wantType string) bool {
	switch wantType {
	case "object":
		_, ok := data.(map[string]any)
		return ok
	case "array":
		_, ok := data.([]any)
		return ok
	case "string":
		_, ok := data.(string)
		return ok
	case "number":
		_, ok := data.(float64)
		return ok
	case "integer":
		f, ok := data.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := data.(bool)
		return ok
	case "null":
		return data == nil
	default:
		return true
	}
}
