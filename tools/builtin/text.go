package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/aetherpro/fabric/tools"
)

// TextRegexTool covers text processing: regex matching, chained transforms,
// and line-level comparison.
func TextRegexTool() *tools.Tool {
	return &tools.Tool{
		ID:          "text.regex",
		Category:    "text",
		Description: "Regex matching, text transforms and diffing",
		Capabilities: map[string]tools.Capability{
			"match": {
				Method:   "match",
				Required: []string{"text", "pattern"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return textMatch(params)
				},
			},
			"transform": {
				Method:   "transform",
				Required: []string{"text", "operations"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return textTransform(params)
				},
			},
			"compare": {
				Method:   "compare",
				Required: []string{"original", "modified"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return textCompare(params)
				},
			},
		},
	}
}

func textMatch(params map[string]any) (any, error) {
	pattern := str(params, "pattern")
	if flags, ok := params["flags"].([]any); ok {
		prefix := ""
		for _, f := range flags {
			switch f {
			case "i":
				prefix += "i"
			case "m":
				prefix += "m"
			case "s":
				prefix += "s"
			}
		}
		if prefix != "" {
			pattern = "(?" + prefix + ")" + pattern
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, tools.Failf("BAD_PATTERN", "invalid regex: %s", str(params, "pattern"))
	}

	text := str(params, "text")
	found := re.FindAllStringSubmatch(text, -1)
	matches := make([]map[string]any, 0, len(found))
	for _, m := range found {
		entry := map[string]any{"match": m[0]}
		if len(m) > 1 {
			entry["groups"] = m[1:]
		}
		matches = append(matches, entry)
	}
	return map[string]any{
		"matches": matches,
		"count":   len(matches),
	}, nil
}

func textTransform(params map[string]any) (any, error) {
	text := str(params, "text")
	operations, ok := params["operations"].([]any)
	if !ok {
		return nil, tools.Failf("BAD_OPERATIONS", "operations must be an array")
	}

	applied := make([]string, 0, len(operations))
	for _, raw := range operations {
		op, ok := raw.(map[string]any)
		if !ok {
			return nil, tools.Failf("BAD_OPERATIONS", "each operation must be an object")
		}
		name, _ := op["op"].(string)
		switch name {
		case "upper":
			text = strings.ToUpper(text)
		case "lower":
			text = strings.ToLower(text)
		case "trim":
			text = strings.TrimSpace(text)
		case "title":
			text = strings.Title(text)
		case "replace":
			pattern, _ := op["pattern"].(string)
			replacement, _ := op["replacement"].(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, tools.Failf("BAD_PATTERN", "invalid replace pattern: %s", pattern)
			}
			text = re.ReplaceAllString(text, replacement)
		default:
			return nil, tools.Failf("BAD_OPERATIONS", "unknown operation: %s", name)
		}
		applied = append(applied, name)
	}

	return map[string]any{
		"text":    text,
		"applied": applied,
	}, nil
}

func textCompare(params map[string]any) (any, error) {
	original := strings.Split(str(params, "original"), "\n")
	modified := strings.Split(str(params, "modified"), "\n")

	// Line-level diff on a shared-prefix/suffix split; enough for the tool's
	// summary contract without an LCS pass.
	prefix := 0
	for prefix < len(original) && prefix < len(modified) && original[prefix] == modified[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(original)-prefix && suffix < len(modified)-prefix &&
		original[len(original)-1-suffix] == modified[len(modified)-1-suffix] {
		suffix++
	}

	removed := original[prefix : len(original)-suffix]
	added := modified[prefix : len(modified)-suffix]

	var diff []string
	for _, line := range removed {
		diff = append(diff, "- "+line)
	}
	for _, line := range added {
		diff = append(diff, "+ "+line)
	}

	return map[string]any{
		"identical":     len(removed) == 0 && len(added) == 0,
		"lines_added":   len(added),
		"lines_removed": len(removed),
		"diff":          strings.Join(diff, "\n"),
	}, nil
}
