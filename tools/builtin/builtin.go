// Package builtin provides the tool inventory that executes directly inside
// the gateway process: file I/O, web requests, math, text processing, system
// utilities, data parsing, hashing and encoding helpers.
package builtin

import "github.com/aetherpro/fabric/tools"

// All returns every built-in tool for host registration at startup.
func All() []*tools.Tool {
	return []*tools.Tool{
		IOFileTool(),
		WebHTTPTool(),
		MathCalculateTool(),
		TextRegexTool(),
		SystemCommandTool(),
		SystemEnvTool(),
		SystemClockTool(),
		DataJSONTool(),
		DataCSVTool(),
		DataValidateTool(),
		SecurityHashTool(),
		SecurityBase64Tool(),
		EncodeURLTool(),
		DocsMarkdownTool(),
	}
}

func str(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func boolean(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func integer(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
