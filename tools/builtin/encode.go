package builtin

import (
	"context"
	"net/url"

	"github.com/aetherpro/fabric/tools"
)

// EncodeURLTool percent-encodes and decodes URL components.
func EncodeURLTool() *tools.Tool {
	return &tools.Tool{
		ID:          "encode.url",
		Category:    "encode",
		Description: "URL percent-encoding and decoding",
		Capabilities: map[string]tools.Capability{
			"encode": {
				Method:   "url_encode",
				Required: []string{"text"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return encodeURL(params)
				},
			},
		},
	}
}

func encodeURL(params map[string]any) (any, error) {
	text := str(params, "text")
	if boolean(params, "decode") {
		decoded, err := url.QueryUnescape(text)
		if err != nil {
			return nil, tools.Failf("DECODE_ERROR", "invalid percent-encoding")
		}
		return map[string]any{"decoded": decoded}, nil
	}
	return map[string]any{"encoded": url.QueryEscape(text)}, nil
}
