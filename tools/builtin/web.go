package builtin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aetherpro/fabric/tools"
)

const maxFetchBytes = 1 << 20

// WebHTTPTool covers outbound web access: raw requests, page fetches with
// text extraction, and URL parsing.
func WebHTTPTool() *tools.Tool {
	client := &http.Client{Timeout: 30 * time.Second}

	return &tools.Tool{
		ID:          "web.http",
		Category:    "web",
		Description: "HTTP requests, page fetching and URL parsing",
		Capabilities: map[string]tools.Capability{
			"request": {
				Method:   "request",
				Required: []string{"url"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return webRequest(ctx, client, params)
				},
			},
			"fetch": {
				Method:   "fetch",
				Required: []string{"url"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return webFetch(ctx, client, params)
				},
			},
			"parse_url": {
				Method:   "parse_url",
				Required: []string{"url"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return webParseURL(params)
				},
			},
		},
	}
}

func webRequest(ctx context.Context, client *http.Client, params map[string]any) (any, error) {
	target := str(params, "url")
	method := strings.ToUpper(str(params, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload := str(params, "body"); payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, tools.Failf("BAD_URL", "invalid request: %s", target)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, tools.Failf("REQUEST_FAILED", "request to %s failed", target)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, tools.Failf("READ_ERROR", "failed reading response from %s", target)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(data),
		"url":     target,
	}, nil
}

var (
	tagStripper    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

func webFetch(ctx context.Context, client *http.Client, params map[string]any) (any, error) {
	raw, err := webRequest(ctx, client, map[string]any{"url": params["url"]})
	if err != nil {
		return nil, err
	}
	result := raw.(map[string]any)

	extract := true
	if v, ok := params["extract_text"].(bool); ok {
		extract = v
	}
	maxLength := integer(params, "max_length", 50000)

	text := result["body"].(string)
	if extract {
		text = tagStripper.ReplaceAllString(text, " ")
		text = whitespaceRuns.ReplaceAllString(text, " ")
		text = strings.TrimSpace(text)
	}
	truncated := false
	if len(text) > maxLength {
		text = text[:maxLength]
		truncated = true
	}

	return map[string]any{
		"url":       result["url"],
		"status":    result["status"],
		"text":      text,
		"truncated": truncated,
	}, nil
}

func webParseURL(params map[string]any) (any, error) {
	u, err := url.Parse(str(params, "url"))
	if err != nil {
		return nil, tools.Failf("BAD_URL", "invalid URL: %s", str(params, "url"))
	}
	query := make(map[string]string)
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	return map[string]any{
		"scheme":   u.Scheme,
		"host":     u.Host,
		"path":     u.Path,
		"query":    query,
		"fragment": u.Fragment,
	}, nil
}
