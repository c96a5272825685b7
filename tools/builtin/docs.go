package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/aetherpro/fabric/tools"
)

var (
	headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	codeFence      = regexp.MustCompile("(?s)```.*?```")
)

// DocsMarkdownTool inspects markdown documents: table of contents, links and
// word counts.
func DocsMarkdownTool() *tools.Tool {
	return &tools.Tool{
		ID:          "docs.markdown",
		Category:    "docs",
		Description: "Markdown structure extraction",
		Capabilities: map[string]tools.Capability{
			"process": {
				Method:   "markdown_process",
				Required: []string{"markdown"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return docsMarkdownProcess(params)
				},
			},
		},
	}
}

func docsMarkdownProcess(params map[string]any) (any, error) {
	doc := str(params, "markdown")

	extractTOC := true
	if v, ok := params["extract_toc"].(bool); ok {
		extractTOC = v
	}

	result := map[string]any{}

	stripped := codeFence.ReplaceAllString(doc, "")

	if extractTOC {
		type tocEntry struct {
			Level int    `json:"level"`
			Title string `json:"title"`
		}
		var toc []tocEntry
		for _, m := range headingPattern.FindAllStringSubmatch(stripped, -1) {
			toc = append(toc, tocEntry{Level: len(m[1]), Title: strings.TrimSpace(m[2])})
		}
		result["toc"] = toc
	}

	type link struct {
		Text string `json:"text"`
		URL  string `json:"url"`
	}
	var links []link
	for _, m := range linkPattern.FindAllStringSubmatch(doc, -1) {
		links = append(links, link{Text: m[1], URL: m[2]})
	}
	result["links"] = links
	result["word_count"] = len(strings.Fields(stripped))
	result["line_count"] = strings.Count(doc, "\n") + 1

	return result, nil
}
