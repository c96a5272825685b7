package builtin

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aetherpro/fabric/tools"
)

const defaultMaxFileBytes = 4 << 20

// IOFileTool covers file system operations: read, write, list, search.
func IOFileTool() *tools.Tool {
	safety := &tools.SafetyRules{
		DeniedPaths:    []string{"/etc", "/proc", "/sys"},
		MaxOutputBytes: defaultMaxFileBytes,
	}

	return &tools.Tool{
		ID:          "io.file",
		Category:    "io",
		Description: "File system operations within the gateway's allowed paths",
		Safety:      safety,
		Capabilities: map[string]tools.Capability{
			"read": {
				Method:   "read",
				Required: []string{"path"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return ioRead(params, safety)
				},
			},
			"write": {
				Method:   "write",
				Required: []string{"path", "content"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return ioWrite(params, safety)
				},
			},
			"list": {
				Method: "list",
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return ioList(params, safety)
				},
			},
			"search": {
				Method:   "search",
				Required: []string{"path", "pattern"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return ioSearch(ctx, params, safety)
				},
			},
		},
	}
}

// checkPath enforces the tool's path constraints on an absolute, cleaned path.
func checkPath(raw string, safety *tools.SafetyRules) (string, error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", tools.Failf("ACCESS_DENIED", "invalid path: %s", raw)
	}
	for _, denied := range safety.DeniedPaths {
		if abs == denied || strings.HasPrefix(abs, strings.TrimRight(denied, "/")+"/") {
			return "", tools.Failf("ACCESS_DENIED", "access to path not allowed: %s", raw)
		}
	}
	for _, segment := range []string{"/.ssh/", "/.aws/", "/.gnupg/"} {
		if strings.Contains(abs+"/", segment) {
			return "", tools.Failf("ACCESS_DENIED", "access to path not allowed: %s", raw)
		}
	}
	if len(safety.AllowedPaths) > 0 {
		allowed := false
		for _, prefix := range safety.AllowedPaths {
			if abs == prefix || strings.HasPrefix(abs, strings.TrimRight(prefix, "/")+"/") {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", tools.Failf("ACCESS_DENIED", "path outside allowed roots: %s", raw)
		}
	}
	return abs, nil
}

func ioRead(params map[string]any, safety *tools.SafetyRules) (any, error) {
	path, err := checkPath(str(params, "path"), safety)
	if err != nil {
		return nil, err
	}
	maxLines := integer(params, "max_lines", 0)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tools.Failf("FILE_NOT_FOUND", "file not found: %s", str(params, "path"))
		}
		return nil, tools.Failf("READ_ERROR", "cannot open file: %s", str(params, "path"))
	}
	defer f.Close()

	limit := safety.MaxOutputBytes
	if limit <= 0 {
		limit = defaultMaxFileBytes
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), limit)
	lines := 0
	truncated := false
	for scanner.Scan() {
		if maxLines > 0 && lines >= maxLines {
			truncated = true
			break
		}
		if sb.Len()+len(scanner.Bytes()) > limit {
			truncated = true
			break
		}
		sb.Write(scanner.Bytes())
		sb.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, tools.Failf("READ_ERROR", "failed reading file: %s", str(params, "path"))
	}

	return map[string]any{
		"content":    sb.String(),
		"line_count": lines,
		"truncated":  truncated,
		"path":       path,
		"size":       sb.Len(),
	}, nil
}

func ioWrite(params map[string]any, safety *tools.SafetyRules) (any, error) {
	path, err := checkPath(str(params, "path"), safety)
	if err != nil {
		return nil, err
	}
	content := str(params, "content")
	appendMode := boolean(params, "append")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, tools.Failf("WRITE_ERROR", "cannot create parent directory for %s", path)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, tools.Failf("WRITE_ERROR", "cannot open file for writing: %s", path)
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return nil, tools.Failf("WRITE_ERROR", "write failed: %s", path)
	}

	return map[string]any{
		"bytes_written": n,
		"path":          path,
		"append":        appendMode,
	}, nil
}

func ioList(params map[string]any, safety *tools.SafetyRules) (any, error) {
	rawPath := str(params, "path")
	if rawPath == "" {
		rawPath = "."
	}
	path, err := checkPath(rawPath, safety)
	if err != nil {
		return nil, err
	}
	recursive := boolean(params, "recursive")
	pattern := str(params, "pattern")

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, tools.Failf("DIR_NOT_FOUND", "directory not found: %s", rawPath)
	}

	type entry struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	}
	var entries []entry
	appendEntry := func(name string, isDir bool, size int64) error {
		if pattern != "" {
			matched, err := filepath.Match(pattern, filepath.Base(name))
			if err != nil {
				return tools.Failf("BAD_PATTERN", "invalid glob pattern: %s", pattern)
			}
			if !matched {
				return nil
			}
		}
		kind := "file"
		if isDir {
			kind = "dir"
		}
		entries = append(entries, entry{Name: name, Type: kind, Size: size})
		return nil
	}

	if recursive {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil || p == path {
				return nil
			}
			rel, _ := filepath.Rel(path, p)
			var size int64
			if fi, err := d.Info(); err == nil {
				size = fi.Size()
			}
			return appendEntry(rel, d.IsDir(), size)
		})
	} else {
		var items []os.DirEntry
		items, err = os.ReadDir(path)
		if err == nil {
			for _, d := range items {
				var size int64
				if fi, infoErr := d.Info(); infoErr == nil {
					size = fi.Size()
				}
				if err = appendEntry(d.Name(), d.IsDir(), size); err != nil {
					break
				}
			}
		}
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "dir"
		}
		return entries[i].Name < entries[j].Name
	})

	return map[string]any{
		"path":    path,
		"entries": entries,
		"count":   len(entries),
	}, nil
}

func ioSearch(ctx context.Context, params map[string]any, safety *tools.SafetyRules) (any, error) {
	path, err := checkPath(str(params, "path"), safety)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(str(params, "pattern"))
	if err != nil {
		return nil, tools.Failf("BAD_PATTERN", "invalid regex: %s", str(params, "pattern"))
	}
	filePattern := str(params, "file_pattern")

	type match struct {
		File    string   `json:"file"`
		Line    int      `json:"line"`
		Matches []string `json:"matches"`
	}
	var matches []match
	filesSearched := 0

	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if filePattern != "" {
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
				return nil
			}
		}
		filesSearched++
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			if found := re.FindAllString(scanner.Text(), -1); len(found) > 0 {
				rel, _ := filepath.Rel(path, p)
				matches = append(matches, match{File: rel, Line: lineNum, Matches: found})
			}
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return nil, tools.Failf("SEARCH_CANCELLED", "search cancelled")
	}

	return map[string]any{
		"matches":        matches,
		"match_count":    len(matches),
		"files_searched": filesSearched,
	}, nil
}
