package coretools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/selcan/mira/pkg/toolexec"
)

func fsReadTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_read",
		Description: "Read a file inside the workspace",
		Required:    []string{"path"},
		Parameters: map[string]toolexec.ParamSpec{
			"path":      {Type: "string", Description: "File path, relative to the workspace root"},
			"max_bytes": {Type: "integer", Description: "Maximum bytes to return, default 200000"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}

			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				return nil, toolexec.Validationf("path is required")
			}

			abs, err := ec.Paths.ResolveAllowed("fs_read", path, toolexec.OpRead)
			if err != nil {
				return nil, err
			}

			info, err := statPath(ec, abs)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("file not found: %s", path)
				}
				return nil, err
			}
			if info.IsDir() {
				return nil, toolexec.Validationf("%s is a directory: use fs_list", path)
			}

			limit := int64(defaultReadLimit)
			if v, ok := args["max_bytes"].(float64); ok && v > 0 {
				limit = int64(v)
			}

			data, truncated, err := readFileWithLimit(abs, limit)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      path,
				"content":   string(data),
				"bytes":     len(data),
				"truncated": truncated,
			}, nil
		},
	}
}

func fsWriteTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_write",
		Description: "Write content to a workspace file, creating parent directories",
		Required:    []string{"path", "content"},
		Parameters: map[string]toolexec.ParamSpec{
			"path":    {Type: "string", Description: "File path, relative to the workspace root"},
			"content": {Type: "string", Description: "Content to write"},
			"append":  {Type: "boolean", Description: "Append instead of overwrite, default false"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}
			if err := confirmFirst(ec, "fs_write", args); err != nil {
				return nil, err
			}

			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				return nil, toolexec.Validationf("path is required")
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			abs, err := ec.Paths.ResolveAllowed("fs_write", path, toolexec.OpWrite)
			if err != nil {
				return nil, err
			}

			existed := false
			if info, err := statPath(ec, abs); err == nil {
				if info.IsDir() {
					return nil, toolexec.Validationf("%s is a directory", path)
				}
				existed = true
			}

			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return nil, toolexec.Execf("failed to create parent directory: %v", err)
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(abs, flag, 0644)
			if err != nil {
				return nil, toolexec.Execf("failed to open %s: %v", path, err)
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, toolexec.Execf("failed to write %s: %v", path, err)
			}
			if err := f.Close(); err != nil {
				return nil, toolexec.Execf("failed to write %s: %v", path, err)
			}

			invalidate(ec, abs, filepath.Dir(abs))

			return map[string]interface{}{
				"path":    path,
				"bytes":   len(content),
				"append":  appendMode,
				"created": !existed,
			}, nil
		},
	}
}

func fsEditTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_edit",
		Description: "Replace text in a workspace file",
		Required:    []string{"path", "search", "replace"},
		Parameters: map[string]toolexec.ParamSpec{
			"path":        {Type: "string", Description: "File path, relative to the workspace root"},
			"search":      {Type: "string", Description: "Text to find"},
			"replace":     {Type: "string", Description: "Replacement text"},
			"replace_all": {Type: "boolean", Description: "Replace every occurrence, default first only"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}
			if err := confirmFirst(ec, "fs_edit", args); err != nil {
				return nil, err
			}

			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				return nil, toolexec.Validationf("path is required")
			}
			search, _ := args["search"].(string)
			if search == "" {
				return nil, toolexec.Validationf("search text is required")
			}
			replace, _ := args["replace"].(string)
			replaceAll, _ := args["replace_all"].(bool)

			abs, err := ec.Paths.ResolveAllowed("fs_edit", path, toolexec.OpWrite)
			if err != nil {
				return nil, err
			}

			if _, err := statPath(ec, abs); err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("file not found: %s", path)
				}
				return nil, err
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, toolexec.Execf("failed to read %s: %v", path, err)
			}
			content := string(data)

			occurrences := 0
			updated := content
			if replaceAll {
				occurrences = strings.Count(content, search)
				updated = strings.ReplaceAll(content, search, replace)
			} else if idx := strings.Index(content, search); idx >= 0 {
				occurrences = 1
				updated = content[:idx] + replace + content[idx+len(search):]
			}
			if occurrences == 0 {
				return nil, toolexec.NotFoundf("search text not found in %s", path)
			}

			if err := os.WriteFile(abs, []byte(updated), 0644); err != nil {
				return nil, toolexec.Execf("failed to write %s: %v", path, err)
			}

			invalidate(ec, abs)

			return map[string]interface{}{
				"path":        path,
				"occurrences": occurrences,
			}, nil
		},
	}
}

func fsListTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_list",
		Description: "List the entries of a workspace directory",
		Parameters: map[string]toolexec.ParamSpec{
			"path": {Type: "string", Description: "Directory path, default the workspace root"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}

			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				path = "."
			}

			abs, err := ec.Paths.ResolveAllowed("fs_list", path, toolexec.OpList)
			if err != nil {
				return nil, err
			}

			info, err := statPath(ec, abs)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("directory not found: %s", path)
				}
				return nil, err
			}
			if !info.IsDir() {
				return nil, toolexec.Validationf("%s is not a directory: use fs_read", path)
			}

			dirEntries, err := os.ReadDir(abs)
			if err != nil {
				return nil, toolexec.Execf("failed to list %s: %v", path, err)
			}

			entries := make([]map[string]interface{}, 0, len(dirEntries))
			for _, e := range dirEntries {
				child := filepath.Join(abs, e.Name())
				if ec.Paths.AssertAllowed("fs_list", child, toolexec.OpList) != nil {
					continue
				}
				entry := map[string]interface{}{"name": e.Name()}
				if e.IsDir() {
					entry["type"] = "dir"
				} else {
					entry["type"] = "file"
					if fi, err := e.Info(); err == nil {
						entry["size"] = fi.Size()
					}
				}
				entries = append(entries, entry)
			}

			return map[string]interface{}{
				"path":    path,
				"entries": entries,
				"count":   len(entries),
			}, nil
		},
	}
}

// searchMatch is one matching line from fs_search. File is relative to
// the workspace root so it feeds straight back into fs_read.
type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// errSearchDone stops the walk once enough matches are collected
var errSearchDone = errors.New("search done")

func fsSearchTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_search",
		Description: "Find lines containing a substring in workspace files",
		Required:    []string{"pattern"},
		Parameters: map[string]toolexec.ParamSpec{
			"pattern":     {Type: "string", Description: "Substring to look for"},
			"path":        {Type: "string", Description: "Directory to search under, default the workspace root"},
			"max_results": {Type: "integer", Description: "Maximum matches to return, default 50"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}

			pattern, _ := args["pattern"].(string)
			if pattern == "" {
				return nil, toolexec.Validationf("pattern is required")
			}
			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				path = "."
			}
			limit := searchMaxResults
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				limit = int(v)
			}

			start, err := ec.Paths.ResolveAllowed("fs_search", path, toolexec.OpList)
			if err != nil {
				return nil, err
			}
			if _, err := statPath(ec, start); err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("directory not found: %s", path)
				}
				return nil, err
			}

			matches := []searchMatch{}
			walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if p != start && ec.Paths.AssertAllowed("fs_search", p, toolexec.OpList) != nil {
						return filepath.SkipDir
					}
					return nil
				}
				if strings.HasPrefix(d.Name(), ".") {
					return nil
				}

				found, err := scanFile(ec, p, pattern, limit-len(matches))
				if err != nil {
					return nil
				}
				matches = append(matches, found...)
				if len(matches) >= limit {
					return errSearchDone
				}
				return nil
			})

			truncated := errors.Is(walkErr, errSearchDone)
			if walkErr != nil && !truncated {
				return nil, toolexec.Execf("search failed: %v", walkErr)
			}

			return map[string]interface{}{
				"pattern":   pattern,
				"matches":   matches,
				"count":     len(matches),
				"truncated": truncated,
			}, nil
		},
	}
}

func fsDeleteTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_delete",
		Description: "Delete a file or directory inside the workspace",
		Required:    []string{"path"},
		Parameters: map[string]toolexec.ParamSpec{
			"path":      {Type: "string", Description: "Path to delete, relative to the workspace root"},
			"recursive": {Type: "boolean", Description: "Required to delete a directory and its contents"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}
			if err := confirmFirst(ec, "fs_delete", args); err != nil {
				return nil, err
			}

			path, _ := args["path"].(string)
			if strings.TrimSpace(path) == "" {
				return nil, toolexec.Validationf("path is required")
			}
			recursive, _ := args["recursive"].(bool)

			abs, err := ec.Paths.ResolveAllowed("fs_delete", path, toolexec.OpWrite)
			if err != nil {
				return nil, err
			}
			if abs == ec.Paths.Root() {
				return nil, toolexec.Validationf("refusing to delete the workspace root")
			}

			info, err := statPath(ec, abs)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("nothing to delete at %s", path)
				}
				return nil, err
			}

			if info.IsDir() {
				if !recursive {
					return nil, toolexec.Validationf("%s is a directory: pass recursive=true to delete it", path)
				}
				if err := os.RemoveAll(abs); err != nil {
					return nil, toolexec.Execf("failed to delete %s: %v", path, err)
				}
			} else if err := os.Remove(abs); err != nil {
				return nil, toolexec.Execf("failed to delete %s: %v", path, err)
			}

			invalidate(ec, abs, filepath.Dir(abs))

			return map[string]interface{}{
				"path": path,
				"dir":  info.IsDir(),
			}, nil
		},
	}
}

func fsMoveTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "fs_move",
		Description: "Move or rename a file or directory inside the workspace",
		Required:    []string{"source", "destination"},
		Parameters: map[string]toolexec.ParamSpec{
			"source":      {Type: "string", Description: "Path to move, relative to the workspace root"},
			"destination": {Type: "string", Description: "Target path; an existing directory receives the source inside it"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := guardsFrom(ctx)
			if err != nil {
				return nil, err
			}
			if err := confirmFirst(ec, "fs_move", args); err != nil {
				return nil, err
			}

			source, _ := args["source"].(string)
			destination, _ := args["destination"].(string)
			if strings.TrimSpace(source) == "" || strings.TrimSpace(destination) == "" {
				return nil, toolexec.Validationf("source and destination are required")
			}

			srcAbs, err := ec.Paths.ResolveAllowed("fs_move", source, toolexec.OpWrite)
			if err != nil {
				return nil, err
			}
			dstAbs, err := ec.Paths.ResolveAllowed("fs_move", destination, toolexec.OpWrite)
			if err != nil {
				return nil, err
			}
			if srcAbs == ec.Paths.Root() {
				return nil, toolexec.Validationf("refusing to move the workspace root")
			}

			if _, err := statPath(ec, srcAbs); err != nil {
				if os.IsNotExist(err) {
					return nil, toolexec.NotFoundf("source not found: %s", source)
				}
				return nil, err
			}

			if dstInfo, err := statPath(ec, dstAbs); err == nil {
				if !dstInfo.IsDir() {
					return nil, toolexec.Validationf("destination %s already exists", destination)
				}
				dstAbs = filepath.Join(dstAbs, filepath.Base(srcAbs))
				if _, err := statPath(ec, dstAbs); err == nil {
					return nil, toolexec.Validationf("destination %s already exists", relToRoot(ec, dstAbs))
				}
			}

			if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
				return nil, toolexec.Execf("failed to create parent directory: %v", err)
			}
			if err := os.Rename(srcAbs, dstAbs); err != nil {
				return nil, toolexec.Execf("failed to move %s: %v", source, err)
			}

			invalidate(ec, srcAbs, filepath.Dir(srcAbs), dstAbs, filepath.Dir(dstAbs))

			return map[string]interface{}{
				"source":      source,
				"destination": relToRoot(ec, dstAbs),
			}, nil
		},
	}
}

// readFileWithLimit reads at most limit bytes of a file and reports
// whether more remained
func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, f, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	extra := make([]byte, 1)
	n, _ := f.Read(extra)
	return buf.Bytes(), n > 0, nil
}

// scanFile collects up to limit matching lines from one file. Files too
// large or containing NUL bytes are skipped.
func scanFile(ec *toolexec.ExecContext, path, pattern string, limit int) ([]searchMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() > searchSizeLimit {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, nil
	}

	var matches []searchMatch
	for i, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, pattern) {
			continue
		}
		text := strings.TrimSpace(strings.TrimRight(line, "\r"))
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		matches = append(matches, searchMatch{
			File: relToRoot(ec, path),
			Line: i + 1,
			Text: text,
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// relToRoot renders abs relative to the workspace root so results feed
// back into the other fs tools, keeping the absolute form for paths
// under extra allowed roots
func relToRoot(ec *toolexec.ExecContext, abs string) string {
	if ec.Paths == nil {
		return abs
	}
	rel, err := filepath.Rel(ec.Paths.Root(), abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}
