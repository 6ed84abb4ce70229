package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/parham/aisdk"
)

const (
	maxGrepMatches = 200
	maxFindMatches = 500
)

var typeCodes = map[string]string{"file": "f", "dir": "d", "symlink": "l"}

var skippedDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

func searchTools() []toolSpec {
	return []toolSpec{
		{tool: aisdk.Tool{
			Name:        "grep",
			Description: "Search file contents by regex pattern. Returns matching lines with file paths and line numbers.",
			InputSchema: objectSchema([]string{"pattern"}, map[string]any{
				"pattern": prop("string", "Regex pattern to search for"),
				"path":    prop("string", "File or directory to search in (default: current dir)"),
				"include": prop("string", "Glob pattern to filter files (e.g. *.go)"),
			}),
			Execute: grepFiles,
		}},
		{tool: aisdk.Tool{
			Name:        "find_files",
			Description: "Find files by glob pattern. Returns matching paths with type and size.",
			InputSchema: objectSchema([]string{"pattern"}, map[string]any{
				"pattern": prop("string", "Glob pattern matched against the name or relative path (e.g. *.go)"),
				"path":    prop("string", "Directory to search in (default: current dir)"),
				"type":    prop("string", "Filter by type: file, dir, or symlink"),
			}),
			Execute: findFiles,
		}},
	}
}

// walkSearch walks root, skipping hidden and vendored directories, until ctx
// is done or visit returns fs.SkipAll.
func walkSearch(ctx context.Context, root string, visit func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root && (strings.HasPrefix(d.Name(), ".") || skippedDirs[d.Name()]) {
			return filepath.SkipDir
		}
		return visit(path, d)
	})
}

func grepFiles(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}](input)
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex: %w", err)
	}
	root := args.Path
	if root == "" {
		root = "."
	}

	var sb strings.Builder
	matches := 0
	err = walkSearch(ctx, root, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if args.Include != "" {
			if ok, _ := filepath.Match(args.Include, d.Name()); !ok {
				return nil
			}
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data[:min(len(data), 512)], 0) >= 0 {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(&sb, "%s:%d: %s\n", path, i+1, line)
			if matches++; matches >= maxGrepMatches {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if matches == 0 {
		return "no matches found", nil
	}
	if matches >= maxGrepMatches {
		fmt.Fprintf(&sb, "\n... [truncated at %d matches]", maxGrepMatches)
	}
	return sb.String(), nil
}

func findFiles(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Type    string `json:"type"`
	}](input)
	if err != nil {
		return "", err
	}
	root := args.Path
	if root == "" {
		root = "."
	}

	var sb strings.Builder
	matches := 0
	err = walkSearch(ctx, root, func(path string, d fs.DirEntry) error {
		matched, _ := filepath.Match(args.Pattern, d.Name())
		if !matched {
			rel, _ := filepath.Rel(root, path)
			matched, _ = filepath.Match(args.Pattern, rel)
		}
		if !matched {
			return nil
		}

		kind := "f"
		switch {
		case d.IsDir():
			kind = "d"
		case d.Type()&fs.ModeSymlink != 0:
			kind = "l"
		}
		if args.Type != "" && typeCodes[args.Type] != kind {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&sb, "%s %8d %s\n", kind, size, path)
		if matches++; matches >= maxFindMatches {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if matches == 0 {
		return "no matching files found", nil
	}
	if matches >= maxFindMatches {
		fmt.Fprintf(&sb, "\n... [truncated at %d matches]", maxFindMatches)
	}
	return sb.String(), nil
}
