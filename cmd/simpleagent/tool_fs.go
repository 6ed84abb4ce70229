package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parham/aisdk"
)

func fsTools() []toolSpec {
	return []toolSpec{
		{tool: aisdk.Tool{
			Name:        "read_file",
			Description: "Read file contents. Returns content with line numbers.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path":   prop("string", "File path to read"),
				"offset": prop("integer", "Starting line number (1-based, optional)"),
				"limit":  prop("integer", "Number of lines to read (optional)"),
			}),
			Execute: readFile,
		}},
		{write: true, tool: aisdk.Tool{
			Name:        "write_file",
			Description: "Write content to a file. Creates parent directories if needed.",
			InputSchema: objectSchema([]string{"path", "content"}, map[string]any{
				"path":    prop("string", "File path to write"),
				"content": prop("string", "File content to write"),
			}),
			Execute: writeFile,
		}},
		{write: true, tool: aisdk.Tool{
			Name:        "edit_file",
			Description: "Edit a file by replacing exact text. old_text must match exactly once.",
			InputSchema: objectSchema([]string{"path", "old_text", "new_text"}, map[string]any{
				"path":     prop("string", "File path to edit"),
				"old_text": prop("string", "Exact text to find and replace"),
				"new_text": prop("string", "Replacement text"),
			}),
			Execute: editFile,
		}},
		{tool: aisdk.Tool{
			Name:        "list_dir",
			Description: "List directory contents.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path":      prop("string", "Directory path"),
				"recursive": prop("boolean", "List recursively (default false)"),
			}),
			Execute: listDir,
		}},
		{write: true, tool: aisdk.Tool{
			Name:        "delete",
			Description: "Delete a file or directory.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path":      prop("string", "Path to delete"),
				"recursive": prop("boolean", "Delete directories recursively (default false)"),
			}),
			Execute: deletePath,
		}},
		{write: true, tool: aisdk.Tool{
			Name:        "move",
			Description: "Move or rename a file or directory.",
			InputSchema: objectSchema([]string{"source", "dest"}, map[string]any{
				"source": prop("string", "Source path"),
				"dest":   prop("string", "Destination path"),
			}),
			Execute: movePath,
		}},
		{tool: aisdk.Tool{
			Name:        "file_info",
			Description: "Get file metadata: size, permissions, modification time, type, symlink target.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path": prop("string", "File path"),
			}),
			Execute: fileInfo,
		}},
		{write: true, tool: aisdk.Tool{
			Name:        "make_dir",
			Description: "Create a directory, including parent directories as needed.",
			InputSchema: objectSchema([]string{"path"}, map[string]any{
				"path": prop("string", "Directory path to create"),
				"mode": prop("string", "Permissions in octal (default 0755)"),
			}),
			Execute: makeDir,
		}},
	}
}

func readFile(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}](input)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(args.Path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	start := min(max(args.Offset-1, 0), len(lines))
	end := len(lines)
	if args.Limit > 0 {
		end = min(start+args.Limit, len(lines))
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%4d\t%s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

func writeFile(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}](input)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(args.Path), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(args.Path, []byte(args.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), nil
}

func editFile(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path    string `json:"path"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
	}](input)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(args.Path)
	if err != nil {
		return "", err
	}

	content := string(data)
	switch n := strings.Count(content, args.OldText); {
	case args.OldText == "" || n == 0:
		return "", errors.New("old_text not found in file")
	case n > 1:
		return "", fmt.Errorf("old_text found %d times, must be unique", n)
	}
	if err := os.WriteFile(args.Path, []byte(strings.Replace(content, args.OldText, args.NewText, 1)), 0o644); err != nil {
		return "", err
	}
	return "edited " + args.Path, nil
}

func listDir(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}](input)
	if err != nil {
		return "", err
	}
	if args.Path == "" {
		args.Path = "."
	}

	var sb strings.Builder
	line := func(name string, dir bool) {
		kind := "f"
		if dir {
			kind = "d"
		}
		fmt.Fprintf(&sb, "%s %s\n", kind, name)
	}

	if !args.Recursive {
		entries, err := os.ReadDir(args.Path)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			line(e.Name(), e.IsDir())
		}
		return sb.String(), nil
	}

	err = filepath.WalkDir(args.Path, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		line(path, d.IsDir())
		return nil
	})
	return sb.String(), err
}

func deletePath(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}](input)
	if err != nil {
		return "", err
	}
	info, err := os.Lstat(args.Path)
	if err != nil {
		return "", err
	}
	switch {
	case info.IsDir() && !args.Recursive:
		return "", errors.New("path is a directory, set recursive=true to delete")
	case args.Recursive:
		err = os.RemoveAll(args.Path)
	default:
		err = os.Remove(args.Path)
	}
	if err != nil {
		return "", err
	}
	return "deleted " + args.Path, nil
}

func movePath(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Source string `json:"source"`
		Dest   string `json:"dest"`
	}](input)
	if err != nil {
		return "", err
	}
	if err := os.Rename(args.Source, args.Dest); err != nil {
		return "", err
	}
	return fmt.Sprintf("moved %s -> %s", args.Source, args.Dest), nil
}

func fileInfo(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path string `json:"path"`
	}](input)
	if err != nil {
		return "", err
	}
	info, err := os.Lstat(args.Path)
	if err != nil {
		return "", err
	}

	kind := "file"
	switch {
	case info.IsDir():
		kind = "directory"
	case info.Mode()&os.ModeSymlink != 0:
		kind = "symlink"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "name: %s\nsize: %d\nmode: %s\nmodified: %s\ntype: %s\n",
		info.Name(), info.Size(), info.Mode(), info.ModTime().Format(time.RFC3339), kind)
	if kind == "symlink" {
		if target, err := os.Readlink(args.Path); err == nil {
			fmt.Fprintf(&sb, "symlink_target: %s\n", target)
		}
	}
	return sb.String(), nil
}

func makeDir(_ context.Context, input json.RawMessage) (string, error) {
	args, err := decodeArgs[struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
	}](input)
	if err != nil {
		return "", err
	}
	mode := fs.FileMode(0o755)
	if args.Mode != "" {
		parsed, err := strconv.ParseUint(args.Mode, 8, 32)
		if err != nil {
			return "", fmt.Errorf("invalid mode %q: %w", args.Mode, err)
		}
		mode = fs.FileMode(parsed)
	}
	if err := os.MkdirAll(args.Path, mode); err != nil {
		return "", err
	}
	return "created directory " + args.Path, nil
}
