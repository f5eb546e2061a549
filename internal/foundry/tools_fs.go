package foundry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func filesystemSpecs() []*Spec {
	return []*Spec{
		{
			Name: "write_file",
			Description: "The primary tool for writing files. It can write pre-defined content directly, " +
				"or it can generate code via an AI if a `task_description` is provided instead of `content`. " +
				"It creates directories if needed and overwrites the file if it exists.",
			Parameters: objectSchema(map[string]any{
				"path":             strProp("The path of the file to write to."),
				"content":          strProp("The content to write into the file. Use this for pre-defined content."),
				"task_description": strProp("A detailed description of the code to generate. Use ONLY when content is empty."),
			}, "path"),
			Action: writeFileAction,
		},
		{
			Name:        "append_to_file",
			Description: "Appends content to the end of an existing file.",
			Parameters: objectSchema(map[string]any{
				"path":    strProp("The path of the file to append to."),
				"content": strProp("The content to append."),
			}, "path", "content"),
			Action: appendToFileAction,
		},
		{
			Name:        "read_file",
			Description: "Reads the content of a specified file.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The path of the file to read."),
			}, "path"),
			Action: readFileAction,
		},
		{
			Name:        "list_files",
			Description: "Lists files and directories at a given path inside the project.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The directory to list. Defaults to the project root."),
			}),
			Action: listFilesAction,
		},
		{
			Name:        "create_directory",
			Description: "Creates a new, empty directory.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The path of the directory to create."),
			}, "path"),
			Action: createDirectoryAction,
		},
		{
			Name:        "create_package_init",
			Description: "Initializes a directory as a Python package by creating an __init__.py file.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The directory to initialize as a package."),
			}, "path"),
			Action: createPackageInitAction,
		},
		{
			Name:        "delete_directory",
			Description: "Recursively deletes a directory and all its contents.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The path of the directory to delete."),
			}, "path"),
			Action: deleteDirectoryAction,
		},
		{
			Name:        "copy_file",
			Description: "Copies a file from a source to a destination, creating destination directories as needed.",
			Parameters: objectSchema(map[string]any{
				"source_path":      strProp("The file to copy."),
				"destination_path": strProp("Where to copy it to."),
			}, "source_path", "destination_path"),
			Action: copyFileAction,
		},
		{
			Name:        "move_file",
			Description: "Moves a file from a source to a destination. Can be used to rename files.",
			Parameters: objectSchema(map[string]any{
				"source_path":      strProp("The file to move."),
				"destination_path": strProp("Where to move it to."),
			}, "source_path", "destination_path"),
			Action: moveFileAction,
		},
		{
			Name:        "delete_file",
			Description: "Deletes a single file after safety checks.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The file to delete."),
			}, "path"),
			Action: deleteFileAction,
		},
	}
}

func writeFileAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	content := c.Str("content")
	taskDescription := c.Str("task_description")

	if taskDescription != "" {
		if c.Deps.CodeGen == nil {
			return "Error: `task_description` was provided, but no code generator is available to the tool.", nil
		}
		generated, err := c.Deps.CodeGen.GenerateCodeForTask(ctx, c.UserID, rel, taskDescription, c.UserIdea, c.TaskID)
		if err != nil {
			return fmt.Sprintf("Error: code generation for '%s' failed: %v", rel, err), nil
		}
		content = generated
	} else if content == "" {
		return "Error: No content was provided or generated to write to the file.", nil
	}

	c.snapshotBefore(abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	c.reindex(ctx, abs, content)
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), rel), nil
}

func appendToFileAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	content := c.Str("content")

	existing, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error: File not found at path '%s'. Cannot append.", rel), nil
	}
	c.snapshotBefore(abs)
	combined := string(existing)
	if combined != "" && !strings.HasSuffix(combined, "\n") {
		combined += "\n"
	}
	combined += content
	if err := os.WriteFile(abs, []byte(combined), 0o644); err != nil {
		return nil, fmt.Errorf("append to %s: %w", rel, err)
	}
	c.reindex(ctx, abs, combined)
	return fmt.Sprintf("Successfully appended %d bytes to %s", len(content), rel), nil
}

func readFileAction(_ context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: File not found at path '%s'", rel), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a directory, not a file.", rel), nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

func listFilesAction(_ context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	if abs == "" {
		abs = c.Deps.Workspace.ActivePath()
	}
	rel := c.Deps.Workspace.Rel(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: Directory not found at path '%s'", rel), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a file, not a directory.", rel), nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name()+"/")
		} else {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Directory '%s' is empty.", rel), nil
	}
	return fmt.Sprintf("Contents of '%s':\n%s", rel, strings.Join(names, "\n")), nil
}

func createDirectoryAction(_ context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	if _, err := os.Stat(abs); err == nil {
		return fmt.Sprintf("Error: Directory already exists at %s", rel), nil
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", rel, err)
	}
	return fmt.Sprintf("Successfully created directory at %s", rel), nil
}

func createPackageInitAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create package dir %s: %w", rel, err)
	}
	initPath := filepath.Join(abs, "__init__.py")
	if _, err := os.Stat(initPath); err == nil {
		return fmt.Sprintf("Package already initialized at '%s'.", rel), nil
	}
	packageName := filepath.Base(abs)
	content := fmt.Sprintf("\"\"\"Initializes the '%s' package.\"\"\"\n", packageName)
	c.snapshotBefore(initPath)
	if err := os.WriteFile(initPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write __init__.py in %s: %w", rel, err)
	}
	c.reindex(ctx, initPath, content)
	return fmt.Sprintf("Successfully initialized package '%s' at '%s'.", packageName, rel), nil
}

func deleteDirectoryAction(_ context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: Cannot delete. Directory not found at '%s'.", rel), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a file, not a directory. Use 'delete_file' instead.", rel), nil
	}
	if err := os.RemoveAll(abs); err != nil {
		return nil, fmt.Errorf("delete directory %s: %w", rel, err)
	}
	return fmt.Sprintf("Successfully deleted directory: %s", rel), nil
}

func copyFileAction(ctx context.Context, c *Call) (any, error) {
	srcAbs, dstAbs := c.Str("source_path"), c.Str("destination_path")
	srcRel, dstRel := c.Deps.Workspace.Rel(srcAbs), c.Deps.Workspace.Rel(dstAbs)
	info, err := os.Stat(srcAbs)
	if err != nil {
		return fmt.Sprintf("Error: Source file not found at '%s'.", srcRel), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Source path '%s' is a directory, not a file. This tool only copies files.", srcRel), nil
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dirs for %s: %w", dstRel, err)
	}
	c.snapshotBefore(dstAbs)
	src, err := os.Open(srcAbs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", srcRel, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(dstAbs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dstRel, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", srcRel, dstRel, err)
	}
	if data, err := os.ReadFile(dstAbs); err == nil {
		c.reindex(ctx, dstAbs, string(data))
	}
	return fmt.Sprintf("Successfully copied file from '%s' to '%s'.", srcRel, dstRel), nil
}

func moveFileAction(ctx context.Context, c *Call) (any, error) {
	srcAbs, dstAbs := c.Str("source_path"), c.Str("destination_path")
	srcRel, dstRel := c.Deps.Workspace.Rel(srcAbs), c.Deps.Workspace.Rel(dstAbs)
	info, err := os.Stat(srcAbs)
	if err != nil {
		return fmt.Sprintf("Error: Source file not found at '%s'.", srcRel), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Source path '%s' is a directory, not a file. This tool only moves files.", srcRel), nil
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dirs for %s: %w", dstRel, err)
	}
	c.snapshotBefore(srcAbs)
	c.snapshotBefore(dstAbs)
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return nil, fmt.Errorf("move %s to %s: %w", srcRel, dstRel, err)
	}
	if c.Deps.RAG != nil {
		if err := c.Deps.RAG.RemoveFile(ctx, srcRel); err != nil {
			c.Deps.Log.Warn("could not drop %s from the retrieval index: %v", srcRel, err)
		}
	}
	if c.Deps.Intel != nil {
		c.Deps.Intel.RemoveFile(srcRel)
	}
	if data, err := os.ReadFile(dstAbs); err == nil {
		c.reindex(ctx, dstAbs, string(data))
	}
	return fmt.Sprintf("Successfully moved file from '%s' to '%s'.", srcRel, dstRel), nil
}

func deleteFileAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error: Cannot delete. File not found at '%s'.", rel), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a directory, not a file. This tool only deletes files.", rel), nil
	}
	c.snapshotBefore(abs)
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("delete %s: %w", rel, err)
	}
	if c.Deps.RAG != nil {
		if err := c.Deps.RAG.RemoveFile(ctx, rel); err != nil {
			c.Deps.Log.Warn("could not drop %s from the retrieval index: %v", rel, err)
		}
	}
	if c.Deps.Intel != nil {
		c.Deps.Intel.RemoveFile(rel)
	}
	return fmt.Sprintf("Successfully deleted file: %s", rel), nil
}
