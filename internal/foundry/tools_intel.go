package foundry

import (
	"context"
	"fmt"
	"strings"

	"aura/internal/pysrc"
)

func intelSpecs() []*Spec {
	return []*Spec{
		{
			Name:        "find_definition",
			Description: "Finds where a function or class is defined, using the project symbol index.",
			Parameters: objectSchema(map[string]any{
				"symbol_name": strProp("The symbol to look up."),
			}, "symbol_name"),
			Action: findDefinitionAction,
		},
		{
			Name:        "find_references",
			Description: "Finds every call site of a function or class across the project.",
			Parameters: objectSchema(map[string]any{
				"symbol_name": strProp("The symbol to look up."),
			}, "symbol_name"),
			Action: findReferencesAction,
		},
		{
			Name:        "get_dependencies",
			Description: "Lists the functions and methods a given symbol calls.",
			Parameters: objectSchema(map[string]any{
				"symbol_name": strProp("The symbol to inspect."),
			}, "symbol_name"),
			Action: getDependenciesAction,
		},
		{
			Name:        "rename_symbol",
			Description: "Performs a project-wide rename of a symbol wherever it is defined or called.",
			Parameters: objectSchema(map[string]any{
				"old_name": strProp("The current symbol name."),
				"new_name": strProp("The new symbol name."),
			}, "old_name", "new_name"),
			Action: renameSymbolAction,
		},
		{
			Name:        "index_project_context",
			Description: "Rebuilds the retrieval and symbol indexes from the project's source files.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("Unused; indexing always covers the active project."),
			}),
			Action: indexProjectAction,
		},
	}
}

func findDefinitionAction(_ context.Context, c *Call) (any, error) {
	if c.Deps.Intel == nil {
		return "Error: the symbol index is not available.", nil
	}
	name := c.Str("symbol_name")
	definitions := c.Deps.Intel.FindDefinition(name)
	if len(definitions) == 0 {
		return fmt.Sprintf("Symbol '%s' not found in the project index.", name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d definition(s) for '%s':\n", len(definitions), name)
	for _, def := range definitions {
		fmt.Fprintf(&b, "- Type: %s, File: %s, Line: %d\n", def.Kind, def.Path, def.Line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func findReferencesAction(_ context.Context, c *Call) (any, error) {
	if c.Deps.Intel == nil {
		return "Error: the symbol index is not available.", nil
	}
	name := c.Str("symbol_name")
	references := c.Deps.Intel.FindReferences(name)
	if len(references) == 0 {
		return fmt.Sprintf("No references to '%s' were found in the project index.", name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d reference(s) to '%s':\n", len(references), name)
	for _, ref := range references {
		if ref.Caller != "" {
			fmt.Fprintf(&b, "- In '%s' at File: %s, Line: %d\n", ref.Caller, ref.Path, ref.Line)
		} else {
			fmt.Fprintf(&b, "- At File: %s, Line: %d\n", ref.Path, ref.Line)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getDependenciesAction(_ context.Context, c *Call) (any, error) {
	if c.Deps.Intel == nil {
		return "Error: the symbol index is not available.", nil
	}
	name := c.Str("symbol_name")
	if len(c.Deps.Intel.FindDefinition(name)) == 0 {
		return fmt.Sprintf("Symbol '%s' not found in the project index.", name), nil
	}
	callees := c.Deps.Intel.Callees(name)
	if len(callees) == 0 {
		return fmt.Sprintf("Symbol '%s' does not appear to call any other indexed functions or methods.", name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol '%s' calls the following symbols:\n", name)
	for _, callee := range callees {
		fmt.Fprintf(&b, "- %s\n", callee)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func renameSymbolAction(ctx context.Context, c *Call) (any, error) {
	if c.Deps.Intel == nil {
		return "Error: the symbol index is not available.", nil
	}
	oldName, newName := c.Str("old_name"), c.Str("new_name")

	definitions := c.Deps.Intel.FindDefinition(oldName)
	if len(definitions) == 0 {
		return fmt.Sprintf("Error: Cannot rename. Symbol '%s' not found in the project index.", oldName), nil
	}
	touched := make(map[string]bool)
	for _, def := range definitions {
		touched[def.Path] = true
	}
	for _, ref := range c.Deps.Intel.FindReferences(oldName) {
		touched[ref.Path] = true
	}

	for relPath := range touched {
		abs, err := c.Deps.Workspace.Resolve(relPath)
		if err != nil {
			return fmt.Sprintf("Error: cannot access '%s': %v", relPath, err), nil
		}
		if _, err := c.editFile(ctx, abs, func(source string) (string, error) {
			renamed, _, err := pysrc.RenameIdentifier(ctx, source, oldName, newName)
			return renamed, err
		}); err != nil {
			return fmt.Sprintf("Error: failed to rename in file %s: %v", relPath, err), nil
		}
	}
	return fmt.Sprintf("Successfully renamed '%s' to '%s' across %d files.", oldName, newName, len(touched)), nil
}

func indexProjectAction(ctx context.Context, c *Call) (any, error) {
	files, err := c.Deps.Workspace.ListFiles()
	if err != nil {
		return nil, err
	}
	read := c.Deps.Workspace.ReadFile
	if c.Deps.RAG != nil {
		if err := c.Deps.RAG.ReindexProject(ctx, files, read); err != nil {
			return nil, fmt.Errorf("rebuild retrieval index: %w", err)
		}
	}
	if c.Deps.Intel != nil {
		if err := c.Deps.Intel.BuildProject(ctx, files, read); err != nil {
			return nil, fmt.Errorf("rebuild symbol index: %w", err)
		}
	}
	chunks := 0
	if c.Deps.RAG != nil {
		chunks = c.Deps.RAG.Count()
	}
	return fmt.Sprintf("Successfully indexed the project: %d chunks across %d files.", chunks, len(files)), nil
}
