package foundry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"aura/internal/pysrc"
)

func editingSpecs() []*Spec {
	return []*Spec{
		{
			Name:        "add_function_to_file",
			Description: "Adds a complete top-level function definition to the end of a Python file.",
			Parameters: objectSchema(map[string]any{
				"path":          strProp("The Python file to modify."),
				"function_code": strProp("The full source of the function to add."),
			}, "path", "function_code"),
			Action: addFunctionAction,
		},
		{
			Name:        "add_class_to_file",
			Description: "Adds a complete top-level class definition to the end of a Python file.",
			Parameters: objectSchema(map[string]any{
				"path":       strProp("The Python file to modify."),
				"class_code": strProp("The full source of the class to add."),
			}, "path", "class_code"),
			Action: addClassAction,
		},
		{
			Name:        "add_method_to_class",
			Description: "Adds an empty method stub to an existing class.",
			Parameters: objectSchema(map[string]any{
				"path":       strProp("The Python file containing the class."),
				"class_name": strProp("The class to extend."),
				"name":       strProp("The method name."),
				"args":       strListProp("Parameter names, excluding self."),
				"is_async":   boolProp("Whether to declare the method async."),
			}, "path", "class_name", "name", "args"),
			Action: addMethodAction,
		},
		{
			Name:        "add_import",
			Description: "Adds an import statement to a Python file, after the existing imports. Idempotent.",
			Parameters: objectSchema(map[string]any{
				"path":   strProp("The Python file to modify."),
				"module": strProp("The module to import."),
				"names":  strListProp("Optional names for a from-import."),
			}, "path", "module"),
			Action: addImportAction,
		},
		{
			Name:        "add_attribute_to_init",
			Description: "Assigns an attribute in a class's __init__, creating a minimal __init__ when missing.",
			Parameters: objectSchema(map[string]any{
				"path":           strProp("The Python file containing the class."),
				"class_name":     strProp("The class to modify."),
				"attribute_name": strProp("The attribute to assign (without self.)."),
				"default_value":  strProp("The value expression to assign."),
			}, "path", "class_name", "attribute_name", "default_value"),
			Action: addAttributeToInitAction,
		},
		{
			Name:        "add_decorator_to_function",
			Description: "Adds a decorator line directly above a function definition.",
			Parameters: objectSchema(map[string]any{
				"path":           strProp("The Python file containing the function."),
				"function_name":  strProp("The function to decorate."),
				"decorator_code": strProp("The decorator, with or without the leading @."),
			}, "path", "function_name", "decorator_code"),
			Action: addDecoratorAction,
		},
		{
			Name:        "add_parameter_to_function",
			Description: "Adds a parameter to a function's signature. Existing parameters with the same name are left alone.",
			Parameters: objectSchema(map[string]any{
				"path":           strProp("The Python file containing the function."),
				"function_name":  strProp("The function to modify."),
				"parameter_name": strProp("The new parameter's name."),
				"parameter_type": strProp("Optional type annotation."),
				"default_value":  strProp("Optional default value expression."),
			}, "path", "function_name", "parameter_name"),
			Action: addParameterAction,
		},
		{
			Name:        "append_to_function",
			Description: "Appends statements to the end of a function body.",
			Parameters: objectSchema(map[string]any{
				"path":           strProp("The Python file containing the function."),
				"function_name":  strProp("The function to extend."),
				"code_to_append": strProp("The statements to append."),
			}, "path", "function_name", "code_to_append"),
			Action: appendToFunctionAction,
		},
		{
			Name:        "replace_method_in_class",
			Description: "Replaces a method inside a class with new code.",
			Parameters: objectSchema(map[string]any{
				"path":        strProp("The Python file containing the class."),
				"class_name":  strProp("The class owning the method."),
				"method_name": strProp("The method to replace."),
				"new_code":    strProp("The full replacement method source."),
			}, "path", "class_name", "method_name", "new_code"),
			Action: replaceMethodAction,
		},
		{
			Name:        "replace_node_in_file",
			Description: "Replaces a top-level function or class with new code.",
			Parameters: objectSchema(map[string]any{
				"path":      strProp("The Python file to modify."),
				"node_name": strProp("The top-level function or class to replace."),
				"new_code":  strProp("The full replacement source."),
			}, "path", "node_name", "new_code"),
			Action: replaceNodeAction,
		},
		{
			Name:        "rename_symbol_in_file",
			Description: "Renames every bare occurrence of a symbol within one file.",
			Parameters: objectSchema(map[string]any{
				"path":     strProp("The Python file to modify."),
				"old_name": strProp("The current symbol name."),
				"new_name": strProp("The new symbol name."),
			}, "path", "old_name", "new_name"),
			Action: renameInFileAction,
		},
		{
			Name:        "list_functions_in_file",
			Description: "Parses a Python file and returns its top-level function names.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The Python file to inspect."),
			}, "path"),
			Action: listFunctionsAction,
		},
		{
			Name:        "get_code_for",
			Description: "Returns the full source code of a specific top-level function or class.",
			Parameters: objectSchema(map[string]any{
				"path":          strProp("The Python file to inspect."),
				"function_name": strProp("The top-level function or class name."),
			}, "path", "function_name"),
			Action: getCodeForAction,
		},
		{
			Name:        "get_generated_code",
			Description: "Legacy inspection tool from the in-memory generation pipeline.",
			Parameters:  objectSchema(map[string]any{}),
			Action: func(context.Context, *Call) (any, error) {
				return "Generated Code:\n```python\n# This tool is part of the file-based generation pipeline.\n# Use 'read_file' or 'list_files' to inspect results.\n```", nil
			},
		},
		{
			Name:        "define_function",
			Description: "Builds the source of an empty function definition for later insertion.",
			Parameters: objectSchema(map[string]any{
				"name": strProp("The function name."),
				"args": strListProp("Parameter names."),
			}, "name"),
			Action: defineFunctionAction,
		},
		{
			Name:        "define_class",
			Description: "Builds the source of an empty class definition for later insertion.",
			Parameters: objectSchema(map[string]any{
				"name":  strProp("The class name."),
				"bases": strListProp("Base class names."),
			}, "name"),
			Action: defineClassAction,
		},
		{
			Name:        "assign_variable",
			Description: "Builds the source of a variable assignment statement.",
			Parameters: objectSchema(map[string]any{
				"variable_name": strProp("The variable name."),
				"value":         strProp("The value expression."),
			}, "variable_name", "value"),
			Action: func(_ context.Context, c *Call) (any, error) {
				return fmt.Sprintf("%s = %s", c.Str("variable_name"), c.Str("value")), nil
			},
		},
		{
			Name:        "function_call",
			Description: "Builds the source of a function call statement.",
			Parameters: objectSchema(map[string]any{
				"func_name": strProp("The function to call."),
				"args":      strListProp("Argument expressions."),
			}, "func_name"),
			Action: func(_ context.Context, c *Call) (any, error) {
				return fmt.Sprintf("%s(%s)", c.Str("func_name"), strings.Join(c.StrList("args"), ", ")), nil
			},
		},
		{
			Name:        "return_statement",
			Description: "Builds the source of a return statement.",
			Parameters: objectSchema(map[string]any{
				"value": strProp("The expression to return."),
			}, "value"),
			Action: func(_ context.Context, c *Call) (any, error) {
				return fmt.Sprintf("return %s", c.Str("value")), nil
			},
		},
	}
}

// editResult turns an expected pysrc failure into a model-readable error
// string and an unexpected one into a hard error.
func editResult(err error, successMsg string) (any, error) {
	if err == nil {
		return successMsg, nil
	}
	return fmt.Sprintf("Error: %v", err), nil
}

func addFunctionAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddFunction(ctx, source, c.Str("function_code"))
	})
	return editResult(err, fmt.Sprintf("Successfully added function to '%s'.", rel))
}

func addClassAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddClass(ctx, source, c.Str("class_code"))
	})
	return editResult(err, fmt.Sprintf("Successfully added class to '%s'.", rel))
}

func addMethodAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	className := c.Str("class_name")
	methodName := c.Str("name")

	params := append([]string{"self"}, c.StrList("args")...)
	if len(params) > 1 && params[1] == "self" {
		params = params[1:]
	}
	keyword := "def"
	if c.Bool("is_async") {
		keyword = "async def"
	}
	stub := fmt.Sprintf("%s %s(%s):\n    pass", keyword, methodName, strings.Join(params, ", "))

	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddMethodToClass(ctx, source, className, stub)
	})
	return editResult(err, fmt.Sprintf("Successfully added method '%s' to class '%s' in '%s'.", methodName, className, rel))
}

func addImportAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	module := c.Str("module")
	names := c.StrList("names")

	statement := "import " + module
	if len(names) > 0 {
		statement = fmt.Sprintf("from %s import %s", module, strings.Join(names, ", "))
	}
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddImport(ctx, source, statement)
	})
	return editResult(err, fmt.Sprintf("Successfully ensured import '%s' in '%s'.", statement, rel))
}

func addAttributeToInitAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	className := c.Str("class_name")
	attribute := c.Str("attribute_name")
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddAttributeToInit(ctx, source, className, attribute, c.Str("default_value"))
	})
	return editResult(err, fmt.Sprintf("Successfully added attribute 'self.%s' to %s.__init__ in '%s'.", attribute, className, rel))
}

func addDecoratorAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	functionName := c.Str("function_name")
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddDecoratorToFunction(ctx, source, functionName, c.Str("decorator_code"))
	})
	return editResult(err, fmt.Sprintf("Successfully added decorator to function '%s' in '%s'.", functionName, rel))
}

func addParameterAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	functionName := c.Str("function_name")
	parameter := c.Str("parameter_name")
	if t := c.Str("parameter_type"); t != "" {
		parameter += ": " + t
	}
	if d := c.Str("default_value"); d != "" {
		parameter += " = " + d
	}
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AddParameterToFunction(ctx, source, functionName, parameter)
	})
	return editResult(err, fmt.Sprintf("Successfully added parameter '%s' to function '%s' in '%s'.", c.Str("parameter_name"), functionName, rel))
}

func appendToFunctionAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	functionName := c.Str("function_name")
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.AppendToFunction(ctx, source, functionName, c.Str("code_to_append"))
	})
	return editResult(err, fmt.Sprintf("Successfully appended code to function '%s' in '%s'.", functionName, rel))
}

func replaceMethodAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	className := c.Str("class_name")
	methodName := c.Str("method_name")
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.ReplaceMethodInClass(ctx, source, className, methodName, c.Str("new_code"))
	})
	return editResult(err, fmt.Sprintf("Successfully replaced method '%s' in class '%s' in '%s'.", methodName, className, rel))
}

func replaceNodeAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	nodeName := c.Str("node_name")
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		return pysrc.ReplaceTopLevel(ctx, source, nodeName, c.Str("new_code"))
	})
	return editResult(err, fmt.Sprintf("Successfully replaced node '%s' in '%s'.", nodeName, rel))
}

func renameInFileAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	oldName, newName := c.Str("old_name"), c.Str("new_name")
	count := 0
	_, err := c.editFile(ctx, abs, func(source string) (string, error) {
		renamed, n, err := pysrc.RenameIdentifier(ctx, source, oldName, newName)
		count = n
		return renamed, err
	})
	if err == nil && count == 0 {
		return fmt.Sprintf("Symbol '%s' was not found in '%s'; nothing renamed.", oldName, rel), nil
	}
	return editResult(err, fmt.Sprintf("Successfully renamed '%s' to '%s' (%d occurrences) in '%s'.", oldName, newName, count, rel))
}

func listFunctionsAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error: File not found at '%s'.", rel), nil
	}
	symbols, err := pysrc.Structure(ctx, string(data))
	if err != nil {
		return fmt.Sprintf("Error: could not parse '%s': %v", rel, err), nil
	}
	var names []string
	for _, sym := range symbols {
		if sym.Kind == "function" {
			names = append(names, sym.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("No top-level functions found in '%s'.", rel), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Functions in '%s':\n", rel)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getCodeForAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	name := c.Str("function_name")
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error: File not found at '%s'.", rel), nil
	}
	source, err := pysrc.NodeSource(ctx, string(data), name)
	if err != nil {
		return fmt.Sprintf("Error: Node '%s' not found as a top-level function or class in '%s'.", name, rel), nil
	}
	return fmt.Sprintf("Source code for '%s' from '%s':\n```python\n%s\n```", name, rel, source), nil
}

func defineFunctionAction(_ context.Context, c *Call) (any, error) {
	return fmt.Sprintf("def %s(%s):\n    pass", c.Str("name"), strings.Join(c.StrList("args"), ", ")), nil
}

func defineClassAction(_ context.Context, c *Call) (any, error) {
	bases := c.StrList("bases")
	if len(bases) == 0 {
		return fmt.Sprintf("class %s:\n    pass", c.Str("name")), nil
	}
	return fmt.Sprintf("class %s(%s):\n    pass", c.Str("name"), strings.Join(bases, ", ")), nil
}
