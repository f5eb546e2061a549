package pysrc

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// splice replaces source[start:end) with replacement.
func splice(source []byte, start, end uint32, replacement string) string {
	var b strings.Builder
	b.Grow(len(source) - int(end-start) + len(replacement))
	b.Write(source[:start])
	b.WriteString(replacement)
	b.Write(source[end:])
	return b.String()
}

// lineStart returns the byte offset of the first character of the line
// containing off.
func lineStart(source []byte, off uint32) uint32 {
	for off > 0 && source[off-1] != '\n' {
		off--
	}
	return off
}

// lineEnd returns the byte offset just past the newline terminating the
// line containing off, or len(source) for a final unterminated line.
func lineEnd(source []byte, off uint32) uint32 {
	for int(off) < len(source) {
		if source[off] == '\n' {
			return off + 1
		}
		off++
	}
	return off
}

// indentAt returns the literal whitespace prefix of the line containing off.
func indentAt(source []byte, off uint32) string {
	start := lineStart(source, off)
	end := start
	for int(end) < len(source) && (source[end] == ' ' || source[end] == '\t') {
		end++
	}
	return string(source[start:end])
}

// indentLines prefixes every non-blank line of code with indent.
func indentLines(code, indent string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// outermost returns the node including its decorators.
func outermost(def *sitter.Node) *sitter.Node {
	if parent := def.Parent(); parent != nil && parent.Type() == "decorated_definition" {
		return parent
	}
	return def
}

// findFunctionAnywhere locates the first function definition named name at
// any nesting depth.
func findFunctionAnywhere(root *sitter.Node, source []byte, name string) *sitter.Node {
	var found *sitter.Node
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if found != nil {
			return
		}
		if node.Type() == "function_definition" {
			if n := node.ChildByFieldName("name"); n != nil && n.Content(source) == name {
				found = node
				return
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return found
}

// bodyIndent returns the indentation of a block body's statements.
func bodyIndent(body *sitter.Node, source []byte, fallback string) string {
	if body != nil && body.NamedChildCount() > 0 {
		return indentAt(source, body.NamedChild(0).StartByte())
	}
	return fallback
}

// checked validates edited source before handing it back; a splice that
// produced invalid Python is an internal error, not something to write out.
func checked(ctx context.Context, edited, op string) (string, error) {
	if err := Validate(ctx, edited); err != nil {
		return "", fmt.Errorf("%s produced invalid python: %w", op, err)
	}
	return edited, nil
}

// AddImport inserts an import statement after the last existing import.
// Files without imports get it after the module docstring, or at the top.
// The call is idempotent: an identical line is left alone.
func AddImport(ctx context.Context, source, importStatement string) (string, error) {
	importStatement = strings.TrimSpace(importStatement)
	for _, line := range strings.Split(source, "\n") {
		if strings.TrimSpace(line) == importStatement {
			return source, nil
		}
	}
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	root := tree.RootNode()

	var anchor *sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			anchor = child
		}
	}
	var at uint32
	switch {
	case anchor != nil:
		at = lineEnd(src, anchor.EndByte()-1)
	case root.NamedChildCount() > 0 && isModuleDocstring(root.NamedChild(0)):
		at = lineEnd(src, root.NamedChild(0).EndByte()-1)
	default:
		at = 0
	}
	insert := importStatement + "\n"
	if at > 0 && src[at-1] != '\n' {
		insert = "\n" + insert
	}
	return checked(ctx, splice(src, at, at, insert), "add_import")
}

func isModuleDocstring(node *sitter.Node) bool {
	return node.Type() == "expression_statement" &&
		node.NamedChildCount() > 0 &&
		node.NamedChild(0).Type() == "string"
}

func addTopLevel(ctx context.Context, source, code, wantType, op string) (string, error) {
	code = strings.TrimRight(strings.TrimLeft(code, "\n"), "\n")
	snippet := []byte(code)
	snippetTree, err := Parse(ctx, snippet)
	if err != nil {
		return "", err
	}
	defer snippetTree.Close()
	snippetRoot := snippetTree.RootNode()
	if snippetRoot.HasError() || snippetRoot.NamedChildCount() == 0 {
		return "", fmt.Errorf("%w in provided code", ErrSyntax)
	}
	def := unwrap(snippetRoot.NamedChild(0))
	if def.Type() != wantType {
		return "", fmt.Errorf("provided code is a %s, expected %s", def.Type(), wantType)
	}
	name := definitionName(snippetRoot.NamedChild(0), snippet)

	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	if name != "" && findTopLevel(tree.RootNode(), src, name) != nil {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}

	out := strings.TrimRight(source, "\n")
	if out == "" {
		return checked(ctx, code+"\n", op)
	}
	return checked(ctx, out+"\n\n\n"+code+"\n", op)
}

// AddFunction appends a top-level function definition to source.
func AddFunction(ctx context.Context, source, code string) (string, error) {
	return addTopLevel(ctx, source, code, "function_definition", "add_function")
}

// AddClass appends a top-level class definition to source.
func AddClass(ctx context.Context, source, code string) (string, error) {
	return addTopLevel(ctx, source, code, "class_definition", "add_class")
}

// ReplaceTopLevel swaps the named top-level function or class for code,
// decorators included.
func ReplaceTopLevel(ctx context.Context, source, name, code string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	node := findTopLevel(tree.RootNode(), src, name)
	if node == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	code = strings.TrimRight(strings.TrimLeft(code, "\n"), "\n")
	return checked(ctx, splice(src, node.StartByte(), node.EndByte(), code), "replace_node")
}

// DeleteTopLevel removes the named top-level function or class, its
// decorators, and the line it ends on.
func DeleteTopLevel(ctx context.Context, source, name string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	node := findTopLevel(tree.RootNode(), src, name)
	if node == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	start := lineStart(src, node.StartByte())
	end := lineEnd(src, node.EndByte()-1)
	// Swallow blank separator lines after the removed block.
	for int(end) < len(src) {
		next := lineEnd(src, end)
		if strings.TrimSpace(string(src[end:next])) != "" {
			break
		}
		end = next
	}
	return checked(ctx, splice(src, start, end, ""), "delete_node")
}

// AddMethodToClass appends a method to the end of a class body, indented to
// match the existing methods.
func AddMethodToClass(ctx context.Context, source, className, methodCode string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	class := findTopLevel(tree.RootNode(), src, className)
	if class == nil {
		return "", fmt.Errorf("%w: class %s", ErrNotFound, className)
	}
	body := unwrap(class).ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return "", fmt.Errorf("%w: class %s has no body", ErrNotFound, className)
	}
	indent := bodyIndent(body, src, "    ")
	last := body.NamedChild(int(body.NamedChildCount()) - 1)
	at := lineEnd(src, last.EndByte()-1)
	insert := "\n" + indentLines(methodCode, indent) + "\n"
	return checked(ctx, splice(src, at, at, insert), "add_method_to_class")
}

// ReplaceMethodInClass swaps a named method (decorators included) for new
// code, re-indented to the class body.
func ReplaceMethodInClass(ctx context.Context, source, className, methodName, code string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	class := findTopLevel(tree.RootNode(), src, className)
	if class == nil {
		return "", fmt.Errorf("%w: class %s", ErrNotFound, className)
	}
	method := findMethod(class, src, methodName)
	if method == nil {
		return "", fmt.Errorf("%w: method %s.%s", ErrNotFound, className, methodName)
	}
	indent := indentAt(src, method.StartByte())
	start := lineStart(src, method.StartByte())
	end := lineEnd(src, method.EndByte()-1)
	insert := indentLines(dedent(code), indent) + "\n"
	return checked(ctx, splice(src, start, end, insert), "replace_method_in_class")
}

// AppendToFunction adds statements to the end of a function body. The
// function may live at any nesting depth; the first match by name wins.
func AppendToFunction(ctx context.Context, source, functionName, statements string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	fn := findFunctionAnywhere(tree.RootNode(), src, functionName)
	if fn == nil {
		return "", fmt.Errorf("%w: function %s", ErrNotFound, functionName)
	}
	body := fn.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return "", fmt.Errorf("%w: function %s has no body", ErrNotFound, functionName)
	}
	indent := bodyIndent(body, src, indentAt(src, fn.StartByte())+"    ")
	last := body.NamedChild(int(body.NamedChildCount()) - 1)
	at := lineEnd(src, last.EndByte()-1)
	insert := indentLines(dedent(statements), indent) + "\n"
	return checked(ctx, splice(src, at, at, insert), "append_to_function")
}

// AddParameterToFunction appends a parameter to a function's signature.
// A parameter with the same name is left alone.
func AddParameterToFunction(ctx context.Context, source, functionName, parameter string) (string, error) {
	parameter = strings.TrimSpace(parameter)
	paramName := parameter
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(paramName, sep); idx >= 0 {
			paramName = paramName[:idx]
		}
	}
	paramName = strings.TrimSpace(paramName)

	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	fn := findFunctionAnywhere(tree.RootNode(), src, functionName)
	if fn == nil {
		return "", fmt.Errorf("%w: function %s", ErrNotFound, functionName)
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return "", fmt.Errorf("%w: function %s has no parameter list", ErrNotFound, functionName)
	}
	existing := params.Content(src)
	if containsParam(existing, paramName) {
		return source, nil
	}
	insert := parameter
	if strings.TrimSpace(strings.Trim(existing, "()")) != "" {
		insert = ", " + parameter
	}
	at := params.EndByte() - 1 // just before the closing paren
	return checked(ctx, splice(src, at, at, insert), "add_parameter_to_function")
}

func containsParam(paramList, name string) bool {
	inner := strings.Trim(paramList, "()")
	for _, part := range strings.Split(inner, ",") {
		candidate := strings.TrimSpace(part)
		candidate = strings.TrimLeft(candidate, "*")
		for _, sep := range []string{":", "="} {
			if idx := strings.Index(candidate, sep); idx >= 0 {
				candidate = candidate[:idx]
			}
		}
		if strings.TrimSpace(candidate) == name {
			return true
		}
	}
	return false
}

// AddDecoratorToFunction inserts a decorator line directly above a function,
// outside any decorators it already has.
func AddDecoratorToFunction(ctx context.Context, source, functionName, decorator string) (string, error) {
	decorator = strings.TrimSpace(decorator)
	if !strings.HasPrefix(decorator, "@") {
		decorator = "@" + decorator
	}
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	fn := findFunctionAnywhere(tree.RootNode(), src, functionName)
	if fn == nil {
		return "", fmt.Errorf("%w: function %s", ErrNotFound, functionName)
	}
	target := outermost(fn)
	indent := indentAt(src, target.StartByte())
	at := lineStart(src, target.StartByte())
	return checked(ctx, splice(src, at, at, indent+decorator+"\n"), "add_decorator_to_function")
}

// AddAttributeToInit assigns self.<attribute> = <value> at the end of a
// class's __init__, creating a minimal __init__ when the class lacks one.
func AddAttributeToInit(ctx context.Context, source, className, attribute, value string) (string, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	class := findTopLevel(tree.RootNode(), src, className)
	if class == nil {
		return "", fmt.Errorf("%w: class %s", ErrNotFound, className)
	}
	assignment := fmt.Sprintf("self.%s = %s", attribute, value)

	if init := findMethod(class, src, "__init__"); init != nil {
		body := unwrap(init).ChildByFieldName("body")
		if body == nil || body.NamedChildCount() == 0 {
			return "", fmt.Errorf("%w: %s.__init__ has no body", ErrNotFound, className)
		}
		indent := bodyIndent(body, src, indentAt(src, init.StartByte())+"    ")
		last := body.NamedChild(int(body.NamedChildCount()) - 1)
		at := lineEnd(src, last.EndByte()-1)
		return checked(ctx, splice(src, at, at, indent+assignment+"\n"), "add_attribute_to_init")
	}

	body := unwrap(class).ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return "", fmt.Errorf("%w: class %s has no body", ErrNotFound, className)
	}
	indent := bodyIndent(body, src, "    ")
	method := indent + "def __init__(self):\n" + indent + "    " + assignment + "\n"
	first := body.NamedChild(0)
	at := lineStart(src, first.StartByte())
	return checked(ctx, splice(src, at, at, method+"\n"), "add_attribute_to_init")
}

// RenameIdentifier renames every bare occurrence of oldName. Attribute
// accesses (obj.oldName) keep their name; only standalone identifiers
// change.
func RenameIdentifier(ctx context.Context, source, oldName, newName string) (string, int, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return "", 0, err
	}
	defer tree.Close()

	type span struct{ start, end uint32 }
	var spans []span
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "identifier" && node.Content(src) == oldName {
			if parent := node.Parent(); parent == nil || !isAttributePosition(parent, node) {
				spans = append(spans, span{node.StartByte(), node.EndByte()})
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	if len(spans) == 0 {
		return source, 0, nil
	}
	// Splice back-to-front so earlier offsets stay valid.
	out := source
	for i := len(spans) - 1; i >= 0; i-- {
		out = splice([]byte(out), spans[i].start, spans[i].end, newName)
	}
	checkedOut, err := checked(ctx, out, "rename_symbol")
	if err != nil {
		return "", 0, err
	}
	return checkedOut, len(spans), nil
}

func isAttributePosition(parent, node *sitter.Node) bool {
	if parent.Type() != "attribute" {
		return false
	}
	attr := parent.ChildByFieldName("attribute")
	return attr != nil && attr.StartByte() == node.StartByte() && attr.EndByte() == node.EndByte()
}

// dedent strips the common leading whitespace of the non-blank lines.
func dedent(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	common := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= 0 {
		return strings.Join(lines, "\n")
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = line[common:]
	}
	return strings.Join(lines, "\n")
}
