// Package pysrc parses and edits Python source with tree-sitter. Edits are
// byte-range splices guided by the syntax tree, so untouched code keeps its
// exact formatting.
package pysrc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var (
	ErrSyntax   = errors.New("syntax error")
	ErrNotFound = errors.New("node not found")
	ErrExists   = errors.New("node already exists")
)

// Parse parses Python source into a syntax tree.
func Parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse python source: %w", err)
	}
	return tree, nil
}

// Validate reports whether source is syntactically valid Python.
func Validate(ctx context.Context, source string) error {
	tree, err := Parse(ctx, []byte(source))
	if err != nil {
		return err
	}
	defer tree.Close()
	if tree.RootNode().HasError() {
		return fmt.Errorf("%w in generated python code", ErrSyntax)
	}
	return nil
}

// unwrap returns the definition inside a decorated_definition, or the node
// itself.
func unwrap(node *sitter.Node) *sitter.Node {
	if node.Type() != "decorated_definition" {
		return node
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "function_definition" || child.Type() == "class_definition" {
			return child
		}
	}
	return node
}

// definitionName returns the declared name of a (possibly decorated)
// function or class definition, or "".
func definitionName(node *sitter.Node, source []byte) string {
	inner := unwrap(node)
	name := inner.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return name.Content(source)
}

// findTopLevel locates a top-level definition by name. The returned node
// spans decorators when present, so splices replace the full construct.
func findTopLevel(root *sitter.Node, source []byte, name string) *sitter.Node {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			if definitionName(child, source) == name {
				return child
			}
		}
	}
	return nil
}

// findMethod locates a method inside a class body, decorators included.
func findMethod(class *sitter.Node, source []byte, name string) *sitter.Node {
	body := unwrap(class).ChildByFieldName("body")
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition", "decorated_definition":
			if definitionName(child, source) == name {
				return child
			}
		}
	}
	return nil
}

// Symbol describes one definition for structure summaries.
type Symbol struct {
	Kind      string   `json:"kind"` // "class" or "function"
	Name      string   `json:"name"`
	StartLine int      `json:"start_line"` // 1-based
	EndLine   int      `json:"end_line"`
	Signature string   `json:"signature"`
	Docstring string   `json:"docstring,omitempty"`
	Methods   []Symbol `json:"methods,omitempty"`
}

func signatureOf(def *sitter.Node, source []byte) string {
	name := def.ChildByFieldName("name")
	params := def.ChildByFieldName("parameters")
	if name == nil {
		return ""
	}
	sig := name.Content(source)
	if params != nil {
		sig += params.Content(source)
	}
	return sig
}

func docstringOf(def *sitter.Node, source []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	expr := first.NamedChild(0)
	if expr.Type() != "string" {
		return ""
	}
	text := expr.Content(source)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

func symbolFor(node *sitter.Node, source []byte) (Symbol, bool) {
	def := unwrap(node)
	name := definitionName(node, source)
	if name == "" {
		return Symbol{}, false
	}
	kind := "function"
	if def.Type() == "class_definition" {
		kind = "class"
	}
	sym := Symbol{
		Kind:      kind,
		Name:      name,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Signature: signatureOf(def, source),
		Docstring: docstringOf(def, source),
	}
	if kind == "class" {
		body := def.ChildByFieldName("body")
		if body != nil {
			for i := 0; i < int(body.NamedChildCount()); i++ {
				child := body.NamedChild(i)
				if child.Type() == "function_definition" || child.Type() == "decorated_definition" {
					if m, ok := symbolFor(child, source); ok {
						sym.Methods = append(sym.Methods, m)
					}
				}
			}
		}
	}
	return sym, true
}

// Structure lists the top-level classes and functions in source, with
// methods nested under their classes.
func Structure(ctx context.Context, source string) ([]Symbol, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()
	var symbols []Symbol
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			if sym, ok := symbolFor(child, src); ok {
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols, nil
}

// Summarize renders a human-readable capability summary of source, suitable
// for prompt context.
func Summarize(ctx context.Context, relPath, source string) (string, error) {
	symbols, err := Structure(ctx, source)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", relPath)
	if len(symbols) == 0 {
		b.WriteString("  (no top-level definitions)\n")
	}
	for _, sym := range symbols {
		if sym.Kind == "class" {
			fmt.Fprintf(&b, "  class %s (lines %d-%d)\n", sym.Name, sym.StartLine, sym.EndLine)
			if sym.Docstring != "" {
				fmt.Fprintf(&b, "    %s\n", firstLine(sym.Docstring))
			}
			for _, m := range sym.Methods {
				fmt.Fprintf(&b, "    def %s\n", m.Signature)
			}
		} else {
			fmt.Fprintf(&b, "  def %s (lines %d-%d)\n", sym.Signature, sym.StartLine, sym.EndLine)
			if sym.Docstring != "" {
				fmt.Fprintf(&b, "    %s\n", firstLine(sym.Docstring))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Overview lists a file's top-level imports, functions, and classes by
// name, each set sorted and deduplicated. Returns ErrSyntax when the file
// does not parse cleanly.
func Overview(ctx context.Context, source string) (imports, functions, classes []string, err error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return nil, nil, nil, ErrSyntax
	}
	importSet := map[string]bool{}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				item := child.NamedChild(j)
				switch item.Type() {
				case "dotted_name":
					importSet[item.Content(src)] = true
				case "aliased_import":
					if name := item.ChildByFieldName("name"); name != nil {
						importSet[name.Content(src)] = true
					}
				}
			}
		case "import_from_statement":
			if module := child.ChildByFieldName("module_name"); module != nil {
				importSet[module.Content(src)] = true
			}
		case "function_definition", "decorated_definition":
			if name := definitionName(child, src); name != "" {
				if unwrap(child).Type() == "class_definition" {
					classes = append(classes, name)
				} else {
					functions = append(functions, name)
				}
			}
		case "class_definition":
			if name := definitionName(child, src); name != "" {
				classes = append(classes, name)
			}
		}
	}
	for name := range importSet {
		imports = append(imports, name)
	}
	sort.Strings(imports)
	sort.Strings(functions)
	sort.Strings(classes)
	return imports, functions, classes, nil
}

// Node is one top-level definition with its exact source text, decorators
// included.
type Node struct {
	Kind   string // "class" or "function"
	Name   string
	Source string
}

// TopLevelNodes lists the top-level function and class definitions in
// source with their full text. Returns ErrSyntax when the file does not
// parse cleanly, so callers can fall back to cruder handling.
func TopLevelNodes(ctx context.Context, source string) ([]Node, error) {
	src := []byte(source)
	tree, err := Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return nil, ErrSyntax
	}
	var nodes []Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			name := definitionName(child, src)
			if name == "" {
				continue
			}
			kind := "function"
			if unwrap(child).Type() == "class_definition" {
				kind = "class"
			}
			nodes = append(nodes, Node{Kind: kind, Name: name, Source: child.Content(src)})
		}
	}
	return nodes, nil
}

// NodeSource returns the exact source text of a named top-level function or
// class, decorators included.
func NodeSource(ctx context.Context, source, name string) (string, error) {
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
	return node.Content(src), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
