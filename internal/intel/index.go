// Package intel maintains a cross-file symbol index over the project's
// Python sources: where things are defined, where they are called, and who
// calls whom.
package intel

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"aura/internal/logging"
	"aura/internal/pysrc"
)

// Symbol is one definition site.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "class", "function" or "method"
	Path string `json:"path"`
	Line int    `json:"line"` // 1-based
}

// Reference is one call site of a symbol.
type Reference struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Caller string `json:"caller,omitempty"` // enclosing function, if any
}

type fileFacts struct {
	defs  []Symbol
	refs  []Reference
	calls map[string][]string // enclosing function → callee names
}

// Index holds the project-wide symbol tables, keyed by bare name.
type Index struct {
	mu     sync.RWMutex
	byFile map[string]fileFacts
	log    logging.Logger
}

func New(log logging.Logger) *Index {
	return &Index{
		byFile: make(map[string]fileFacts),
		log:    logging.OrNop(log),
	}
}

// UpdateFile replaces everything recorded for relPath with facts extracted
// from source. Unparseable files clear their entry.
func (x *Index) UpdateFile(ctx context.Context, relPath, source string) error {
	facts, err := extract(ctx, relPath, source)
	if err != nil {
		x.RemoveFile(relPath)
		return fmt.Errorf("index %s: %w", relPath, err)
	}
	x.mu.Lock()
	x.byFile[relPath] = facts
	x.mu.Unlock()
	return nil
}

// RemoveFile drops every fact recorded for relPath.
func (x *Index) RemoveFile(relPath string) {
	x.mu.Lock()
	delete(x.byFile, relPath)
	x.mu.Unlock()
}

// BuildProject rebuilds the index from every Python file in files.
func (x *Index) BuildProject(ctx context.Context, files []string, read func(string) (string, error)) error {
	x.mu.Lock()
	x.byFile = make(map[string]fileFacts)
	x.mu.Unlock()

	indexed := 0
	for _, relPath := range files {
		if filepath.Ext(relPath) != ".py" {
			continue
		}
		source, err := read(relPath)
		if err != nil {
			x.log.Warn("skipping unreadable file %s: %v", relPath, err)
			continue
		}
		if err := x.UpdateFile(ctx, relPath, source); err != nil {
			x.log.Warn("skipping unparseable file %s: %v", relPath, err)
			continue
		}
		indexed++
	}
	x.log.Info("symbol index built over %d python files", indexed)
	return nil
}

// FindDefinition returns every definition site for name, sorted by path.
func (x *Index) FindDefinition(name string) []Symbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Symbol
	for _, facts := range x.byFile {
		for _, def := range facts.defs {
			if def.Name == name {
				out = append(out, def)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// FindReferences returns every call site of name, sorted by path then line.
func (x *Index) FindReferences(name string) []Reference {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Reference
	for _, facts := range x.byFile {
		for _, ref := range facts.refs {
			if ref.Name == name {
				out = append(out, ref)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Callees returns the sorted distinct names called from functionName.
func (x *Index) Callees(functionName string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[string]bool)
	for _, facts := range x.byFile {
		for _, callee := range facts.calls[functionName] {
			seen[callee] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Symbols returns every definition in the index, sorted by path then line.
func (x *Index) Symbols() []Symbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Symbol
	for _, facts := range x.byFile {
		out = append(out, facts.defs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func extract(ctx context.Context, relPath, source string) (fileFacts, error) {
	src := []byte(source)
	tree, err := pysrc.Parse(ctx, src)
	if err != nil {
		return fileFacts{}, err
	}
	defer tree.Close()
	if tree.RootNode().HasError() {
		return fileFacts{}, pysrc.ErrSyntax
	}

	facts := fileFacts{calls: make(map[string][]string)}
	var walk func(node *sitter.Node, enclosingFn, enclosingClass string)
	walk = func(node *sitter.Node, enclosingFn, enclosingClass string) {
		nextFn, nextClass := enclosingFn, enclosingClass
		switch node.Type() {
		case "function_definition":
			if n := node.ChildByFieldName("name"); n != nil {
				name := n.Content(src)
				kind := "function"
				if enclosingClass != "" {
					kind = "method"
				}
				facts.defs = append(facts.defs, Symbol{
					Name: name,
					Kind: kind,
					Path: relPath,
					Line: int(node.StartPoint().Row) + 1,
				})
				nextFn = name
			}
		case "class_definition":
			if n := node.ChildByFieldName("name"); n != nil {
				name := n.Content(src)
				facts.defs = append(facts.defs, Symbol{
					Name: name,
					Kind: "class",
					Path: relPath,
					Line: int(node.StartPoint().Row) + 1,
				})
				nextClass = name
			}
		case "call":
			if callee := calleeName(node, src); callee != "" {
				facts.refs = append(facts.refs, Reference{
					Name:   callee,
					Path:   relPath,
					Line:   int(node.StartPoint().Row) + 1,
					Caller: enclosingFn,
				})
				if enclosingFn != "" {
					facts.calls[enclosingFn] = append(facts.calls[enclosingFn], callee)
				}
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i), nextFn, nextClass)
		}
	}
	walk(tree.RootNode(), "", "")
	return facts, nil
}

// calleeName resolves the called name: bare identifiers as-is, attribute
// calls by their final segment (obj.save() counts as a call of save).
func calleeName(call *sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src)
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(src)
		}
	}
	return strings.TrimSpace(fn.Content(src))
}
