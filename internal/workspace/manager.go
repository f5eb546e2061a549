package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"aura/internal/logging"
)

var (
	ErrNotFound = errors.New("project not found")
	ErrExists   = errors.New("project already exists")
	ErrInvalid  = errors.New("invalid project name")
)

// ExcludedDirs are never listed, indexed, or diffed.
var ExcludedDirs = map[string]bool{
	".git":         true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".rag_db":      true,
	"node_modules": true,
}

// TreeNode is one entry of a file-tree snapshot, shaped for the client.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Kind     string     `json:"kind"` // "file" or "dir"
	Children []TreeNode `json:"children,omitempty"`
}

// Manager owns one user's workspace tree: a directory per project under
// <workspaces_root>/<user_id>/. At most one project is active at a time.
type Manager struct {
	userRoot   string
	activeName string
	activePath string
	log        logging.Logger
}

// NewManager creates the manager for one user, creating the user's
// workspace root if needed.
func NewManager(workspacesRoot string, userID int64, log logging.Logger) (*Manager, error) {
	userRoot := filepath.Join(workspacesRoot, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(userRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{userRoot: userRoot, log: logging.OrNop(log)}, nil
}

func validName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// NewProject creates a fresh project directory and makes it active.
func (m *Manager) NewProject(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	path := filepath.Join(m.userRoot, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create project %s: %w", name, err)
	}
	m.activeName, m.activePath = name, path
	m.log.Info("created project %q at %s", name, path)
	return path, nil
}

// LoadProject makes an existing project active and returns its absolute path.
func (m *Manager) LoadProject(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	path := filepath.Join(m.userRoot, name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m.activeName, m.activePath = name, path
	return path, nil
}

// ActiveName returns the name of the active project, or "".
func (m *Manager) ActiveName() string { return m.activeName }

// ActivePath returns the absolute path of the active project, or "".
func (m *Manager) ActivePath() string { return m.activePath }

// ListProjects enumerates the user's project directories, sorted.
func (m *Manager) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(m.userRoot)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteProject removes a project directory recursively.
func (m *Manager) DeleteProject(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	path := filepath.Join(m.userRoot, name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}
	if m.activeName == name {
		m.activeName, m.activePath = "", ""
	}
	m.log.Info("deleted project %q", name)
	return nil
}

// Resolve sandboxes a candidate path against the active project.
func (m *Manager) Resolve(candidate string) (string, error) {
	if m.activePath == "" {
		return "", errors.New("no active project")
	}
	return Resolve(m.activePath, candidate)
}

// Rel converts an absolute in-project path to its canonical relative form
// (forward slashes). Paths outside the project come back unchanged.
func (m *Manager) Rel(abs string) string {
	if m.activePath == "" {
		return abs
	}
	rel, err := filepath.Rel(m.activePath, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ReadFile reads a file from the active project. Returns ErrNotFound if the
// file does not exist.
func (m *Manager) ReadFile(relative string) (string, error) {
	abs, err := m.Resolve(relative)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, relative)
		}
		return "", fmt.Errorf("read %s: %w", relative, err)
	}
	return string(data), nil
}

// WriteFile writes a file inside the active project, creating parent
// directories. Returns the absolute path written.
func (m *Manager) WriteFile(relative, content string) (string, error) {
	abs, err := m.Resolve(relative)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", relative, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", relative, err)
	}
	return abs, nil
}

// FileTree returns a recursive snapshot of the active project, excluding
// the standard tooling directories.
func (m *Manager) FileTree() ([]TreeNode, error) {
	if m.activePath == "" {
		return nil, errors.New("no active project")
	}
	return buildTree(m.activePath, "")
}

func buildTree(root, relDir string) ([]TreeNode, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(relDir)))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", relDir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		// Directories first, then lexical, matching the client's tree view.
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	nodes := make([]TreeNode, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() && ExcludedDirs[name] {
			continue
		}
		relPath := name
		if relDir != "" {
			relPath = relDir + "/" + name
		}
		node := TreeNode{Name: name, Path: relPath}
		if entry.IsDir() {
			node.Kind = "dir"
			children, err := buildTree(root, relPath)
			if err != nil {
				return nil, err
			}
			node.Children = children
		} else {
			node.Kind = "file"
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ListFiles returns the sorted relative paths of every file in the active
// project, excluding the standard tooling directories.
func (m *Manager) ListFiles() ([]string, error) {
	if m.activePath == "" {
		return nil, errors.New("no active project")
	}
	var files []string
	err := filepath.WalkDir(m.activePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.activePath && ExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, m.Rel(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
