// Package foundry holds the agent's tool catalog: declarative specs with
// JSON-schema parameters, and a runner that validates, sandboxes, and
// executes tool calls on behalf of the conductor.
package foundry

import (
	"context"
	"fmt"
	"os"

	"aura/internal/hub"
	"aura/internal/intel"
	"aura/internal/logging"
	"aura/internal/missionlog"
	"aura/internal/rag"
	"aura/internal/snapshot"
	"aura/internal/workspace"
)

// CodeGenerator produces file content from a task description. The
// development team implements it; tools depend on the interface so the
// foundry never imports the agent layer.
type CodeGenerator interface {
	GenerateCodeForTask(ctx context.Context, userID int64, relPath, taskDescription, userIdea string, taskID int) (string, error)
}

// Deps bundles the per-session services every tool may need.
type Deps struct {
	Workspace  *workspace.Manager
	MissionLog *missionlog.Store
	RAG        *rag.Store
	Intel      *intel.Index
	Hub        *hub.Hub
	Snapshots  *snapshot.Tracker
	CodeGen    CodeGenerator
	Log        logging.Logger
}

// Call is the execution context handed to a tool action. Args hold the
// validated parameters; path parameters arrive already resolved to absolute
// sandboxed paths.
type Call struct {
	Args     map[string]any
	Deps     *Deps
	UserID   int64
	TaskID   int
	UserIdea string
}

// Str returns a string argument, or "" when absent.
func (c *Call) Str(key string) string {
	s, _ := c.Args[key].(string)
	return s
}

// StrDefault returns a string argument with a fallback for empty values.
func (c *Call) StrDefault(key, fallback string) string {
	if s := c.Str(key); s != "" {
		return s
	}
	return fallback
}

// Int returns an integer argument; JSON numbers decode as float64.
func (c *Call) Int(key string) (int, bool) {
	switch v := c.Args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Bool returns a boolean argument, defaulting to false.
func (c *Call) Bool(key string) bool {
	b, _ := c.Args[key].(bool)
	return b
}

// StrList returns a []string argument decoded from a JSON array.
func (c *Call) StrList(key string) []string {
	raw, ok := c.Args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns an object argument.
func (c *Call) Map(key string) map[string]any {
	m, _ := c.Args[key].(map[string]any)
	return m
}

// snapshotBefore records a file's current content before a mutation, keyed
// by its project-relative path. Missing files record as not-yet-existing.
func (c *Call) snapshotBefore(absPath string) {
	if c.Deps.Snapshots == nil {
		return
	}
	rel := c.Deps.Workspace.Rel(absPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		c.Deps.Snapshots.RecordBefore(rel, "", false)
		return
	}
	c.Deps.Snapshots.RecordBefore(rel, string(data), true)
}

// reindex refreshes the retrieval and symbol indexes for a Python file
// after a successful edit. Index failures are logged, not surfaced: the
// edit itself already happened.
func (c *Call) reindex(ctx context.Context, absPath, content string) {
	rel := c.Deps.Workspace.Rel(absPath)
	if c.Deps.RAG != nil && rag.IsIndexable(rel) {
		if err := c.Deps.RAG.ReindexFile(ctx, rel, content); err != nil {
			c.Deps.Log.Warn("reindex %s for retrieval failed: %v", rel, err)
		}
	}
	if c.Deps.Intel != nil {
		if err := c.Deps.Intel.UpdateFile(ctx, rel, content); err != nil {
			c.Deps.Log.Debug("symbol index update for %s failed: %v", rel, err)
		}
	}
}

// editFile is the shared shape of the structural editing tools: read,
// transform, write back, reindex. Returns the edited content.
func (c *Call) editFile(ctx context.Context, absPath string, transform func(source string) (string, error)) (string, error) {
	rel := c.Deps.Workspace.Rel(absPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("file not found at '%s'", rel)
	}
	edited, err := transform(string(data))
	if err != nil {
		return "", err
	}
	c.snapshotBefore(absPath)
	if err := os.WriteFile(absPath, []byte(edited), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	c.reindex(ctx, absPath, edited)
	return edited, nil
}
