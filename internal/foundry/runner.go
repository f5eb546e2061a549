package foundry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aura/internal/hub"
	"aura/internal/logging"
	"aura/internal/metrics"
)

// pathParamKeys are argument names the runner resolves against the active
// project sandbox before the action runs.
var pathParamKeys = []string{"path", "source_path", "destination_path", "requirements_path"}

// filesystemTools trigger a file_tree_updated broadcast after success.
var filesystemTools = map[string]bool{
	"write_file":                     true,
	"append_to_file":                 true,
	"create_directory":               true,
	"create_package_init":            true,
	"delete_directory":               true,
	"copy_file":                      true,
	"move_file":                      true,
	"delete_file":                    true,
	"add_dependency_to_requirements": true,
}

// ToolCall is a parsed model instruction to run one tool.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Runner validates tool calls, sandboxes their paths, runs them, and emits
// the UI broadcasts tied to filesystem mutations.
type Runner struct {
	registry *Registry
	deps     *Deps
	log      logging.Logger
}

func NewRunner(registry *Registry, deps *Deps, log logging.Logger) *Runner {
	return &Runner{registry: registry, deps: deps, log: logging.OrNop(log)}
}

// Deps exposes the runner's service bundle to the conductor.
func (r *Runner) Deps() *Deps { return r.deps }

// Registry exposes the tool catalog.
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes one tool call. The returned result is what the model gets
// fed back; ok reports whether the call counts as a success.
func (r *Runner) Run(ctx context.Context, call ToolCall, userID int64, taskID int, userIdea string) (result any, ok bool) {
	name := call.ToolName
	defer func() {
		outcome := "success"
		if !ok {
			outcome = "failure"
		}
		metrics.ToolRuns.WithLabelValues(name, outcome).Inc()
	}()

	spec, found := r.registry.Get(name)
	if !found {
		return fmt.Sprintf("Error: tool '%s' not found in the registry.", name), false
	}
	if err := r.registry.ValidateArgs(name, call.Arguments); err != nil {
		return fmt.Sprintf("Error: %v", err), false
	}

	args := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	if errMsg := r.resolvePaths(args); errMsg != "" {
		return errMsg, false
	}

	r.log.Info("executing tool %s with params %v", name, displayParams(r, args))

	if name == "write_file" {
		if abs, isStr := args["path"].(string); isStr && abs != "" {
			r.deps.Hub.BroadcastToUser(hub.FileWritingPending(r.deps.Workspace.Rel(abs)), userID)
			// Give the client a beat to surface the pending state before
			// content starts streaming.
			time.Sleep(100 * time.Millisecond)
		}
	}

	c := &Call{Args: args, Deps: r.deps, UserID: userID, TaskID: taskID, UserIdea: userIdea}
	result, err := spec.Action(ctx, c)
	if err != nil {
		r.log.Error("tool %s failed: %v", name, err)
		return fmt.Sprintf("Error executing tool '%s': %v", name, err), false
	}
	ok = Classify(result)

	if ok && filesystemTools[name] {
		r.broadcastAfterMutation(ctx, name, args, userID)
	}
	r.log.Info("tool %s finished (success=%v)", name, ok)
	return result, ok
}

// RunFromMap is Run for a loosely typed tool-call dict, as parsed from
// model output.
func (r *Runner) RunFromMap(ctx context.Context, raw map[string]any, userID int64, taskID int, userIdea string) (any, bool) {
	name, _ := raw["tool_name"].(string)
	args, _ := raw["arguments"].(map[string]any)
	return r.Run(ctx, ToolCall{ToolName: name, Arguments: args}, userID, taskID, userIdea)
}

func (r *Runner) resolvePaths(args map[string]any) string {
	for _, key := range pathParamKeys {
		raw, present := args[key]
		if !present {
			continue
		}
		relPath, isStr := raw.(string)
		if !isStr || relPath == "" {
			continue
		}
		abs, err := r.deps.Workspace.Resolve(relPath)
		if err != nil {
			return fmt.Sprintf("Error: path '%s' is not allowed: %v", relPath, err)
		}
		args[key] = abs
	}
	return ""
}

func (r *Runner) broadcastAfterMutation(_ context.Context, name string, args map[string]any, userID int64) {
	tree, err := r.deps.Workspace.FileTree()
	if err != nil {
		r.log.Warn("could not build file tree after %s: %v", name, err)
	} else {
		r.deps.Hub.BroadcastToUser(hub.FileTreeUpdated(tree), userID)
	}
	if name != "write_file" {
		return
	}
	abs, isStr := args["path"].(string)
	if !isStr || abs == "" {
		return
	}
	rel := r.deps.Workspace.Rel(abs)
	content, err := r.deps.Workspace.ReadFile(rel)
	if err != nil {
		r.log.Error("could not read %s after write for UI update: %v", rel, err)
		return
	}
	r.deps.Hub.BroadcastToUser(hub.FileContentUpdated(rel, content), userID)
}

// Classify decides whether a tool result counts as a success. String
// results are failures when they start with "error" or mention "failed";
// dict results fail on an explicit failure status; nil is always a failure.
func Classify(result any) bool {
	switch v := result.(type) {
	case nil:
		return false
	case string:
		lower := strings.ToLower(strings.TrimSpace(v))
		if strings.HasPrefix(lower, "error") || strings.Contains(lower, "failed") {
			return false
		}
	case map[string]any:
		if status, _ := v["status"].(string); status == "failure" || status == "error" {
			return false
		}
	}
	return true
}

// displayParams strips absolute workspace prefixes for log lines.
func displayParams(r *Runner, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, key := range pathParamKeys {
		if abs, isStr := out[key].(string); isStr {
			out[key] = r.deps.Workspace.Rel(abs)
		}
	}
	return out
}
