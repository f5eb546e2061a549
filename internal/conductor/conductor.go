// Package conductor drives mission execution: it walks the mission log
// task by task, asks the development team to pick a tool for each one,
// runs it through the foundry, and recovers from failures with a retry
// and a strategic re-plan before giving up.
package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"aura/internal/foundry"
	"aura/internal/hub"
	"aura/internal/logging"
	"aura/internal/metrics"
	"aura/internal/missioncontrol"
	"aura/internal/missionlog"
	"aura/internal/pysrc"
	"aura/internal/team"
)

// maxRetriesPerTask bounds attempts beyond the first before a re-plan.
const maxRetriesPerTask = 1

const ragSnippetLimit = 5

// Conductor executes one user's mission against their active project.
type Conductor struct {
	runner  *foundry.Runner
	team    *team.Service
	control *missioncontrol.Registry
	log     logging.Logger
}

func New(runner *foundry.Runner, teamSvc *team.Service, control *missioncontrol.Registry, log logging.Logger) *Conductor {
	return &Conductor{
		runner:  runner,
		team:    teamSvc,
		control: control,
		log:     logging.OrNop(log),
	}
}

func (c *Conductor) deps() *foundry.Deps { return c.runner.Deps() }

// RunMission marks the mission running, executes it to completion or
// failure, and always releases the mission-control slot and returns the
// agent to idle.
func (c *Conductor) RunMission(ctx context.Context, userID int64) {
	c.control.SetMissionRunning(userID)
	metrics.MissionsStarted.Inc()
	defer func() {
		c.control.SetMissionFinished(userID)
		c.deps().Hub.BroadcastToUser(hub.AgentStatus("idle"), userID)
		c.log.Info("conductor finished mission for user %d", userID)
	}()

	goal, err := c.deps().MissionLog.InitialGoal()
	if err != nil {
		c.failMission(userID, fmt.Sprintf("could not load the mission goal: %v", err))
		return
	}
	c.executeMission(ctx, userID, goal)
}

func (c *Conductor) executeMission(ctx context.Context, userID int64, goal string) {
	d := c.deps()
	c.team.PostChat(userID, "Conductor", "Mission dispatched. Beginning autonomous execution.", false)
	d.Hub.BroadcastToUser(hub.AgentStatus("thinking"), userID)

	for {
		if ctx.Err() != nil {
			return
		}
		if !c.control.IsRunning(userID) {
			c.log.Info("mission for user %d was stopped by request", userID)
			c.team.PostChat(userID, "Conductor", "Mission execution halted by user.", false)
			metrics.MissionsFailed.Inc()
			return
		}

		task, ok, err := d.MissionLog.NextPending()
		if err != nil {
			c.failMission(userID, fmt.Sprintf("could not read the mission log: %v", err))
			return
		}
		if !ok {
			c.runFinalPolish(ctx, userID, goal)
			c.completeMission(ctx, userID)
			return
		}

		d.Hub.BroadcastToUser(hub.ActiveTaskUpdated(task.ID), userID)

		lastError := task.LastError
		succeeded := false
		for attempt := 0; attempt <= maxRetriesPerTask; attempt++ {
			if !c.control.IsRunning(userID) {
				break
			}
			if attempt > 0 {
				metrics.TaskRetries.Inc()
			}
			c.log.Info("executing task %d: %s", task.ID, task.Description)

			call, err := c.toolCallForTask(ctx, userID, task, lastError)
			if err != nil {
				c.failMission(userID, err.Error())
				return
			}
			if call == nil {
				lastError = fmt.Sprintf("Could not determine a tool call for task: '%s'", task.Description)
				continue
			}

			result, ran := c.runner.RunFromMap(ctx, call, userID, task.ID, goal)
			if ran {
				if err := d.MissionLog.BindToolCall(task.ID, call); err != nil {
					c.log.Warn("could not record the tool call for task %d: %v", task.ID, err)
				}
				if err := d.MissionLog.MarkDone(task.ID); err != nil {
					c.failMission(userID, fmt.Sprintf("could not update the mission log: %v", err))
					return
				}
				c.team.PostChat(userID, "Conductor", "Task completed: "+task.Description, false)
				succeeded = true
				break
			}
			lastError = failureMessage(result)
			if err := d.MissionLog.SetLastError(task.ID, lastError); err != nil {
				c.log.Warn("could not record the error for task %d: %v", task.ID, err)
			}
			c.log.Warn("task %d failed: %s", task.ID, lastError)
			c.team.PostChat(userID, "Conductor", "Task failed, retrying. Error: "+lastError, true)
		}

		if !succeeded && c.control.IsRunning(userID) {
			c.log.Error("task %d failed after retries, re-planning", task.ID)
			c.team.PostChat(userID, "Aura", "I'm stuck. Rethinking my approach.", true)
			c.team.RunStrategicReplan(ctx, userID, goal, task, lastError)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// failureMessage extracts the error text the re-plan prompts feed on.
func failureMessage(result any) string {
	switch v := result.(type) {
	case nil:
		return "Tool returned an empty result, which indicates a potential failure."
	case string:
		return v
	case map[string]any:
		if summary, _ := v["summary"].(string); summary != "" {
			return summary
		}
		if output, _ := v["full_output"].(string); output != "" {
			return output
		}
		return "Tool indicated failure without a detailed message."
	default:
		return fmt.Sprintf("%v", result)
	}
}

var pathPattern = regexp.MustCompile(`[\w./-]+\.\w+`)

// bareFileSuffixes are extensions worth reading even without a directory
// component in the mention.
var bareFileSuffixes = []string{".py", ".md", ".txt", ".json", ".toml"}

// toolCallForTask assembles the context bundle for a task and asks the
// coder role to choose a tool. A nil call means the model's answer was
// unusable; the caller retries.
func (c *Conductor) toolCallForTask(ctx context.Context, userID int64, task missionlog.Task, lastError string) (map[string]any, error) {
	d := c.deps()

	// A task planned with a bound invocation runs it as-is; the model is
	// only consulted once an attempt has failed.
	if task.ToolCall != nil && lastError == "" {
		return task.ToolCall, nil
	}

	description := task.Description
	if lastError != "" {
		description += fmt.Sprintf("\n\n**PREVIOUS ATTEMPT FAILED!** Last error: `%s`. You MUST try a different approach.", lastError)
	}

	tasks, err := d.MissionLog.Tasks()
	if err != nil {
		return nil, fmt.Errorf("could not read the mission log: %w", err)
	}
	history := "This is the first task."
	if len(tasks) > 0 {
		history, err = d.MissionLog.HistorySummary()
		if err != nil {
			return nil, fmt.Errorf("could not read the mission log: %w", err)
		}
	}

	toolDefs, err := json.MarshalIndent(c.runner.Registry().Definitions(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("could not encode the tool catalog: %w", err)
	}

	bundle := team.ToolSelectContext{
		CurrentTask:      description,
		MissionLog:       history,
		FileStructure:    c.fileStructure(),
		ActiveFileState:  c.activeFileContext(ctx, description),
		AvailableTools:   string(toolDefs),
		RelevantSnippets: c.vectorContext(ctx, description),
	}
	return c.team.SelectToolCall(ctx, userID, bundle)
}

func (c *Conductor) fileStructure() string {
	files, err := c.deps().Workspace.ListFiles()
	if err != nil || len(files) == 0 {
		return "The project is currently empty."
	}
	sort.Strings(files)
	return strings.Join(files, "\n")
}

// activeFileContext reads every file path mentioned in the task and
// summarizes what is in it, so the model picks tools against the file's
// real shape instead of a guess.
func (c *Conductor) activeFileContext(ctx context.Context, description string) string {
	d := c.deps()
	seen := map[string]bool{}
	var paths []string
	for _, match := range pathPattern.FindAllString(description, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true
		paths = append(paths, match)
	}
	sort.Strings(paths)

	var parts []string
	for _, relPath := range paths {
		if !strings.Contains(relPath, "/") && !hasAnySuffix(relPath, bareFileSuffixes) {
			continue
		}
		header := fmt.Sprintf("**Context for `%s`:**", relPath)
		content, err := d.Workspace.ReadFile(relPath)
		if err != nil {
			parts = append(parts, header+"\n- This file does not exist yet. You may need to create it.")
			continue
		}
		c.log.Info("context weaver: found and read active file %s", relPath)
		if strings.HasSuffix(relPath, ".py") {
			if summary, ok := pythonFileSummary(ctx, content); ok {
				parts = append(parts, header+"\n"+summary)
				continue
			}
			c.log.Warn("context weaver: could not parse %s, providing raw content", relPath)
		}
		parts = append(parts, fmt.Sprintf("%s\n```\n%s...\n```", header, clip(content, 1000)))
	}
	if len(parts) == 0 {
		return "No specific file context was identified for this task. You might be creating a new file or directory."
	}
	return strings.Join(parts, "\n\n")
}

func pythonFileSummary(ctx context.Context, content string) (string, bool) {
	imports, functions, classes, err := pysrc.Overview(ctx, content)
	if err != nil {
		return "", false
	}
	var lines []string
	if len(imports) > 0 {
		lines = append(lines, "- Imports: "+strings.Join(imports, ", "))
	}
	if len(functions) > 0 {
		lines = append(lines, "- Functions: "+strings.Join(functions, ", "))
	}
	if len(classes) > 0 {
		lines = append(lines, "- Classes: "+strings.Join(classes, ", "))
	}
	if len(lines) == 0 {
		lines = append(lines, "- The file is valid Python but contains no top-level definitions.")
	}
	return strings.Join(lines, "\n"), true
}

// vectorContext retrieves the project snippets most similar to the task.
func (c *Conductor) vectorContext(ctx context.Context, description string) string {
	d := c.deps()
	if d.RAG == nil || d.RAG.Count() == 0 {
		return "Vector context (RAG) is currently disabled."
	}
	snippets, err := d.RAG.Query(ctx, description, ragSnippetLimit)
	if err != nil {
		c.log.Warn("vector context query failed: %v", err)
		return "Vector context (RAG) is currently disabled."
	}
	if len(snippets) == 0 {
		return "Vector context (RAG) is currently disabled."
	}
	parts := []string{"Here are the most relevant code snippets based on the task:\n"}
	for _, snip := range snippets {
		parts = append(parts, fmt.Sprintf("```python\n# From file: %s\n%s\n```", snip.Path, snip.Content))
	}
	return strings.Join(parts, "\n\n")
}

// runFinalPolish diffs everything the mission touched and applies the
// linter agent's patches. Runs once per mission, after the last task.
func (c *Conductor) runFinalPolish(ctx context.Context, userID int64, goal string) {
	d := c.deps()
	if d.Snapshots == nil {
		return
	}
	diff := d.Snapshots.Report(d.Workspace.ReadFile)
	if strings.TrimSpace(diff) == "" {
		c.log.Info("no code changes detected, skipping final polish")
		return
	}
	fixes := c.team.RunFinalPolishLinter(ctx, userID, goal, c.fileStructure(), diff)
	if len(fixes) > 0 {
		c.applyPolishFixes(userID, fixes)
	}
}

// applyPolishFixes patches files by replacing the first occurrence of each
// flagged snippet. Snippets that no longer match are skipped.
func (c *Conductor) applyPolishFixes(userID int64, fixes []team.Fix) {
	d := c.deps()
	for _, fix := range fixes {
		content, err := d.Workspace.ReadFile(fix.FilePath)
		if err != nil {
			c.log.Error("final polish: cannot apply fix, file not found: %s", fix.FilePath)
			continue
		}
		if !strings.Contains(content, fix.OriginalCodeSnippet) {
			c.log.Warn("final polish: snippet to be replaced not found in %s, skipping fix", fix.FilePath)
			continue
		}
		patched := strings.Replace(content, fix.OriginalCodeSnippet, fix.FixedCodeSnippet, 1)
		if _, err := d.Workspace.WriteFile(fix.FilePath, patched); err != nil {
			c.log.Error("final polish: failed to apply fix to %s: %v", fix.FilePath, err)
			continue
		}
		c.log.Info("final polish: applied fix to %s", fix.FilePath)
		c.team.PostChat(userID, "Conductor", fmt.Sprintf("Patched bug in `%s`.", fix.FilePath), false)
	}
}

func (c *Conductor) completeMission(ctx context.Context, userID int64) {
	d := c.deps()
	c.log.Info("mission accomplished for user %d", userID)
	metrics.MissionsSucceeded.Inc()
	tasks, err := d.MissionLog.Tasks()
	if err != nil {
		tasks = nil
	}
	summary := c.team.GenerateMissionSummary(ctx, userID, tasks)
	c.team.PostChat(userID, "Aura", summary, false)
	d.Hub.BroadcastToUser(hub.MissionSuccess(), userID)
}

func (c *Conductor) failMission(userID int64, reason string) {
	metrics.MissionsFailed.Inc()
	c.team.PostChat(userID, "Aura", "A critical error stopped the mission: "+reason, true)
	c.deps().Hub.BroadcastToUser(hub.MissionFailure(reason), userID)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
