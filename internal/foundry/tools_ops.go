package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"aura/internal/pysrc"
)

func opsSpecs() []*Spec {
	return []*Spec{
		{
			Name:        "add_task_to_mission_log",
			Description: "Adds a new task to the mission log.",
			Parameters: objectSchema(map[string]any{
				"description": strProp("The task description."),
				"tool_call":   objProp("Optional machine-readable tool call for the task."),
			}, "description"),
			Action: addTaskAction,
		},
		{
			Name:        "mark_task_as_done",
			Description: "Marks a mission log task as done.",
			Parameters: objectSchema(map[string]any{
				"task_id": intProp("The ID of the task to complete."),
			}, "task_id"),
			Action: markTaskDoneAction,
		},
		{
			Name:        "get_mission_log",
			Description: "Retrieves the current mission log.",
			Parameters:  objectSchema(map[string]any{}),
			Action:      getMissionLogAction,
		},
		{
			Name: "run_tests",
			Description: "Executes the project's test suite using pytest from within the project's virtual " +
				"environment. This should be the final step in any testing or QA plan.",
			Parameters: objectSchema(map[string]any{}),
			Action:     runTestsAction,
		},
		{
			Name: "run_shell_command",
			Description: "Executes a shell command in the project directory, routing python and pip through " +
				"the project's virtual environment when one exists.",
			Parameters: objectSchema(map[string]any{
				"command": strProp("The command to execute."),
			}, "command"),
			Action: runShellCommandAction,
		},
		{
			Name:        "pip_install",
			Description: "Installs dependencies from a requirements file using the project's virtual environment.",
			Parameters: objectSchema(map[string]any{
				"requirements_path": strProp("The requirements file. Defaults to requirements.txt."),
			}),
			Action: pipInstallAction,
		},
		{
			Name: "add_dependency_to_requirements",
			Description: "The one and only tool for managing dependencies. Adds packages to requirements.txt, " +
				"creating the file if needed and skipping packages already listed.",
			Parameters: objectSchema(map[string]any{
				"dependencies": strListProp("Packages to add, e.g. ['fastapi', 'uvicorn[standard]']."),
				"path":         strProp("The requirements file. Defaults to requirements.txt."),
			}, "dependencies"),
			Action: addDependencyAction,
		},
		{
			Name:        "api_request",
			Description: "Performs a generic HTTP API request and returns the response.",
			Parameters: objectSchema(map[string]any{
				"method":    strProp("The HTTP method (GET, POST, ...)."),
				"url":       strProp("The endpoint URL."),
				"headers":   objProp("Optional request headers."),
				"json_body": objProp("Optional JSON request body."),
			}, "method", "url"),
			Action: apiRequestAction,
		},
		{
			Name:        "lint_file",
			Description: "Checks a Python file for syntax errors and basic style issues.",
			Parameters: objectSchema(map[string]any{
				"path": strProp("The Python file to lint."),
			}, "path"),
			Action: lintFileAction,
		},
		{
			Name:        "create_project",
			Description: "Creates a new project directory and makes it active.",
			Parameters: objectSchema(map[string]any{
				"project_name": strProp("The name of the project to create."),
			}, "project_name"),
			Action: createProjectAction,
		},
	}
}

func addTaskAction(_ context.Context, c *Call) (any, error) {
	description := c.Str("description")
	tasks, err := c.Deps.MissionLog.AddTasks([]string{description})
	if err != nil {
		return fmt.Sprintf("Error: Could not add task. %v", err), nil
	}
	newTask := tasks[len(tasks)-1]
	return fmt.Sprintf("Successfully added task %d: '%s' to the mission log.", newTask.ID, description), nil
}

func markTaskDoneAction(_ context.Context, c *Call) (any, error) {
	taskID, ok := c.Int("task_id")
	if !ok {
		return "Error: task_id must be an integer.", nil
	}
	if err := c.Deps.MissionLog.MarkDone(taskID); err != nil {
		return fmt.Sprintf("Error: Could not find task with ID %d.", taskID), nil
	}
	return fmt.Sprintf("Successfully marked task %d as done.", taskID), nil
}

func getMissionLogAction(_ context.Context, c *Call) (any, error) {
	tasks, err := c.Deps.MissionLog.Tasks()
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return "The mission log is currently empty.", nil
	}
	var b strings.Builder
	b.WriteString("Current mission log:\n")
	for _, task := range tasks {
		status := "[ ]"
		if task.Done {
			status = "[x]"
		}
		fmt.Fprintf(&b, "- %s ID %d: %s\n", status, task.ID, task.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// venvPython returns the project's virtualenv python, or "".
func venvPython(projectRoot string) string {
	for _, dir := range []string{".venv", "venv"} {
		candidate := filepath.Join(projectRoot, dir, "bin", "python")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// venvPip returns the project's virtualenv pip, or "".
func venvPip(projectRoot string) string {
	for _, dir := range []string{".venv", "venv"} {
		candidate := filepath.Join(projectRoot, dir, "bin", "pip")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func runTestsAction(ctx context.Context, c *Call) (any, error) {
	root := c.Deps.Workspace.ActivePath()
	if root == "" {
		return "Error: Cannot run tests. No active project.", nil
	}
	python := venvPython(root)
	if python == "" {
		return "Error: The project's virtual environment is not set up. Cannot find the Python executable to run pytest.", nil
	}

	cmd := exec.CommandContext(ctx, python, "-m", "pytest")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return fmt.Sprintf("Error: could not run pytest: %v", err), nil
		}
	}
	switch exitCode {
	case 0:
		return fmt.Sprintf("All tests passed successfully!\n\n--- PYTEST OUTPUT ---\n%s", stdout.String()), nil
	case 5:
		return fmt.Sprintf("Pytest ran, but no tests were found to execute.\n\n--- PYTEST OUTPUT ---\n%s", stdout.String()), nil
	default:
		return fmt.Sprintf("Error: One or more tests failed.\n\n--- PYTEST STDOUT ---\n%s\n\n--- PYTEST STDERR ---\n%s",
			stdout.String(), stderr.String()), nil
	}
}

func runShellCommandAction(ctx context.Context, c *Call) (any, error) {
	root := c.Deps.Workspace.ActivePath()
	if root == "" {
		return "Error: Cannot run shell command. No active project.", nil
	}
	command := c.Str("command")
	parts := splitCommand(command)
	if len(parts) == 0 {
		return "Error: Empty command provided.", nil
	}

	switch strings.ToLower(parts[0]) {
	case "python", "python3":
		if python := venvPython(root); python != "" {
			parts[0] = python
		}
	case "pip", "pip3":
		if pip := venvPip(root); pip != "" {
			parts[0] = pip
		}
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Sprintf("Error executing command: '%s'\nReturn Code: %d\n--- STDOUT ---\n%s\n--- STDERR ---\n%s",
				command, exitErr.ExitCode(), stdout.String(), stderr.String()), nil
		}
		return fmt.Sprintf("Error: command not found '%s'. Make sure it's a valid command on the PATH.", parts[0]), nil
	}
	return fmt.Sprintf("Command executed successfully.\n--- STDOUT ---\n%s\n--- STDERR ---\n%s",
		stdout.String(), stderr.String()), nil
}

// splitCommand tokenizes a shell command, honoring single and double quotes.
func splitCommand(command string) []string {
	var parts []string
	var current strings.Builder
	var quote rune
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return parts
}

func pipInstallAction(ctx context.Context, c *Call) (any, error) {
	root := c.Deps.Workspace.ActivePath()
	if root == "" {
		return "Error: Cannot run pip install. No active project.", nil
	}
	reqAbs := c.Str("requirements_path")
	if reqAbs == "" {
		reqAbs = filepath.Join(root, "requirements.txt")
	}
	reqRel := c.Deps.Workspace.Rel(reqAbs)
	if _, err := os.Stat(reqAbs); err != nil {
		return fmt.Sprintf("Error: requirements file not found at '%s'. Please create it first.", reqRel), nil
	}

	var base []string
	if pip := venvPip(root); pip != "" {
		base = []string{pip}
	} else if python := venvPython(root); python != "" {
		base = []string{python, "-m", "pip"}
	} else {
		return "Error: No virtual environment Python or pip executable found. Cannot install dependencies.", nil
	}
	args := append(base[1:], "install", "-r", reqAbs)

	cmd := exec.CommandContext(ctx, base[0], args...)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Sprintf("Error installing dependencies.\nReturn Code: %d\n---STDERR---\n%s",
				exitErr.ExitCode(), stderr.String()), nil
		}
		return fmt.Sprintf("Error: could not run pip: %v", err), nil
	}
	return fmt.Sprintf("Successfully installed dependencies from %s.\n---STDOUT---\n%s", reqRel, stdout.String()), nil
}

// packageName strips version constraints from a requirement line.
func packageName(requirement string) string {
	name := strings.TrimSpace(requirement)
	for _, sep := range []string{"==", ">=", "<=", ">", "<", "~=", "["} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func addDependencyAction(ctx context.Context, c *Call) (any, error) {
	dependencies := c.StrList("dependencies")
	if len(dependencies) == 0 {
		return "Error: No dependencies provided.", nil
	}
	reqAbs := c.Str("path")
	if reqAbs == "" {
		root := c.Deps.Workspace.ActivePath()
		if root == "" {
			return "Error: No active project.", nil
		}
		reqAbs = filepath.Join(root, "requirements.txt")
	}
	reqRel := c.Deps.Workspace.Rel(reqAbs)

	c.snapshotBefore(reqAbs)
	if err := os.MkdirAll(filepath.Dir(reqAbs), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs for %s: %w", reqRel, err)
	}
	existing, err := os.ReadFile(reqAbs)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", reqRel, err)
	}

	known := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		if name := packageName(line); name != "" {
			known[name] = true
		}
	}

	content := string(existing)
	var added, skipped []string
	for _, dep := range dependencies {
		name := packageName(dep)
		if name == "" || known[name] {
			skipped = append(skipped, dep)
			continue
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += dep + "\n"
		known[name] = true
		added = append(added, dep)
	}
	if err := os.WriteFile(reqAbs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", reqRel, err)
	}
	c.reindex(ctx, reqAbs, content)

	var msgs []string
	if len(added) > 0 {
		msgs = append(msgs, fmt.Sprintf("Successfully added: %s.", strings.Join(added, ", ")))
	}
	if len(skipped) > 0 {
		msgs = append(msgs, fmt.Sprintf("Already existed: %s.", strings.Join(skipped, ", ")))
	}
	if len(msgs) == 0 {
		return "No changes made to requirements.txt.", nil
	}
	return strings.Join(msgs, " "), nil
}

func apiRequestAction(ctx context.Context, c *Call) (any, error) {
	method := strings.ToUpper(c.Str("method"))
	url := c.Str("url")

	var body io.Reader
	if jsonBody := c.Map("json_body"); jsonBody != nil {
		raw, err := json.Marshal(jsonBody)
		if err != nil {
			return fmt.Sprintf("Error: could not encode json_body: %v", err), nil
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Sprintf("Error: invalid request: %v", err), nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.Map("headers") {
		if s, ok := value.(string); ok {
			req.Header.Set(key, s)
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: API request failed: %v", err), nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	responseContent := string(raw)
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		if pretty, err := json.MarshalIndent(decoded, "", "  "); err == nil {
			responseContent = string(pretty)
		}
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("API Request Failed with HTTP Error: %d %s\nResponse: %s",
			resp.StatusCode, resp.Status, responseContent), nil
	}
	return fmt.Sprintf("API Request Successful: %d %s\nResponse:\n%s",
		resp.StatusCode, resp.Status, responseContent), nil
}

func lintFileAction(ctx context.Context, c *Call) (any, error) {
	abs := c.Str("path")
	rel := c.Deps.Workspace.Rel(abs)
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error: File not found at '%s'.", rel), nil
	}
	var issues []string
	if err := pysrc.Validate(ctx, string(data)); err != nil {
		issues = append(issues, "syntax error: the file does not parse")
	}
	for i, line := range strings.Split(string(data), "\n") {
		if len(line) > 120 {
			issues = append(issues, fmt.Sprintf("line %d: longer than 120 characters", i+1))
		}
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, fmt.Sprintf("line %d: trailing whitespace", i+1))
		}
	}
	if len(issues) == 0 {
		return fmt.Sprintf("Linting complete for '%s': No issues found!", rel), nil
	}
	return fmt.Sprintf("Linting found %d issue(s) in '%s':\n- %s",
		len(issues), rel, strings.Join(issues, "\n- ")), nil
}

func createProjectAction(_ context.Context, c *Call) (any, error) {
	name := c.Str("project_name")
	path, err := c.Deps.Workspace.NewProject(name)
	if err != nil {
		return fmt.Sprintf("Error: failed to create new project: %v", err), nil
	}
	return fmt.Sprintf("Successfully created new project at: %s", path), nil
}
