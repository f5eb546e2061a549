package foundry

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura/internal/hub"
	"aura/internal/intel"
	"aura/internal/logging"
	"aura/internal/missionlog"
	"aura/internal/snapshot"
	"aura/internal/workspace"
)

type stubCodeGen struct {
	code string
	err  error
}

func (s *stubCodeGen) GenerateCodeForTask(context.Context, int64, string, string, string, int) (string, error) {
	return s.code, s.err
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir(), 1, nil)
	require.NoError(t, err)
	_, err = ws.NewProject("demo")
	require.NoError(t, err)

	deps := &Deps{
		Workspace:  ws,
		MissionLog: missionlog.NewStore(ws.ActivePath(), nil, nil),
		Intel:      intel.New(nil),
		Hub:        hub.New(nil),
		Snapshots:  snapshot.NewTracker(),
		Log:        logging.Nop(),
	}
	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	return NewRunner(registry, deps, nil)
}

func run(t *testing.T, r *Runner, name string, args map[string]any) (any, bool) {
	t.Helper()
	return r.Run(context.Background(), ToolCall{ToolName: name, Arguments: args}, 1, 0, "")
}

func TestRegistryCatalog(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	names := registry.Names()
	assert.Len(t, names, 44)
	for _, expected := range []string{
		"write_file", "read_file", "add_function_to_file", "replace_method_in_class",
		"find_definition", "rename_symbol", "add_task_to_mission_log", "run_tests",
		"add_dependency_to_requirements", "lint_file",
	} {
		assert.Contains(t, names, expected)
	}

	defs := registry.Definitions()
	require.Len(t, defs, len(names))
	assert.Equal(t, names[0], defs[0]["name"])
	assert.NotEmpty(t, defs[0]["description"])
}

func TestValidateArgs(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.NoError(t, registry.ValidateArgs("read_file", map[string]any{"path": "a.py"}))
	assert.Error(t, registry.ValidateArgs("read_file", nil), "path is required")
	assert.Error(t, registry.ValidateArgs("read_file", map[string]any{"path": 7}))
	assert.Error(t, registry.ValidateArgs("no_such_tool", nil))
}

func TestRunUnknownTool(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "summon_demons", nil)
	assert.False(t, ok)
	assert.Equal(t, "Error: tool 'summon_demons' not found in the registry.", result)
}

func TestRunRejectsEscapingPath(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "read_file", map[string]any{"path": "../../etc/passwd"})
	assert.False(t, ok)
	assert.Contains(t, result.(string), "is not allowed")
}

func TestWriteFileWithContent(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "write_file", map[string]any{
		"path":    "app.py",
		"content": "print('hello')\n",
	})
	require.True(t, ok, "result: %v", result)
	assert.Contains(t, result.(string), "Successfully wrote")

	content, err := r.Deps().Workspace.ReadFile("app.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", content)
	assert.Equal(t, []string{"app.py"}, r.Deps().Snapshots.Touched())
}

func TestWriteFileWithoutContentFails(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "write_file", map[string]any{"path": "empty.py"})
	assert.False(t, ok)
	assert.Equal(t, "Error: No content was provided or generated to write to the file.", result)
}

func TestWriteFileGeneratesCode(t *testing.T) {
	r := newTestRunner(t)
	r.Deps().CodeGen = &stubCodeGen{code: "def generated():\n    pass\n"}

	result, ok := run(t, r, "write_file", map[string]any{
		"path":             "gen.py",
		"task_description": "write a function",
	})
	require.True(t, ok, "result: %v", result)

	content, err := r.Deps().Workspace.ReadFile("gen.py")
	require.NoError(t, err)
	assert.Contains(t, content, "def generated()")
}

func TestWriteFileGenerationFailure(t *testing.T) {
	r := newTestRunner(t)
	r.Deps().CodeGen = &stubCodeGen{err: fmt.Errorf("model produced garbage")}

	result, ok := run(t, r, "write_file", map[string]any{
		"path":             "gen.py",
		"task_description": "write a function",
	})
	assert.False(t, ok)
	assert.Contains(t, result.(string), "model produced garbage")
}

func TestReadFileMissing(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "read_file", map[string]any{"path": "ghost.py"})
	assert.False(t, ok)
	assert.Contains(t, result.(string), "File not found")
}

func TestAppendToFile(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Deps().Workspace.WriteFile("notes.txt", "line one")
	require.NoError(t, err)

	result, ok := run(t, r, "append_to_file", map[string]any{
		"path":    "notes.txt",
		"content": "line two\n",
	})
	require.True(t, ok, "result: %v", result)

	content, err := r.Deps().Workspace.ReadFile("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", content)
}

func TestCopyAndMoveAndDelete(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Deps().Workspace.WriteFile("src.py", "x = 1\n")
	require.NoError(t, err)

	_, ok := run(t, r, "copy_file", map[string]any{
		"source_path": "src.py", "destination_path": "backup/src.py",
	})
	require.True(t, ok)

	_, ok = run(t, r, "move_file", map[string]any{
		"source_path": "src.py", "destination_path": "moved.py",
	})
	require.True(t, ok)
	_, err = r.Deps().Workspace.ReadFile("src.py")
	assert.Error(t, err)

	result, ok := run(t, r, "delete_file", map[string]any{"path": "moved.py"})
	require.True(t, ok, "result: %v", result)
	_, err = r.Deps().Workspace.ReadFile("moved.py")
	assert.Error(t, err)
}

func TestCreatePackageInit(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "create_package_init", map[string]any{"path": "pkg"})
	require.True(t, ok, "result: %v", result)

	content, err := r.Deps().Workspace.ReadFile("pkg/__init__.py")
	require.NoError(t, err)
	assert.Contains(t, content, "'pkg' package")

	// Second call is a no-op, not an error.
	result, ok = run(t, r, "create_package_init", map[string]any{"path": "pkg"})
	require.True(t, ok)
	assert.Contains(t, result.(string), "already initialized")
}

func TestMissionLogTools(t *testing.T) {
	r := newTestRunner(t)

	result, ok := run(t, r, "get_mission_log", nil)
	require.True(t, ok)
	assert.Equal(t, "The mission log is currently empty.", result)

	result, ok = run(t, r, "add_task_to_mission_log", map[string]any{"description": "do the thing"})
	require.True(t, ok, "result: %v", result)
	assert.Contains(t, result.(string), "Successfully added task 1")

	result, ok = run(t, r, "mark_task_as_done", map[string]any{"task_id": float64(1)})
	require.True(t, ok, "result: %v", result)

	result, ok = run(t, r, "get_mission_log", nil)
	require.True(t, ok)
	assert.Contains(t, result.(string), "[x] ID 1: do the thing")

	result, ok = run(t, r, "mark_task_as_done", map[string]any{"task_id": float64(99)})
	assert.False(t, ok)
	assert.Contains(t, result.(string), "Could not find task")
}

func TestAddDependencyToRequirements(t *testing.T) {
	r := newTestRunner(t)
	result, ok := run(t, r, "add_dependency_to_requirements", map[string]any{
		"dependencies": []any{"fastapi", "uvicorn[standard]"},
	})
	require.True(t, ok, "result: %v", result)
	assert.Contains(t, result.(string), "Successfully added: fastapi, uvicorn[standard].")

	// Re-adding is reported as skipped, version pins compare by name.
	result, ok = run(t, r, "add_dependency_to_requirements", map[string]any{
		"dependencies": []any{"fastapi==0.110.0", "pydantic"},
	})
	require.True(t, ok)
	assert.Contains(t, result.(string), "Successfully added: pydantic.")
	assert.Contains(t, result.(string), "Already existed: fastapi==0.110.0.")

	content, err := r.Deps().Workspace.ReadFile("requirements.txt")
	require.NoError(t, err)
	assert.Equal(t, "fastapi\nuvicorn[standard]\npydantic\n", content)
}

func TestLintFile(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Deps().Workspace.WriteFile("clean.py", "x = 1\n")
	require.NoError(t, err)
	result, ok := run(t, r, "lint_file", map[string]any{"path": "clean.py"})
	require.True(t, ok)
	assert.Contains(t, result.(string), "No issues found!")

	_, err = r.Deps().Workspace.WriteFile("messy.py", "x = 1   \n"+strings.Repeat("y", 130)+" = 2\n")
	require.NoError(t, err)
	result, _ = run(t, r, "lint_file", map[string]any{"path": "messy.py"})
	assert.Contains(t, result.(string), "trailing whitespace")
	assert.Contains(t, result.(string), "longer than 120 characters")
}

func TestStructuralEditTools(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Deps().Workspace.WriteFile("mod.py", "def existing():\n    return 1\n")
	require.NoError(t, err)

	result, ok := run(t, r, "add_function_to_file", map[string]any{
		"path":          "mod.py",
		"function_code": "def fresh():\n    return 2\n",
	})
	require.True(t, ok, "result: %v", result)

	result, ok = run(t, r, "add_import", map[string]any{
		"path":   "mod.py",
		"module": "json",
	})
	require.True(t, ok, "result: %v", result)

	content, err := r.Deps().Workspace.ReadFile("mod.py")
	require.NoError(t, err)
	assert.Contains(t, content, "import json")
	assert.Contains(t, content, "def fresh():")

	// The symbol index follows structural edits.
	defs := r.Deps().Intel.FindDefinition("fresh")
	require.Len(t, defs, 1)
	assert.Equal(t, "mod.py", defs[0].Path)
}

func TestClassify(t *testing.T) {
	assert.False(t, Classify(nil))
	assert.False(t, Classify("Error: it broke"))
	assert.False(t, Classify("the operation failed badly"))
	assert.False(t, Classify(map[string]any{"status": "failure"}))
	assert.False(t, Classify(map[string]any{"status": "error"}))
	assert.True(t, Classify("Successfully wrote 10 bytes"))
	assert.True(t, Classify(map[string]any{"status": "success"}))
	assert.True(t, Classify(42))
}
