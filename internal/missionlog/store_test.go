package missionlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *[][]Task) {
	t.Helper()
	var notifications [][]Task
	st := NewStore(t.TempDir(), nil, func(tasks []Task) {
		notifications = append(notifications, tasks)
	})
	return st, &notifications
}

func TestEmptyLog(t *testing.T) {
	st, _ := newTestStore(t)

	tasks, err := st.Tasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, ok, err := st.NextPending()
	require.NoError(t, err)
	assert.False(t, ok)

	summary, err := st.HistorySummary()
	require.NoError(t, err)
	assert.Equal(t, "No tasks have been planned yet.", summary)
}

func TestSetInitialPlan(t *testing.T) {
	st, notifications := newTestStore(t)

	tasks, err := st.SetInitialPlan("build a todo app", []string{"create main.py", "add tests"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].ID)
	assert.Equal(t, 2, tasks[1].ID)
	assert.False(t, tasks[0].Done)

	goal, err := st.InitialGoal()
	require.NoError(t, err)
	assert.Equal(t, "build a todo app", goal)

	require.Len(t, *notifications, 1)
}

func TestAddTasksContinuesNumbering(t *testing.T) {
	st, _ := newTestStore(t)

	_, err := st.SetInitialPlan("goal", []string{"first"})
	require.NoError(t, err)
	tasks, err := st.AddTasks([]string{"second", "third"})
	require.NoError(t, err)

	require.Len(t, tasks, 3)
	assert.Equal(t, 2, tasks[1].ID)
	assert.Equal(t, 3, tasks[2].ID)
}

func TestMarkDoneAndNextPending(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, st.MarkDone(1))

	next, ok, err := st.NextPending()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, next.ID)

	assert.Error(t, st.MarkDone(99))
}

func TestMarkDoneClearsLastError(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a"})
	require.NoError(t, err)

	require.NoError(t, st.SetLastError(1, "tool exploded"))
	tasks, err := st.Tasks()
	require.NoError(t, err)
	assert.Equal(t, "tool exploded", tasks[0].LastError)

	require.NoError(t, st.MarkDone(1))
	tasks, err = st.Tasks()
	require.NoError(t, err)
	assert.True(t, tasks[0].Done)
	assert.Empty(t, tasks[0].LastError)

	// Finishing an already finished task stays a no-op.
	require.NoError(t, st.MarkDone(1))
}

func TestBindToolCall(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a"})
	require.NoError(t, err)

	call := map[string]any{"tool_name": "write_file", "arguments": map[string]any{"path": "app.py"}}
	require.NoError(t, st.BindToolCall(1, call))

	tasks, err := st.Tasks()
	require.NoError(t, err)
	require.NotNil(t, tasks[0].ToolCall)
	assert.Equal(t, "write_file", tasks[0].ToolCall["tool_name"])
}

func TestDeleteTask(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteTask(2))

	tasks, err := st.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].ID)
	assert.Equal(t, 3, tasks[1].ID)

	assert.Error(t, st.DeleteTask(2))
}

func TestDeletedIDsAreNeverReissued(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil, nil)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteTask(3))
	tasks, err := st.AddTasks([]string{"d"})
	require.NoError(t, err)

	require.Len(t, tasks, 3)
	assert.Equal(t, 4, tasks[2].ID)

	// The counter is part of the persisted file, not recomputed from the
	// surviving IDs.
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(5), raw["next_id"])
}

func TestLoadReconstructsMissingNextID(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"initial_goal": "goal", "tasks": [{"id": 1, "description": "a", "done": true}, {"id": 7, "description": "b", "done": false}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(legacy), 0o644))

	st := NewStore(dir, nil, nil)
	tasks, err := st.AddTasks([]string{"c"})
	require.NoError(t, err)
	assert.Equal(t, 8, tasks[len(tasks)-1].ID)
}

func TestReorderTasks(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)

	require.NoError(t, st.ReorderTasks([]int{3, 1, 2}))

	tasks, err := st.Tasks()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, []int{tasks[0].ID, tasks[1].ID, tasks[2].ID})
}

func TestReorderTasksRejectsPartialList(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Error(t, st.ReorderTasks([]int{1, 2}))
	assert.Error(t, st.ReorderTasks([]int{1, 2, 99}))
	assert.Error(t, st.ReorderTasks([]int{1, 2, 2}))
}

func TestReorderChangesNextPending(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)

	require.NoError(t, st.ReorderTasks([]int{3, 1, 2}))

	next, ok, err := st.NextPending()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, next.ID)
}

func TestReplaceTasksFrom(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, st.MarkDone(1))

	tasks, err := st.ReplaceTasksFrom(2, []string{"new plan step"})
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].ID)
	assert.True(t, tasks[0].Done)
	// Replacement tasks draw fresh IDs past everything ever issued.
	assert.Equal(t, 4, tasks[1].ID)
	assert.Equal(t, "new plan step", tasks[1].Description)
}

func TestHistorySummaryFormat(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.SetInitialPlan("goal", []string{"write code", "run tests"})
	require.NoError(t, err)
	require.NoError(t, st.MarkDone(1))

	summary, err := st.HistorySummary()
	require.NoError(t, err)
	assert.Equal(t, "- ID 1 (Done): write code\n- ID 2 (Pending): run tests", summary)
}

func TestCorruptLogStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{broken"), 0o644))

	st := NewStore(dir, nil, nil)
	tasks, err := st.Tasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil, nil)
	_, err := st.SetInitialPlan("goal", []string{"a"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestPersistenceAcrossStores(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil, nil)
	_, err := st.SetInitialPlan("persist me", []string{"only task"})
	require.NoError(t, err)

	st2 := NewStore(dir, nil, nil)
	goal, err := st2.InitialGoal()
	require.NoError(t, err)
	assert.Equal(t, "persist me", goal)
	tasks, err := st2.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "only task", tasks[0].Description)
}
