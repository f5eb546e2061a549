package missionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aura/internal/logging"
)

// FileName is the on-disk name of the task ledger inside a project.
const FileName = "mission_log.json"

// Task is one step of the current mission plan. ToolCall, when set, is the
// pre-bound invocation ({"tool_name": ..., "arguments": {...}}) recorded for
// the task. LastError holds the most recent failed attempt; finishing the
// task clears it.
type Task struct {
	ID          int            `json:"id"`
	Description string         `json:"description"`
	Done        bool           `json:"done"`
	ToolCall    map[string]any `json:"tool_call,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// logFile is the on-disk envelope: the plan, the goal that produced it, and
// the next ID to hand out. NextID only moves forward, so task IDs are never
// reused within a project even after deletions.
type logFile struct {
	InitialGoal string `json:"initial_goal"`
	Tasks       []Task `json:"tasks"`
	NextID      int    `json:"next_id"`
}

// Store persists the mission plan as JSON in the project root. Disk is the
// source of truth: every mutation writes the file and re-reads it before
// notifying, so observers always see exactly what a restart would load.
type Store struct {
	mu     sync.Mutex
	path   string
	log    logging.Logger
	notify func(tasks []Task)
}

// NewStore binds a store to a project directory. notify (optional) fires
// after every successful mutation with the freshly re-read task list.
func NewStore(projectPath string, log logging.Logger, notify func(tasks []Task)) *Store {
	return &Store{
		path:   filepath.Join(projectPath, FileName),
		log:    logging.OrNop(log),
		notify: notify,
	}
}

func (s *Store) load() (logFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return logFile{Tasks: []Task{}, NextID: 1}, nil
		}
		return logFile{}, fmt.Errorf("read mission log: %w", err)
	}
	var lf logFile
	if err := json.Unmarshal(data, &lf); err != nil {
		s.log.Warn("mission log at %s is corrupt, starting empty: %v", s.path, err)
		return logFile{Tasks: []Task{}, NextID: 1}, nil
	}
	if lf.Tasks == nil {
		lf.Tasks = []Task{}
	}
	// Files written before next_id existed, or hand-edited ones, get the
	// counter reconstructed past the highest ID present.
	maxID := 0
	for _, t := range lf.Tasks {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	if lf.NextID <= maxID {
		lf.NextID = maxID + 1
	}
	return lf, nil
}

// save writes the log atomically: marshal to a sibling temp file, then
// rename over the real one, so a crash mid-write never leaves a torn file.
func (s *Store) save(lf logFile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mission log: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mission log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace mission log: %w", err)
	}
	return nil
}

// saveAndNotify persists the log, re-reads it from disk, and notifies.
func (s *Store) saveAndNotify(lf logFile) ([]Task, error) {
	if err := s.save(lf); err != nil {
		return nil, err
	}
	reloaded, err := s.load()
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify(reloaded.Tasks)
	}
	return reloaded.Tasks, nil
}

// Tasks returns the current plan from disk.
func (s *Store) Tasks() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return nil, err
	}
	return lf.Tasks, nil
}

// InitialGoal returns the user goal recorded when the plan was set.
func (s *Store) InitialGoal() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return "", err
	}
	return lf.InitialGoal, nil
}

// SetInitialPlan replaces the whole plan with fresh tasks numbered from 1,
// records the goal that produced it, and resets the ID counter.
func (s *Store) SetInitialPlan(userGoal string, descriptions []string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf := logFile{InitialGoal: userGoal, Tasks: []Task{}, NextID: len(descriptions) + 1}
	for i, desc := range descriptions {
		lf.Tasks = append(lf.Tasks, Task{ID: i + 1, Description: desc})
	}
	return s.saveAndNotify(lf)
}

// AddTasks appends a task for each description, assigning IDs from the
// persisted counter so IDs deleted earlier are never handed out again.
func (s *Store) AddTasks(descriptions []string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, desc := range descriptions {
		lf.Tasks = append(lf.Tasks, Task{ID: lf.NextID, Description: desc})
		lf.NextID++
	}
	return s.saveAndNotify(lf)
}

// MarkDone finishes a task and clears any recorded error. Marking an
// already finished task is a no-op that still succeeds.
func (s *Store) MarkDone(taskID int) error {
	return s.updateTask(taskID, func(t *Task) {
		t.Done = true
		t.LastError = ""
	})
}

// SetLastError records the failure text of the task's latest attempt.
func (s *Store) SetLastError(taskID int, message string) error {
	return s.updateTask(taskID, func(t *Task) {
		t.LastError = message
	})
}

// BindToolCall attaches a tool invocation to a task.
func (s *Store) BindToolCall(taskID int, call map[string]any) error {
	return s.updateTask(taskID, func(t *Task) {
		t.ToolCall = call
	})
}

// UpdateDescription rewrites one task's description.
func (s *Store) UpdateDescription(taskID int, description string) error {
	return s.updateTask(taskID, func(t *Task) {
		t.Description = description
	})
}

func (s *Store) updateTask(taskID int, mutate func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return err
	}
	found := false
	for i := range lf.Tasks {
		if lf.Tasks[i].ID == taskID {
			mutate(&lf.Tasks[i])
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("task %d not found", taskID)
	}
	_, err = s.saveAndNotify(lf)
	return err
}

// NextPending returns the first unfinished task in list order, so a
// reordered plan changes what runs next.
func (s *Store) NextPending() (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return Task{}, false, err
	}
	for _, t := range lf.Tasks {
		if !t.Done {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

// Clear empties the plan, forgets the recorded goal, and restarts numbering.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.saveAndNotify(logFile{Tasks: []Task{}, NextID: 1})
	return err
}

// ReplaceTasksFrom drops every task with ID >= fromID and appends fresh
// tasks for the given descriptions. Completed earlier tasks keep their IDs;
// the new tasks draw from the persisted counter, past every ID ever issued.
func (s *Store) ReplaceTasksFrom(fromID int, descriptions []string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return nil, err
	}
	kept := lf.Tasks[:0]
	for _, t := range lf.Tasks {
		if t.ID < fromID {
			kept = append(kept, t)
		}
	}
	lf.Tasks = kept
	for _, desc := range descriptions {
		lf.Tasks = append(lf.Tasks, Task{ID: lf.NextID, Description: desc})
		lf.NextID++
	}
	return s.saveAndNotify(lf)
}

// DeleteTask removes one task. Remaining IDs and the counter are untouched,
// so the deleted ID stays retired.
func (s *Store) DeleteTask(taskID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return err
	}
	kept := lf.Tasks[:0]
	found := false
	for _, t := range lf.Tasks {
		if t.ID == taskID {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return fmt.Errorf("task %d not found", taskID)
	}
	lf.Tasks = kept
	_, err = s.saveAndNotify(lf)
	return err
}

// ReorderTasks rearranges the plan to match orderedIDs, which must name
// every current task exactly once.
func (s *Store) ReorderTasks(orderedIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return err
	}
	byID := make(map[int]Task, len(lf.Tasks))
	for _, t := range lf.Tasks {
		byID[t.ID] = t
	}
	if len(orderedIDs) != len(byID) {
		return fmt.Errorf("reorder list names %d tasks, plan has %d", len(orderedIDs), len(byID))
	}
	reordered := make([]Task, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		t, ok := byID[id]
		if !ok {
			return fmt.Errorf("task %d not found", id)
		}
		delete(byID, id)
		reordered = append(reordered, t)
	}
	lf.Tasks = reordered
	_, err = s.saveAndNotify(lf)
	return err
}

// HistorySummary renders the plan for prompt context, one line per task.
func (s *Store) HistorySummary() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.load()
	if err != nil {
		return "", err
	}
	if len(lf.Tasks) == 0 {
		return "No tasks have been planned yet.", nil
	}
	var b strings.Builder
	for _, t := range lf.Tasks {
		label := "Pending"
		if t.Done {
			label = "Done"
		}
		fmt.Fprintf(&b, "- ID %d (%s): %s\n", t.ID, label, t.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
