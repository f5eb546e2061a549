package missioncontrol

import "sync"

// Registry tracks per-user mission run flags. The conductor polls IsRunning
// between steps; the stop endpoint flips the flag to request a graceful halt.
//
// A user with no entry is treated as running. This errs on the side of
// letting a mission proceed when the flag was never initialized.
type Registry struct {
	mu      sync.Mutex
	running map[int64]bool
}

func New() *Registry {
	return &Registry{running: make(map[int64]bool)}
}

// SetMissionRunning marks a user's mission as active.
func (r *Registry) SetMissionRunning(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[userID] = true
}

// RequestStop asks the user's mission to halt at the next checkpoint.
func (r *Registry) RequestStop(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[userID] = false
}

// IsRunning reports whether the user's mission should keep going. Users with
// no recorded state default to true.
func (r *Registry) IsRunning(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	running, ok := r.running[userID]
	if !ok {
		return true
	}
	return running
}

// SetMissionFinished clears the user's entry entirely.
func (r *Registry) SetMissionFinished(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, userID)
}

// HasEntry reports whether a flag is currently recorded for the user.
func (r *Registry) HasEntry(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[userID]
	return ok
}
