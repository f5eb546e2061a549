// Package snapshot records the before-state of files a mission touches so
// the review pass can see exactly what changed, without requiring version
// control inside the workspace.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Tracker remembers the first-seen content of each touched file.
type Tracker struct {
	mu     sync.Mutex
	before map[string]beforeState
}

type beforeState struct {
	content string
	existed bool
}

func NewTracker() *Tracker {
	return &Tracker{before: make(map[string]beforeState)}
}

// RecordBefore captures a file's pre-mutation content. Only the first call
// per path sticks; later mutations of the same file keep the original
// baseline.
func (t *Tracker) RecordBefore(relPath, content string, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.before[relPath]; ok {
		return
	}
	t.before[relPath] = beforeState{content: content, existed: existed}
}

// Touched returns the sorted paths recorded so far.
func (t *Tracker) Touched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.before))
	for path := range t.before {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Reset forgets everything, ready for the next mission.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.before = make(map[string]beforeState)
}

// Diff renders the change for one file in patch format. New files diff
// against empty content and are labeled as created.
func (t *Tracker) Diff(relPath, after string) string {
	t.mu.Lock()
	state, ok := t.before[relPath]
	t.mu.Unlock()
	if !ok {
		return ""
	}
	if state.content == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(state.content, after)
	text := dmp.PatchToText(patches)

	var b strings.Builder
	if state.existed {
		fmt.Fprintf(&b, "--- %s (modified)\n", relPath)
	} else {
		fmt.Fprintf(&b, "--- %s (created)\n", relPath)
	}
	b.WriteString(text)
	return b.String()
}

// Report renders the diffs of every touched file. read resolves a path's
// current content; unreadable files are reported as deleted.
func (t *Tracker) Report(read func(string) (string, error)) string {
	var b strings.Builder
	for _, relPath := range t.Touched() {
		after, err := read(relPath)
		if err != nil {
			fmt.Fprintf(&b, "--- %s (deleted)\n", relPath)
			continue
		}
		if d := t.Diff(relPath, after); d != "" {
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
