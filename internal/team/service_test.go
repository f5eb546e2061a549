package team

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura/internal/hub"
	"aura/internal/llmgate"
	"aura/internal/missioncontrol"
	"aura/internal/missionlog"
	"aura/internal/store"
	"aura/internal/workspace"
)

func TestParseJSONResponse(t *testing.T) {
	out, err := parseJSONResponse(`{"intent": "PLAN"}`)
	require.NoError(t, err)
	assert.Equal(t, "PLAN", out["intent"])

	// Prose-wrapped replies fall back to brace extraction.
	out, err = parseJSONResponse("Sure, here you go:\n{\"intent\": \"CHAT\"}\nLet me know!")
	require.NoError(t, err)
	assert.Equal(t, "CHAT", out["intent"])

	// Slightly malformed JSON is repaired.
	out, err = parseJSONResponse(`{"intent": "PLAN",}`)
	require.NoError(t, err)
	assert.Equal(t, "PLAN", out["intent"])

	_, err = parseJSONResponse("no structured data here")
	assert.Error(t, err)
}

func TestIsErrorReply(t *testing.T) {
	assert.True(t, isErrorReply("Error: something broke"))
	assert.True(t, isErrorReply("  Error: padded"))
	assert.False(t, isErrorReply("All good"))
	assert.False(t, isErrorReply("An Error: mid-sentence does not count"))
}

func TestHistoryString(t *testing.T) {
	history := []llmgate.Message{
		{Role: "user", Content: "build me a blog"},
		{Role: "assistant", Content: "on it"},
	}
	assert.Equal(t, "user: build me a blog\nassistant: on it", historyString(history))
	assert.Equal(t, "", historyString(nil))
}

func TestRelevantPlanContext(t *testing.T) {
	tasks := []missionlog.Task{
		{ID: 1, Description: "set up project", Done: true},
		{ID: 2, Description: "write models"},
		{ID: 3, Description: "write routes"},
	}

	ctx := relevantPlanContext(2, tasks)
	assert.Contains(t, ctx, "Previous Task (ID 1): set up project [Status: Done]")
	assert.Contains(t, ctx, "--> CURRENT TASK (ID 2): write models [Status: Pending]")
	assert.Contains(t, ctx, "Next Task (ID 3): write routes [Status: Pending]")

	// First and last tasks only render the neighbors that exist.
	assert.NotContains(t, relevantPlanContext(1, tasks), "Previous Task")
	assert.NotContains(t, relevantPlanContext(3, tasks), "Next Task")

	assert.Equal(t, "Could not find the current task in the plan.", relevantPlanContext(99, tasks))
}

func TestCodeBlockPattern(t *testing.T) {
	match := codeBlockPattern.FindStringSubmatch("Here:\n```python\nx = 1\n```\ndone")
	require.NotNil(t, match)
	assert.Equal(t, "x = 1\n", match[1])

	match = codeBlockPattern.FindStringSubmatch("```\ny = 2\n```")
	require.NotNil(t, match)
	assert.Equal(t, "\ny = 2\n", match[1])

	assert.Nil(t, codeBlockPattern.FindStringSubmatch("no fences at all"))
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]any{"a", "", "  ", "b", 3}))
	assert.Nil(t, stringList("not a list"))
	assert.Nil(t, stringList(nil))
}

func TestTruncateAndOrDefault(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
	assert.Equal(t, "fallback", orDefault("   ", "fallback"))
	assert.Equal(t, "value", orDefault("value", "fallback"))
}

func TestRenderPrompt(t *testing.T) {
	out, err := renderPrompt("intent", map[string]string{
		"conversation_history": "user: hi",
		"user_prompt":          "make a todo app",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "make a todo app")
	assert.NotContains(t, out, "{{user_prompt}}")

	_, err = renderPrompt("no_such_template", nil)
	assert.Error(t, err)
}

// gatewayQueue serves canned replies from a stub LLM gateway, one per
// request, in order.
type gatewayQueue struct {
	mu      sync.Mutex
	replies []string
	srv     *httptest.Server
}

func newGatewayQueue(t *testing.T, replies ...string) *gatewayQueue {
	t.Helper()
	q := &gatewayQueue{replies: replies}
	q.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		if len(q.replies) == 0 {
			http.Error(w, "queue exhausted", http.StatusInternalServerError)
			return
		}
		reply := q.replies[0]
		q.replies = q.replies[1:]
		line, _ := json.Marshal(map[string]any{
			"final_response": map[string]any{"reply": reply},
		})
		fmt.Fprintf(w, "%s\n", line)
	}))
	t.Cleanup(q.srv.Close)
	return q
}

func newTestService(t *testing.T, gateway string) (*Service, *missionlog.Store, int64) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "aura.db"), "unit-test-secret", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	user, err := st.CreateUser("agent@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, st.UpsertProviderKey(user.ID, "openai", "sk-test"))
	for _, role := range []string{RolePlanner, RoleCoder, RoleChat} {
		require.NoError(t, st.UpsertAssignment(user.ID, store.Assignment{
			RoleName: role, ModelID: "openai/gpt-4o", Temperature: 0.2,
		}))
	}

	ws, err := workspace.NewManager(t.TempDir(), user.ID, nil)
	require.NoError(t, err)
	_, err = ws.NewProject("demo")
	require.NoError(t, err)
	mission := missionlog.NewStore(ws.ActivePath(), nil, nil)

	svc := NewService(st, llmgate.NewStreamer(gateway, nil), hub.New(nil),
		missioncontrol.New(), ws, mission, nil)
	return svc, mission, user.ID
}

func TestDetermineIntent(t *testing.T) {
	q := newGatewayQueue(t, `{"intent": "plan"}`)
	svc, _, userID := newTestService(t, q.srv.URL)
	assert.Equal(t, IntentPlan, svc.DetermineIntent(context.Background(), userID, "build a blog", nil))
}

func TestDetermineIntentFallsBackToChat(t *testing.T) {
	q := newGatewayQueue(t, "not json at all")
	svc, _, userID := newTestService(t, q.srv.URL)
	assert.Equal(t, IntentChat, svc.DetermineIntent(context.Background(), userID, "hi", nil))

	// Unknown intents also degrade to chat.
	q2 := newGatewayQueue(t, `{"intent": "DESTROY"}`)
	svc2, _, userID2 := newTestService(t, q2.srv.URL)
	assert.Equal(t, IntentChat, svc2.DetermineIntent(context.Background(), userID2, "hi", nil))
}

func TestDetermineIntentWithoutAssignment(t *testing.T) {
	q := newGatewayQueue(t)
	svc, _, _ := newTestService(t, q.srv.URL)
	// User 999 has no assignments or keys; the detector must not error out.
	assert.Equal(t, IntentChat, svc.DetermineIntent(context.Background(), 999, "hi", nil))
}

func TestRunPlannerWorkflow(t *testing.T) {
	q := newGatewayQueue(t,
		`{"final_blueprint": {"summary": "a todo app", "dependencies": ["fastapi", "uvicorn"]}}`,
		`{"audit_passed": true}`,
		`{"final_plan": ["Create src/models.py", "Create src/main.py"]}`,
	)
	svc, mission, userID := newTestService(t, q.srv.URL)

	svc.RunPlannerWorkflow(context.Background(), userID, "build a todo app", "demo")

	tasks, err := mission.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "Add the following dependencies to requirements.txt: fastapi, uvicorn", tasks[0].Description)
	assert.Equal(t, "Create src/models.py", tasks[1].Description)
	assert.False(t, tasks[2].Done)
}

func TestRunPlannerWorkflowAuditFailure(t *testing.T) {
	q := newGatewayQueue(t,
		`{"final_blueprint": {"summary": "wrong thing"}}`,
		`{"audit_passed": false}`,
	)
	svc, mission, userID := newTestService(t, q.srv.URL)

	svc.RunPlannerWorkflow(context.Background(), userID, "build a todo app", "demo")

	tasks, err := mission.Tasks()
	require.NoError(t, err)
	assert.Empty(t, tasks, "a failed audit must not install a plan")
}

func TestRunCompanionChat(t *testing.T) {
	q := newGatewayQueue(t, "Happy to help! What should the blog be about?")
	svc, _, userID := newTestService(t, q.srv.URL)
	reply := svc.RunCompanionChat(context.Background(), userID, "hi", nil)
	assert.Equal(t, "Happy to help! What should the blog be about?", reply)
}

func TestGenerateCodeForTask(t *testing.T) {
	q := newGatewayQueue(t, "```python\ndef main():\n    return 42\n```")
	svc, mission, userID := newTestService(t, q.srv.URL)
	_, err := mission.SetInitialPlan("build it", []string{"write main.py"})
	require.NoError(t, err)

	code, err := svc.GenerateCodeForTask(context.Background(), userID, "main.py", "write main.py", "build it", 1)
	require.NoError(t, err)
	assert.Equal(t, "def main():\n    return 42", code)
}

func TestGenerateCodeForTaskRejectsBrokenCode(t *testing.T) {
	q := newGatewayQueue(t, "```python\ndef broken(:\n```")
	svc, mission, userID := newTestService(t, q.srv.URL)
	_, err := mission.SetInitialPlan("build it", []string{"write main.py"})
	require.NoError(t, err)

	_, err = svc.GenerateCodeForTask(context.Background(), userID, "main.py", "write main.py", "build it", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestSelectToolCall(t *testing.T) {
	q := newGatewayQueue(t, `{"tool_name": "write_file", "arguments": {"path": "main.py"}}`)
	svc, _, userID := newTestService(t, q.srv.URL)

	call, err := svc.SelectToolCall(context.Background(), userID, ToolSelectContext{CurrentTask: "write main.py"})
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "write_file", call["tool_name"])
}

func TestSelectToolCallUnusableReply(t *testing.T) {
	q := newGatewayQueue(t, `{"arguments": {}}`)
	svc, _, userID := newTestService(t, q.srv.URL)

	call, err := svc.SelectToolCall(context.Background(), userID, ToolSelectContext{CurrentTask: "anything"})
	require.NoError(t, err)
	assert.Nil(t, call, "a reply without tool_name means retry, not crash")
}

func TestRunFinalPolishLinter(t *testing.T) {
	q := newGatewayQueue(t, `{"fixes": [{"file_path": "main.py", "original_code_snippet": "x=1", "fixed_code_snippet": "x = 1", "reason": "spacing"}]}`)
	svc, _, userID := newTestService(t, q.srv.URL)

	fixes := svc.RunFinalPolishLinter(context.Background(), userID, "build it", "main.py", "--- main.py (modified)")
	require.Len(t, fixes, 1)
	assert.Equal(t, "main.py", fixes[0].FilePath)
	assert.Equal(t, "x = 1", fixes[0].FixedCodeSnippet)
}

func TestGenerateMissionSummaryNoCompletedTasks(t *testing.T) {
	q := newGatewayQueue(t)
	svc, _, userID := newTestService(t, q.srv.URL)
	summary := svc.GenerateMissionSummary(context.Background(), userID, []missionlog.Task{
		{ID: 1, Description: "never ran"},
	})
	assert.Equal(t, "Mission accomplished!", summary)
}
