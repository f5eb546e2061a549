package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura/internal/auth"
	"aura/internal/config"
	"aura/internal/foundry"
	"aura/internal/hub"
	"aura/internal/llmgate"
	"aura/internal/missioncontrol"
	"aura/internal/rag"
	"aura/internal/session"
	"aura/internal/store"
)

type testEnv struct {
	router  *gin.Engine
	store   *store.Store
	control *missioncontrol.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "aura.db"), "unit-test-secret", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		BetaAccessKey:            "beta-123",
		JWTSecretKey:             "jwt-test-secret",
		AccessTokenExpireMinutes: 30,
		WorkspacesRoot:           t.TempDir(),
		LLMServerURL:             "http://127.0.0.1:1",
	}
	tokens := auth.NewTokenService(cfg.JWTSecretKey, cfg.AccessTokenExpireMinutes)
	h := hub.New(nil)
	control := missioncontrol.New()
	registry, err := foundry.NewRegistry(nil)
	require.NoError(t, err)
	embedder, err := rag.NewHashEmbedder(64)
	require.NoError(t, err)
	sessions := session.NewFactory(st, llmgate.NewStreamer(cfg.LLMServerURL, nil),
		h, control, registry, embedder, cfg.WorkspacesRoot, nil)

	srv := NewServer(cfg, st, tokens, h, control, sessions, nil)
	return &testEnv{router: srv.Router(), store: st, control: control}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewBuffer(encoded)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// signup registers and logs in a fresh account, returning its bearer token
// and user id.
func (e *testEnv) signup(t *testing.T, email string) (string, int64) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": email, "password": "hunter22", "beta_key": "beta-123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	form := url.Values{"username": {email}, "password": {"hunter22"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "bearer", out.TokenType)

	user, err := e.store.GetUserByEmail(email)
	require.NoError(t, err)
	return out.AccessToken, user.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "ERROR_NO_KEY", maskAPIKey(""))
	assert.Equal(t, "********", maskAPIKey("short"))
	assert.Equal(t, "sk_...cdef", maskAPIKey("sk_live_abcdef"))
	assert.Equal(t, "sk_...12", maskAPIKey("sk_short_12"))
	assert.Equal(t, "abcd...wxyz", maskAPIKey("abcd1234wxyz"))
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRegisterRejectsBadBetaKey(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@b.com", "password": "pw", "beta_key": "wrong",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Invalid Beta Key", decode(t, w)["detail"])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "dupe@example.com")
	w := e.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "dupe@example.com", "password": "pw", "beta_key": "beta-123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email already registered", decode(t, w)["detail"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "user@example.com")

	form := url.Values{"username": {"user@example.com"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Incorrect email or password", decode(t, w)["detail"])
}

func TestCurrentUser(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "me@example.com")

	w := e.do(t, http.MethodGet, "/auth/users/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "me@example.com", decode(t, w)["email"])

	w = e.do(t, http.MethodGet, "/auth/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProviderKeyLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "keys@example.com")

	w := e.do(t, http.MethodPost, "/api-keys/", token, gin.H{
		"provider_name": "OpenAI", "api_key": "sk_live_abcdef",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "openai", body["provider_name"])
	assert.Equal(t, "sk_...cdef", body["masked_key"])

	w = e.do(t, http.MethodGet, "/api-keys/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	keys := decode(t, w)["keys"].([]any)
	require.Len(t, keys, 1)

	w = e.do(t, http.MethodDelete, "/api-keys/openai", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodDelete, "/api-keys/openai", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "API key for provider 'openai' not found.", decode(t, w)["detail"])
}

func TestAvailableModelsFilteredByConfiguredProviders(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "models@example.com")

	w := e.do(t, http.MethodGet, "/api/assignments/available-models", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["models"])

	e.do(t, http.MethodPost, "/api-keys/", token, gin.H{"provider_name": "openai", "api_key": "sk_live_abcdef"})
	w = e.do(t, http.MethodGet, "/api/assignments/available-models", token, nil)
	models := decode(t, w)["models"].(map[string]any)
	require.Contains(t, models, "openai")
	assert.NotContains(t, models, "anthropic")
}

func TestAssignmentsRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "assign@example.com")

	w := e.do(t, http.MethodPost, "/api/assignments/", token, gin.H{
		"assignments": []gin.H{
			{"role_name": "planner", "model_id": "openai/gpt-4o", "temperature": 0.2},
			{"role_name": "coder", "model_id": "openai/gpt-4o", "temperature": 0.0},
		},
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/assignments/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assignments := decode(t, w)["assignments"].([]any)
	assert.Len(t, assignments, 2)
}

func TestAssignmentsRejectBadTemperature(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "temp@example.com")

	w := e.do(t, http.MethodPost, "/api/assignments/", token, gin.H{
		"assignments": []gin.H{{"role_name": "planner", "model_id": "m", "temperature": 3.5}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "between 0 and 2")
}

func TestProjectLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "projects@example.com")

	w := e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Project created successfully.", body["message"])
	assert.NotEmpty(t, body["project_path"])

	w = e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/agent/projects/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"demo"}, names)

	w = e.do(t, http.MethodPost, "/agent/projects/demo/load", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Project 'demo' loaded successfully.", decode(t, w)["message"])

	w = e.do(t, http.MethodDelete, "/agent/projects/demo", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodDelete, "/agent/projects/demo", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoadUnknownProject(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "ghost@example.com")
	w := e.do(t, http.MethodPost, "/agent/projects/ghost/load", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Project 'ghost' not found.", decode(t, w)["detail"])
}

func TestWorkspaceFileReadWrite(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "files@example.com")
	e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)

	w := e.do(t, http.MethodPost, "/agent/projects/workspace/demo/file", token, gin.H{
		"path": "src/main.py", "content": "print('hi')\n",
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/agent/projects/workspace/demo/file?path=src/main.py", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "print('hi')\n", decode(t, w)["content"])

	w = e.do(t, http.MethodGet, "/agent/projects/workspace/demo/file?path=nope.py", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File not found at path: 'nope.py'.", decode(t, w)["detail"])

	w = e.do(t, http.MethodPost, "/agent/projects/workspace/demo/file", token, gin.H{
		"path": "../escape.py", "content": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkspaceFileTree(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "tree@example.com")
	e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)
	e.do(t, http.MethodPost, "/agent/projects/workspace/demo/file", token, gin.H{
		"path": "src/app.py", "content": "x = 1\n",
	})

	w := e.do(t, http.MethodGet, "/agent/projects/workspace/demo/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tree []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.Len(t, tree, 1)
	assert.Equal(t, "src", tree[0]["name"])
	assert.Equal(t, "dir", tree[0]["kind"])
}

func TestMissionTaskLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "missions@example.com")
	e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)

	w := e.do(t, http.MethodPost, "/api/missions/demo/tasks", token, gin.H{"description": "write code"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode(t, w)
	assert.Equal(t, float64(1), task["id"])
	assert.Equal(t, "write code", task["description"])

	w = e.do(t, http.MethodPut, "/api/missions/demo/tasks/1", token, gin.H{"description": "write better code"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPut, "/api/missions/demo/tasks/99", token, gin.H{"description": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Task with ID 99 not found.", decode(t, w)["detail"])

	e.do(t, http.MethodPost, "/api/missions/demo/tasks", token, gin.H{"description": "run tests"})
	w = e.do(t, http.MethodPost, "/api/missions/demo/tasks/reorder", token, gin.H{"ordered_task_ids": []int{2, 1}})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPost, "/api/missions/demo/tasks/reorder", token, gin.H{"ordered_task_ids": []int{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Failed to reorder tasks. The provided list of IDs may be invalid or incomplete.",
		decode(t, w)["detail"])

	w = e.do(t, http.MethodDelete, "/api/missions/demo/tasks/1", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMissionRoutesRequireExistingProject(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signup(t, "nomission@example.com")
	w := e.do(t, http.MethodPost, "/api/missions/nope/tasks", token, gin.H{"description": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Project 'nope' not found for this user.", decode(t, w)["detail"])
}

func TestDispatchRejectsConcurrentMission(t *testing.T) {
	e := newTestEnv(t)
	token, userID := e.signup(t, "busy@example.com")
	e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)

	e.control.SetMissionRunning(userID)
	defer e.control.SetMissionFinished(userID)

	w := e.do(t, http.MethodPost, "/agent/projects/dispatch", token, gin.H{"project_name": "demo"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "A mission is already running. Stop it before dispatching another.",
		decode(t, w)["detail"])
}

func TestStopMission(t *testing.T) {
	e := newTestEnv(t)
	token, userID := e.signup(t, "stop@example.com")
	e.do(t, http.MethodPost, "/agent/projects/demo", token, nil)

	e.control.SetMissionRunning(userID)
	w := e.do(t, http.MethodPost, "/agent/projects/demo/stop", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["message"], "Stop signal sent")
	assert.False(t, e.control.IsRunning(userID))
	e.control.SetMissionFinished(userID)
}

func TestProjectsAreScopedPerUser(t *testing.T) {
	e := newTestEnv(t)
	tokenA, _ := e.signup(t, "alice@example.com")
	tokenB, _ := e.signup(t, "bob@example.com")
	e.do(t, http.MethodPost, "/agent/projects/secret", tokenA, nil)

	w := e.do(t, http.MethodPost, "/agent/projects/secret/load", tokenB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
