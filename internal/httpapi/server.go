// Package httpapi exposes the server's REST and websocket surface:
// authentication, provider-key and model-assignment settings, project and
// mission-log management, the agent prompt/dispatch endpoints, and the
// command-deck socket.
package httpapi

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aura/internal/auth"
	"aura/internal/config"
	"aura/internal/hub"
	"aura/internal/logging"
	"aura/internal/missioncontrol"
	"aura/internal/session"
	"aura/internal/store"
)

// allowedOrigins covers the production frontend, local development, and
// preview deployments.
var allowedOrigins = regexp.MustCompile(
	`^https?://((.*\.)?snowballannotation\.com|localhost(:\d+)?|127\.0\.0\.1(:\d+)?)$|^https://.*\.vercel\.app$`)

// Server holds the process-wide services the handlers share.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	tokens   *auth.TokenService
	hub      *hub.Hub
	control  *missioncontrol.Registry
	sessions *session.Factory
	log      logging.Logger
}

func NewServer(cfg *config.Config, st *store.Store, tokens *auth.TokenService, h *hub.Hub,
	control *missioncontrol.Registry, sessions *session.Factory, log logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		tokens:   tokens,
		hub:      h,
		control:  control,
		sessions: sessions,
		log:      logging.OrNop(log),
	}
}

// Router builds the full route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), requestID())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return allowedOrigins.MatchString(origin) },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := auth.Middleware(s.tokens)

	ag := r.Group("/auth")
	{
		ag.POST("/register", s.register)
		ag.POST("/token", s.login)
		ag.GET("/users/me", authed, s.currentUser)
	}

	keys := r.Group("/api-keys", authed)
	{
		keys.POST("/", s.upsertProviderKey)
		keys.GET("/", s.listProviderKeys)
		keys.DELETE("/:provider_name", s.deleteProviderKey)
	}

	assignments := r.Group("/api/assignments", authed)
	{
		assignments.GET("/available-models", s.availableModels)
		assignments.GET("/", s.listAssignments)
		assignments.POST("/", s.updateAssignments)
	}

	missions := r.Group("/api/missions", authed)
	{
		missions.POST("/:project_name/tasks", s.addMissionTask)
		missions.PUT("/:project_name/tasks/:task_id", s.updateMissionTask)
		missions.DELETE("/:project_name/tasks/:task_id", s.deleteMissionTask)
		missions.POST("/:project_name/tasks/reorder", s.reorderMissionTasks)
	}

	projects := r.Group("/agent/projects", authed)
	{
		projects.GET("/", s.listProjects)
		projects.POST("/dispatch", s.dispatchMission)
		projects.POST("/:project_name", s.createProject)
		projects.POST("/:project_name/load", s.loadProject)
		projects.POST("/:project_name/prompt", s.handlePrompt)
		projects.POST("/:project_name/stop", s.stopMission)
		projects.DELETE("/:project_name", s.deleteProject)
		projects.GET("/workspace/:project_name/files", s.projectFileTree)
		projects.GET("/workspace/:project_name/file", s.readProjectFile)
		projects.POST("/workspace/:project_name/file", s.writeProjectFile)
	}

	r.GET("/ws/command_deck", s.commandDeckSocket)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// Websocket upgrades and metrics scrapes are too chatty for info.
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/ws/command_deck" {
			return
		}
		s.log.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// detail mirrors the error body shape used across the API.
func detail(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, gin.H{"detail": fmt.Sprintf(format, args...)})
}
