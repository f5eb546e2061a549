package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"aura/internal/auth"
	"aura/internal/hub"
	"aura/internal/llmgate"
	"aura/internal/session"
	"aura/internal/workspace"
)

type promptRequest struct {
	Prompt  string            `json:"prompt" binding:"required"`
	History []llmgate.Message `json:"history"`
}

type dispatchRequest struct {
	ProjectName string `json:"project_name" binding:"required"`
}

type fileWriteRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

// runBackground runs fn detached from the request, reporting failures to the
// user's socket. sendIdle additionally resets the agent status when fn
// returns, which long agent workflows rely on.
func (s *Server) runBackground(userID int64, errPrefix string, sendIdle bool, fn func(ctx context.Context) error) {
	go func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("background task panicked for user %d: %v", userID, r)
				s.hub.BroadcastToUser(hub.SystemLog(errPrefix+": internal error"), userID)
			}
			if sendIdle {
				s.hub.BroadcastToUser(hub.AgentStatus("idle"), userID)
			}
		}()
		if err := fn(ctx); err != nil {
			s.log.Error("background task failed for user %d: %v", userID, err)
			s.hub.BroadcastToUser(hub.SystemLog(errPrefix+": "+err.Error()), userID)
		}
	}()
}

// handlePrompt classifies the prompt synchronously, then runs the chosen
// workflow (plan assembly or companion chat) in the background.
func (s *Server) handlePrompt(c *gin.Context) {
	userID := auth.UserID(c)
	projectName := c.Param("project_name")
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}

	sess, err := s.sessions.ForProject(c.Request.Context(), userID, projectName)
	if err != nil {
		detail(c, http.StatusNotFound, "Project '%s' not found.", projectName)
		return
	}

	intent := sess.Team.DetermineIntent(c.Request.Context(), userID, req.Prompt, req.History)
	if intent == "PLAN" {
		s.runBackground(userID, "A critical error occurred while generating the plan", true,
			func(ctx context.Context) error {
				sess.Team.RunPlannerWorkflow(ctx, userID, req.Prompt, projectName)
				return nil
			})
		c.JSON(http.StatusAccepted, gin.H{
			"message": "Aura has received your request and is formulating a plan.",
		})
		return
	}
	s.runBackground(userID, "A critical error occurred during chat", true,
		func(ctx context.Context) error {
			// The reply streams to the socket chunk by chunk; the final
			// string is not needed here.
			sess.Team.RunCompanionChat(ctx, userID, req.Prompt, req.History)
			return nil
		})
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Chat request received. Response will be streamed via WebSocket.",
	})
}

func (s *Server) dispatchMission(c *gin.Context) {
	userID := auth.UserID(c)
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	if s.control.HasEntry(userID) && s.control.IsRunning(userID) {
		detail(c, http.StatusConflict, "A mission is already running. Stop it before dispatching another.")
		return
	}
	s.runBackground(userID, "A critical error occurred during mission execution", true,
		func(ctx context.Context) error {
			sess, err := s.sessions.ForProject(ctx, userID, req.ProjectName)
			if err != nil {
				return err
			}
			sess.Conductor.RunMission(ctx, userID)
			return nil
		})
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Dispatch acknowledged. Aura is now executing the mission plan.",
	})
}

func (s *Server) stopMission(c *gin.Context) {
	userID := auth.UserID(c)
	s.log.Info("received stop request for user %d's mission", userID)
	s.control.RequestStop(userID)
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Stop signal sent for user %d's mission.", userID),
	})
}

func (s *Server) listProjects(c *gin.Context) {
	ws, err := s.sessions.Workspace(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to list projects: %v", err)
		return
	}
	names, err := ws.ListProjects()
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to list projects: %v", err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) createProject(c *gin.Context) {
	projectName := c.Param("project_name")
	ws, err := s.sessions.Workspace(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to create project: %v", err)
		return
	}
	path, err := ws.NewProject(projectName)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrExists):
			detail(c, http.StatusConflict, "%v", err)
		case errors.Is(err, workspace.ErrInvalid):
			detail(c, http.StatusBadRequest, "%v", err)
		default:
			detail(c, http.StatusInternalServerError, "Failed to create project: %v", err)
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Project created successfully.",
		"project_path": path,
	})
}

// loadProject activates a project, kicks off index builds in the background,
// and pushes a fresh file tree to the user's clients.
func (s *Server) loadProject(c *gin.Context) {
	userID := auth.UserID(c)
	projectName := c.Param("project_name")
	ws, err := s.sessions.Workspace(userID)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to open workspace")
		return
	}
	if _, err := ws.LoadProject(projectName); err != nil {
		detail(c, http.StatusNotFound, "Project '%s' not found.", projectName)
		return
	}

	// ForProject builds the symbol index and, when empty, the retrieval
	// index as a side effect.
	s.runBackground(userID, "Background initial index failed", false,
		func(ctx context.Context) error {
			_, err := s.sessions.ForProject(ctx, userID, projectName)
			return err
		})

	if tree, err := ws.FileTree(); err == nil {
		s.hub.BroadcastToUser(hub.FileTreeUpdated(tree), userID)
	} else {
		s.log.Error("sending file tree for user %d: %v", userID, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project '" + projectName + "' loaded successfully."})
}

func (s *Server) deleteProject(c *gin.Context) {
	projectName := c.Param("project_name")
	ws, err := s.sessions.Workspace(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to open workspace")
		return
	}
	if err := ws.DeleteProject(projectName); err != nil {
		switch {
		case errors.Is(err, workspace.ErrNotFound):
			detail(c, http.StatusNotFound, "%v", err)
		case errors.Is(err, workspace.ErrInvalid):
			detail(c, http.StatusBadRequest, "%v", err)
		default:
			detail(c, http.StatusInternalServerError, "Failed to delete project: %v", err)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// projectWorkspace loads the named project for file endpoints. Responds 404
// itself and returns nil when the project does not exist.
func (s *Server) projectWorkspace(c *gin.Context) *workspace.Manager {
	projectName := c.Param("project_name")
	ws, err := s.sessions.Workspace(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to open workspace")
		return nil
	}
	if _, err := ws.LoadProject(projectName); err != nil {
		detail(c, http.StatusNotFound, "Project '%s' not found.", projectName)
		return nil
	}
	return ws
}

func (s *Server) projectFileTree(c *gin.Context) {
	ws := s.projectWorkspace(c)
	if ws == nil {
		return
	}
	tree, err := ws.FileTree()
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to read file tree")
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) readProjectFile(c *gin.Context) {
	ws := s.projectWorkspace(c)
	if ws == nil {
		return
	}
	path := c.Query("path")
	content, err := ws.ReadFile(path)
	if err != nil {
		detail(c, http.StatusNotFound, "File not found at path: '%s'.", path)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

func (s *Server) writeProjectFile(c *gin.Context) {
	userID := auth.UserID(c)
	projectName := c.Param("project_name")
	ws := s.projectWorkspace(c)
	if ws == nil {
		return
	}
	var req fileWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	abs, err := ws.WriteFile(req.Path, req.Content)
	if err != nil {
		detail(c, http.StatusBadRequest, "Invalid file path or failed to write file.")
		return
	}
	rel := ws.Rel(abs)

	s.runBackground(userID, "Background re-indexing failed", false,
		func(ctx context.Context) error {
			sess, err := s.sessions.ForProject(ctx, userID, projectName)
			if err != nil {
				return err
			}
			return reindexFile(ctx, sess, rel, req.Content)
		})
	c.Status(http.StatusNoContent)
}

func reindexFile(ctx context.Context, sess *session.Session, rel, content string) error {
	if err := sess.RAG.ReindexFile(ctx, rel, content); err != nil {
		return err
	}
	return sess.Intel.UpdateFile(ctx, rel, content)
}
