package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aura/internal/auth"
	"aura/internal/hub"
	"aura/internal/missionlog"
)

// projectMissionLog opens the mission log of one of the caller's projects.
// Responds 404 itself and returns nil when the project does not exist.
func (s *Server) projectMissionLog(c *gin.Context) *missionlog.Store {
	userID := auth.UserID(c)
	projectName := c.Param("project_name")
	ws, err := s.sessions.Workspace(userID)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to open workspace")
		return nil
	}
	path, err := ws.LoadProject(projectName)
	if err != nil {
		detail(c, http.StatusNotFound, "Project '%s' not found for this user.", projectName)
		return nil
	}
	return missionlog.NewStore(path, s.log, func(tasks []missionlog.Task) {
		s.hub.BroadcastToUser(hub.MissionLogUpdated(tasks), userID)
	})
}

func (s *Server) taskID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("task_id"))
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "task id must be an integer")
		return 0, false
	}
	return id, true
}

type taskDescriptionRequest struct {
	Description string `json:"description" binding:"required"`
}

func (s *Server) addMissionTask(c *gin.Context) {
	mission := s.projectMissionLog(c)
	if mission == nil {
		return
	}
	var req taskDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	tasks, err := mission.AddTasks([]string{req.Description})
	if err != nil || len(tasks) == 0 {
		detail(c, http.StatusInternalServerError, "failed to add task")
		return
	}
	c.JSON(http.StatusCreated, tasks[len(tasks)-1])
}

func (s *Server) updateMissionTask(c *gin.Context) {
	mission := s.projectMissionLog(c)
	if mission == nil {
		return
	}
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	var req taskDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	if err := mission.UpdateDescription(id, req.Description); err != nil {
		detail(c, http.StatusNotFound, "Task with ID %d not found.", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteMissionTask(c *gin.Context) {
	mission := s.projectMissionLog(c)
	if mission == nil {
		return
	}
	id, ok := s.taskID(c)
	if !ok {
		return
	}
	if err := mission.DeleteTask(id); err != nil {
		detail(c, http.StatusNotFound, "Task with ID %d not found.", id)
		return
	}
	c.Status(http.StatusNoContent)
}

type tasksReorderRequest struct {
	OrderedTaskIDs []int `json:"ordered_task_ids" binding:"required"`
}

func (s *Server) reorderMissionTasks(c *gin.Context) {
	mission := s.projectMissionLog(c)
	if mission == nil {
		return
	}
	var req tasksReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	if err := mission.ReorderTasks(req.OrderedTaskIDs); err != nil {
		detail(c, http.StatusBadRequest,
			"Failed to reorder tasks. The provided list of IDs may be invalid or incomplete.")
		return
	}
	c.Status(http.StatusNoContent)
}
