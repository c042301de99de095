package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board-api/domain"
)

// Register wires up all API routes on the provided Echo instance. Extra
// middleware runs after authentication on every /api route.
func Register(e *echo.Echo, board Board, auth Authenticator, logger *log.Logger, mw ...echo.MiddlewareFunc) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{board: board, logger: logger}

	g := e.Group("/api/projects", append([]echo.MiddlewareFunc{RequireUser(auth), GzipRequestMiddleware()}, mw...)...)
	g.GET("", h.listProjects)
	g.POST("", h.createProject)
	g.POST("/join", h.joinProject)
	g.GET("/:projectId", h.getProject)
	g.PATCH("/:projectId", h.updateProject)
	g.DELETE("/:projectId", h.deleteProject)
	g.POST("/:projectId/join-code", h.regenerateJoinCode)
	g.DELETE("/:projectId/members/:memberId", h.removeMember)

	g.GET("/:projectId/tasks", h.listTasks)
	g.POST("/:projectId/tasks", h.createTask)
	g.GET("/:projectId/tasks/backlog", h.listBacklog)
	g.POST("/:projectId/tasks/backlog", h.createBacklogTask)
	g.POST("/:projectId/tasks/reorder", h.reorderTasks)
	g.POST("/:projectId/tasks/import", h.importTasks)
	g.PATCH("/:projectId/tasks/:taskId", h.updateTask)
	g.POST("/:projectId/tasks/:taskId/move", h.moveTask)
	g.DELETE("/:projectId/tasks/:taskId", h.deleteTask)
}

type handlers struct {
	board  Board
	logger *log.Logger
}

// RequireUser authenticates the bearer token and stores the caller's id on
// the context.
func RequireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return unauthorized(c, err)
			}
			c.Set(ctxUserID, userID)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

// Healthz reports liveness of the process. Ping failures are logged and
// answered with a fixed message.
func Healthz(ping func(echo.Context) error, logger *log.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(c echo.Context) error {
		if ping != nil {
			if err := ping(c); err != nil {
				logger.Errorf("health check: %v", err)
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Service unavailable"})
			}
		}
		return c.NoContent(http.StatusOK)
	}
}

type projectBody struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Columns     []domain.Column `json:"columns"`
}

type joinBody struct {
	JoinCode string `json:"joinCode"`
}

func (h *handlers) listProjects(c echo.Context) error {
	projects, err := h.board.ListProjects(c.Request().Context(), currentUser(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, projectsResponse{Projects: projects})
}

func (h *handlers) getProject(c echo.Context) error {
	p, err := h.board.GetProject(c.Request().Context(), currentUser(c), c.Param("projectId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, projectResponse{Project: p})
}

func (h *handlers) createProject(c echo.Context) error {
	var body projectBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	in := domain.CreateProject{Columns: body.Columns}
	if body.Name != nil {
		in.Name = *body.Name
	}
	if body.Description != nil {
		in.Description = *body.Description
	}
	p, err := h.board.CreateProject(c.Request().Context(), currentUser(c), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, projectResponse{Project: p})
}

func (h *handlers) updateProject(c echo.Context) error {
	var body projectBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := h.board.UpdateProject(c.Request().Context(), currentUser(c), c.Param("projectId"), domain.ProjectUpdate{
		Name:        body.Name,
		Description: body.Description,
		Columns:     body.Columns,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, projectResponse{Project: p})
}

func (h *handlers) deleteProject(c echo.Context) error {
	if err := h.board.DeleteProject(c.Request().Context(), currentUser(c), c.Param("projectId")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) joinProject(c echo.Context) error {
	var body joinBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.board.JoinProject(c.Request().Context(), currentUser(c), strings.TrimSpace(body.JoinCode))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	msg := "Joined project"
	if res.AlreadyMember {
		msg = "Already a member"
	}
	return c.JSON(http.StatusOK, projectResponse{Project: res.Project, Message: msg})
}

func (h *handlers) removeMember(c echo.Context) error {
	p, err := h.board.RemoveMember(c.Request().Context(), currentUser(c), c.Param("projectId"), c.Param("memberId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, projectResponse{Project: p, Message: "Member removed successfully"})
}

func (h *handlers) regenerateJoinCode(c echo.Context) error {
	p, err := h.board.RegenerateJoinCode(c.Request().Context(), currentUser(c), c.Param("projectId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, projectResponse{Project: p})
}
