package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"prism-board/board-api/domain"
)

type taskBody struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Color       string          `json:"color"`
	ColumnKey   string          `json:"columnKey"`
	Order       *float64        `json:"order"`
	AssigneeID  string          `json:"assigneeId"`
	Labels      []string        `json:"labels"`
	Estimate    *float64        `json:"estimate"`
	StoryPoints *float64        `json:"storyPoints"`
	Priority    domain.Priority `json:"priority"`
	DueDate     *time.Time      `json:"dueDate"`
}

func (b taskBody) toNewTask() domain.NewTask {
	return domain.NewTask{
		Title:       b.Title,
		Description: b.Description,
		Color:       b.Color,
		ColumnKey:   b.ColumnKey,
		Order:       b.Order,
		AssigneeID:  b.AssigneeID,
		Labels:      b.Labels,
		Estimate:    b.Estimate,
		StoryPoints: b.StoryPoints,
		Priority:    b.Priority,
		DueDate:     b.DueDate,
	}
}

type moveBody struct {
	ToColumnKey string `json:"toColumnKey"`
	Backlog     bool   `json:"backlog"`
}

type reorderBody struct {
	Tasks []domain.OrderChange `json:"tasks"`
}

type importItem struct {
	Title     string `json:"title"`
	Column    string `json:"column"`
	ColumnKey string `json:"columnKey"`
	Color     string `json:"color"`
}

type importBody struct {
	Tasks    []importItem `json:"tasks"`
	ImportID string       `json:"importId"`
}

func (h *handlers) listTasks(c echo.Context) error {
	tasks, err := h.board.ListTasks(c.Request().Context(), currentUser(c), c.Param("projectId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h *handlers) listBacklog(c echo.Context) error {
	tasks, err := h.board.ListBacklog(c.Request().Context(), currentUser(c), c.Param("projectId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h *handlers) createTask(c echo.Context) error {
	var body taskBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	t, err := h.board.CreateTask(c.Request().Context(), currentUser(c), c.Param("projectId"), body.toNewTask())
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, taskResponse{Task: t})
}

func (h *handlers) createBacklogTask(c echo.Context) error {
	var body taskBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	t, err := h.board.CreateBacklogTask(c.Request().Context(), currentUser(c), c.Param("projectId"), body.toNewTask())
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, taskResponse{Task: t})
}

func (h *handlers) updateTask(c echo.Context) error {
	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	patch, err := domain.ParseTaskPatch(data)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	t, err := h.board.UpdateTask(c.Request().Context(), currentUser(c), c.Param("projectId"), c.Param("taskId"), patch)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, taskResponse{Task: t})
}

func (h *handlers) moveTask(c echo.Context) error {
	var body moveBody
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	t, err := h.board.MoveTask(c.Request().Context(), currentUser(c), c.Param("projectId"), c.Param("taskId"), domain.MoveTarget{
		ToColumnKey: body.ToColumnKey,
		Backlog:     body.Backlog,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, taskResponse{Task: t})
}

func (h *handlers) deleteTask(c echo.Context) error {
	if err := h.board.DeleteTask(c.Request().Context(), currentUser(c), c.Param("projectId"), c.Param("taskId")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) reorderTasks(c echo.Context) error {
	var body reorderBody
	if err := decodeBody(c, &body); err != nil || body.Tasks == nil {
		return badRequest(c, "tasks array required")
	}
	if err := h.board.ReorderTasks(c.Request().Context(), currentUser(c), c.Param("projectId"), body.Tasks); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *handlers) importTasks(c echo.Context) error {
	var body importBody
	if err := decodeBody(c, &body); err != nil || body.Tasks == nil {
		return badRequest(c, "tasks array required")
	}
	items := make([]domain.ImportTask, 0, len(body.Tasks))
	for _, it := range body.Tasks {
		items = append(items, domain.ImportTask(it))
	}
	res, err := h.board.ImportTasks(c.Request().Context(), currentUser(c), c.Param("projectId"), body.ImportID, items)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, importResponse{Tasks: res.Tasks, Imported: res.Imported, Duplicate: res.Duplicate})
}
