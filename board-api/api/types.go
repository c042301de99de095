package api

import (
	"context"

	"prism-board/board-api/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Board is the orchestrator surface the handlers drive.
type Board interface {
	ListProjects(ctx context.Context, userID string) ([]domain.ProjectView, error)
	GetProject(ctx context.Context, userID, projectID string) (domain.ProjectView, error)
	CreateProject(ctx context.Context, userID string, in domain.CreateProject) (domain.ProjectView, error)
	UpdateProject(ctx context.Context, userID, projectID string, in domain.ProjectUpdate) (domain.ProjectView, error)
	DeleteProject(ctx context.Context, userID, projectID string) error
	JoinProject(ctx context.Context, userID, code string) (domain.JoinResult, error)
	RemoveMember(ctx context.Context, userID, projectID, memberID string) (domain.ProjectView, error)
	RegenerateJoinCode(ctx context.Context, userID, projectID string) (domain.ProjectView, error)

	ListTasks(ctx context.Context, userID, projectID string) ([]domain.Task, error)
	ListBacklog(ctx context.Context, userID, projectID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID, projectID string, in domain.NewTask) (domain.Task, error)
	CreateBacklogTask(ctx context.Context, userID, projectID string, in domain.NewTask) (domain.Task, error)
	MoveTask(ctx context.Context, userID, projectID, taskID string, to domain.MoveTarget) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, projectID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, projectID, taskID string) error
	ReorderTasks(ctx context.Context, userID, projectID string, changes []domain.OrderChange) error
	ImportTasks(ctx context.Context, userID, projectID, importID string, items []domain.ImportTask) (domain.ImportResult, error)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type projectsResponse struct {
	Projects []domain.ProjectView `json:"projects"`
}

type projectResponse struct {
	Project domain.ProjectView `json:"project"`
	Message string             `json:"message,omitempty"`
}

type taskResponse struct {
	Task domain.Task `json:"task"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type importResponse struct {
	Tasks     []domain.Task `json:"tasks"`
	Imported  int           `json:"imported"`
	Duplicate bool          `json:"duplicate,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}
