package domain

import "context"

// ProjectStore persists projects. Finders return nil, nil when nothing
// matches.
type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*Project, error)
	FindByJoinCode(ctx context.Context, code string) (*Project, error)
	// FindForUser returns projects owned by userID or listing it as a member.
	FindForUser(ctx context.Context, userID string) ([]Project, error)
	// Create assigns the id and returns the stored project.
	Create(ctx context.Context, p Project) (Project, error)
	Save(ctx context.Context, p Project) error
	Delete(ctx context.Context, id string) error
}

// TaskStore persists tasks, always scoped by project.
type TaskStore interface {
	FindByID(ctx context.Context, projectID, taskID string) (*Task, error)
	// ListBoard returns non-backlog tasks sorted by order ascending.
	ListBoard(ctx context.Context, projectID string) ([]Task, error)
	// ListBacklog returns backlog tasks, newest first.
	ListBacklog(ctx context.Context, projectID string) ([]Task, error)
	// CountInColumn counts non-backlog tasks bearing columnKey.
	CountInColumn(ctx context.Context, projectID, columnKey string) (int, error)
	Create(ctx context.Context, t Task) (Task, error)
	CreateMany(ctx context.Context, ts []Task) ([]Task, error)
	Save(ctx context.Context, t Task) error
	// Reorder applies every change as one batch write. A change with a
	// column key also takes the task out of the backlog.
	Reorder(ctx context.Context, projectID string, changes []OrderChange) error
	Delete(ctx context.Context, projectID, taskID string) error
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
}

// UserDirectory resolves user ids to display records. Missing ids are simply
// absent from the result.
type UserDirectory interface {
	Lookup(ctx context.Context, ids []string) (map[string]User, error)
}

// ImportDeduper remembers import identifiers so a repeated local import is
// skipped. It is best-effort.
type ImportDeduper interface {
	Add(ctx context.Context, scope, key string) (bool, error)
	Remove(ctx context.Context, scope, key string) error
}

type freshReadsKey struct{}

// WithFreshReads marks ctx so caching gateways read through to the store.
// Validation that must see persisted state uses it.
func WithFreshReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshReadsKey{}, true)
}

func FreshReads(ctx context.Context) bool {
	v, _ := ctx.Value(freshReadsKey{}).(bool)
	return v
}
