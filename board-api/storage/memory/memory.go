// Package memory keeps projects and tasks in process. It backs local
// development with STORE_DRIVER=memory and the package tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"prism-board/board-api/domain"
)

var errMissing = errors.New("document not found")

// Store implements both domain.ProjectStore and domain.TaskStore through the
// Projects and Tasks views.
type Store struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
	tasks    map[string]domain.Task
}

func New() *Store {
	return &Store{
		projects: make(map[string]domain.Project),
		tasks:    make(map[string]domain.Task),
	}
}

// Projects returns the project gateway.
func (s *Store) Projects() *Projects { return &Projects{s: s} }

// Tasks returns the task gateway.
func (s *Store) Tasks() *Tasks { return &Tasks{s: s} }

func cloneProject(p domain.Project) domain.Project {
	p.Members = slices.Clone(p.Members)
	if p.Members == nil {
		p.Members = []string{}
	}
	p.Columns = slices.Clone(p.Columns)
	return p
}

func cloneTask(t domain.Task) domain.Task {
	t.Labels = slices.Clone(t.Labels)
	return t
}

type Projects struct{ s *Store }

func (r *Projects) FindByID(_ context.Context, id string) (*domain.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	p = cloneProject(p)
	return &p, nil
}

func (r *Projects) FindByJoinCode(_ context.Context, code string) (*domain.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.projects {
		if p.JoinCode == code {
			p = cloneProject(p)
			return &p, nil
		}
	}
	return nil, nil
}

func (r *Projects) FindForUser(_ context.Context, userID string) ([]domain.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Project
	for _, p := range r.s.projects {
		if p.OwnerID == userID || slices.Contains(p.Members, userID) {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Projects) Create(_ context.Context, p domain.Project) (domain.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = primitive.NewObjectID().Hex()
	p = cloneProject(p)
	r.s.projects[p.ID] = p
	return cloneProject(p), nil
}

func (r *Projects) Save(_ context.Context, p domain.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.projects[p.ID]; !ok {
		return errMissing
	}
	r.s.projects[p.ID] = cloneProject(p)
	return nil
}

func (r *Projects) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.projects, id)
	return nil
}

type Tasks struct{ s *Store }

func (r *Tasks) FindByID(_ context.Context, projectID, taskID string) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.ProjectID != projectID {
		return nil, nil
	}
	t = cloneTask(t)
	return &t, nil
}

func (r *Tasks) filter(projectID string, keep func(domain.Task) bool) []domain.Task {
	var out []domain.Task
	for _, t := range r.s.tasks {
		if t.ProjectID == projectID && keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

func (r *Tasks) ListBoard(_ context.Context, projectID string) ([]domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.filter(projectID, func(t domain.Task) bool { return !t.Backlog })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Tasks) ListBacklog(_ context.Context, projectID string) ([]domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.filter(projectID, func(t domain.Task) bool { return t.Backlog })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *Tasks) CountInColumn(_ context.Context, projectID, columnKey string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, t := range r.s.tasks {
		if t.ProjectID == projectID && !t.Backlog && t.ColumnKey == columnKey {
			n++
		}
	}
	return n, nil
}

func (r *Tasks) Create(_ context.Context, t domain.Task) (domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = primitive.NewObjectID().Hex()
	r.s.tasks[t.ID] = cloneTask(t)
	return t, nil
}

func (r *Tasks) CreateMany(_ context.Context, ts []domain.Task) ([]domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Task, 0, len(ts))
	for _, t := range ts {
		t.ID = primitive.NewObjectID().Hex()
		r.s.tasks[t.ID] = cloneTask(t)
		out = append(out, t)
	}
	return out, nil
}

func (r *Tasks) Save(_ context.Context, t domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[t.ID]
	if !ok || cur.ProjectID != t.ProjectID {
		return errMissing
	}
	r.s.tasks[t.ID] = cloneTask(t)
	return nil
}

// Reorder applies all changes under one lock, mirroring a transactional
// bulk write.
func (r *Tasks) Reorder(_ context.Context, projectID string, changes []domain.OrderChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range changes {
		t, ok := r.s.tasks[c.ID]
		if !ok || t.ProjectID != projectID {
			continue
		}
		t.Order = c.Order
		if c.ColumnKey != "" {
			t.ToColumn(c.ColumnKey)
		}
		r.s.tasks[c.ID] = t
	}
	return nil
}

func (r *Tasks) Delete(_ context.Context, projectID, taskID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[taskID]; ok && t.ProjectID == projectID {
		delete(r.s.tasks, taskID)
	}
	return nil
}

func (r *Tasks) DeleteByProject(_ context.Context, projectID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.tasks {
		if t.ProjectID == projectID {
			delete(r.s.tasks, id)
			n++
		}
	}
	return n, nil
}

// Users is a fixed user directory.
type Users map[string]domain.User

func (u Users) Lookup(_ context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if user, ok := u[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}
