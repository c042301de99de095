package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"prism-board/board-api/domain"
)

type columnDoc struct {
	ID    string `bson:"id,omitempty"`
	Key   string `bson:"key"`
	Title string `bson:"title"`
	Order int    `bson:"order"`
	WIP   *int   `bson:"wip,omitempty"`
}

type projectDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID     string             `bson:"ownerId"`
	Name        string             `bson:"name"`
	Description string             `bson:"description,omitempty"`
	Members     []string           `bson:"members"`
	JoinCode    string             `bson:"joinCode"`
	Columns     []columnDoc        `bson:"columns"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

// taskDoc omits columnKey when empty so a replace of a backlog task drops
// the field entirely.
type taskDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ProjectID   primitive.ObjectID `bson:"projectId"`
	Title       string             `bson:"title"`
	Description string             `bson:"description,omitempty"`
	Color       string             `bson:"color,omitempty"`
	Order       float64            `bson:"order"`
	ColumnKey   string             `bson:"columnKey,omitempty"`
	Backlog     bool               `bson:"backlog"`
	AssigneeID  string             `bson:"assigneeId,omitempty"`
	Labels      []string           `bson:"labels,omitempty"`
	Estimate    *float64           `bson:"estimate,omitempty"`
	StoryPoints *float64           `bson:"storyPoints,omitempty"`
	Priority    string             `bson:"priority"`
	DueDate     *time.Time         `bson:"dueDate,omitempty"`
	CreatedBy   string             `bson:"createdBy"`
	StartedAt   *time.Time         `bson:"startedAt,omitempty"`
	CompletedAt *time.Time         `bson:"completedAt,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func projectToDoc(p domain.Project) projectDoc {
	cols := make([]columnDoc, 0, len(p.Columns))
	for _, c := range p.Columns {
		cols = append(cols, columnDoc(c))
	}
	members := p.Members
	if members == nil {
		members = []string{}
	}
	id, _ := primitive.ObjectIDFromHex(p.ID)
	return projectDoc{
		ID:          id,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		Members:     members,
		JoinCode:    p.JoinCode,
		Columns:     cols,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (d projectDoc) toDomain() domain.Project {
	cols := make([]domain.Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, domain.Column(c))
	}
	members := d.Members
	if members == nil {
		members = []string{}
	}
	return domain.Project{
		ID:          d.ID.Hex(),
		OwnerID:     d.OwnerID,
		Name:        d.Name,
		Description: d.Description,
		Members:     members,
		JoinCode:    d.JoinCode,
		Columns:     cols,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func taskToDoc(t domain.Task) taskDoc {
	id, _ := primitive.ObjectIDFromHex(t.ID)
	pid, _ := primitive.ObjectIDFromHex(t.ProjectID)
	d := taskDoc{
		ID:          id,
		ProjectID:   pid,
		Title:       t.Title,
		Description: t.Description,
		Color:       t.Color,
		Order:       t.Order,
		ColumnKey:   t.ColumnKey,
		Backlog:     t.Backlog,
		AssigneeID:  t.AssigneeID,
		Labels:      t.Labels,
		Estimate:    t.Estimate,
		StoryPoints: t.StoryPoints,
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		CreatedBy:   t.CreatedBy,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if d.Backlog {
		d.ColumnKey = ""
	}
	return d
}

func (d taskDoc) toDomain() domain.Task {
	prio := domain.Priority(d.Priority)
	if !prio.Valid() {
		prio = domain.PriorityMedium
	}
	t := domain.Task{
		ID:          d.ID.Hex(),
		ProjectID:   d.ProjectID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Color:       d.Color,
		Order:       d.Order,
		ColumnKey:   d.ColumnKey,
		Backlog:     d.Backlog,
		AssigneeID:  d.AssigneeID,
		Labels:      d.Labels,
		Estimate:    d.Estimate,
		StoryPoints: d.StoryPoints,
		Priority:    prio,
		DueDate:     d.DueDate,
		CreatedBy:   d.CreatedBy,
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if t.ColumnKey == "" {
		t.Backlog = true
	}
	return t
}
