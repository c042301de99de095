package domain

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for client side sorting.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// OrderGap spaces imported and appended tasks so a card can be inserted
// between neighbours without renumbering.
const OrderGap = 1000

// Task is a card on the board or in the backlog. Backlog is true exactly when
// ColumnKey is empty.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Color       string     `json:"color,omitempty"`
	Order       float64    `json:"order"`
	ColumnKey   string     `json:"columnKey,omitempty"`
	Backlog     bool       `json:"backlog"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Estimate    *float64   `json:"estimate,omitempty"`
	StoryPoints *float64   `json:"storyPoints,omitempty"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ToBacklog parks the task in the backlog.
func (t *Task) ToBacklog() {
	t.Backlog = true
	t.ColumnKey = ""
}

// ToColumn places the task on the board.
func (t *Task) ToColumn(key string) {
	t.Backlog = false
	t.ColumnKey = key
}

// Placement reports where the task sits; the backlog reports BacklogKey.
func (t Task) Placement() string {
	if t.Backlog || t.ColumnKey == "" {
		return BacklogKey
	}
	return t.ColumnKey
}

// OrderChange is one reorder item, echoed in tasks:reordered.
type OrderChange struct {
	ID        string  `json:"id"`
	Order     float64 `json:"order"`
	ColumnKey string  `json:"columnKey,omitempty"`
}
