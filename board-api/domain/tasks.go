package domain

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/realtime"
)

const defaultImportColumn = "to-do"

// NewTask is the input for board and backlog creation. Order and ColumnKey
// are ignored for backlog tasks.
type NewTask struct {
	Title       string
	Description string
	Color       string
	ColumnKey   string
	Order       *float64
	AssigneeID  string
	Labels      []string
	Estimate    *float64
	StoryPoints *float64
	Priority    Priority
	DueDate     *time.Time
}

// MoveTarget is either a column key or the backlog.
type MoveTarget struct {
	ToColumnKey string
	Backlog     bool
}

// ImportTask is one card from a client's local storage.
type ImportTask struct {
	Title     string
	Column    string
	ColumnKey string
	Color     string
}

type ImportResult struct {
	Tasks     []Task
	Imported  int
	Duplicate bool
}

type taskPayload struct {
	Task Task `json:"task"`
}

type taskIDPayload struct {
	TaskID string `json:"taskId"`
}

type reorderedPayload struct {
	Tasks []OrderChange `json:"tasks"`
}

type importedPayload struct {
	Tasks    []OrderChange `json:"tasks"`
	ImportID string        `json:"importId,omitempty"`
}

// BatchViolations is the conflict detail of a rejected reorder.
type BatchViolations struct {
	Violations []Violation `json:"violations"`
}

// ListTasks returns the board tasks, excluding the backlog.
func (o *Orchestrator) ListTasks(ctx context.Context, userID, projectID string) ([]Task, error) {
	if _, err := o.loadAccessible(ctx, projectID, userID); err != nil {
		return nil, err
	}
	tasks, err := o.tasks.ListBoard(ctx, projectID)
	if err != nil {
		return nil, Unexpected(err)
	}
	return nonNil(tasks), nil
}

// ListBacklog returns backlog tasks, newest first.
func (o *Orchestrator) ListBacklog(ctx context.Context, userID, projectID string) ([]Task, error) {
	if _, err := o.loadAccessible(ctx, projectID, userID); err != nil {
		return nil, err
	}
	tasks, err := o.tasks.ListBacklog(ctx, projectID)
	if err != nil {
		return nil, Unexpected(err)
	}
	return nonNil(tasks), nil
}

func nonNil(ts []Task) []Task {
	if ts == nil {
		return []Task{}
	}
	return ts
}

// loadForTaskCreation checks the caller may add cards to the project.
func (o *Orchestrator) loadForTaskCreation(ctx context.Context, userID, projectID string) (Project, error) {
	p, err := o.loadAccessible(ctx, projectID, userID)
	if err != nil {
		return Project{}, err
	}
	if err := deny(CanCreateOrDeleteTask(p, userID), "Only the project owner can create tasks"); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (o *Orchestrator) newTask(p Project, userID string, in NewTask) (Task, error) {
	if in.AssigneeID != "" && !HasAccess(p, in.AssigneeID) {
		return Task{}, Validation("Assignee must be the owner or a member of the project")
	}
	prio := in.Priority
	if prio == "" {
		prio = PriorityMedium
	}
	if !prio.Valid() {
		return Task{}, Validation("Invalid value for priority")
	}
	now := o.now().UTC()
	return Task{
		ProjectID:   p.ID,
		Title:       in.Title,
		Description: in.Description,
		Color:       in.Color,
		AssigneeID:  in.AssigneeID,
		Labels:      in.Labels,
		Estimate:    in.Estimate,
		StoryPoints: in.StoryPoints,
		Priority:    prio,
		DueDate:     in.DueDate,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CreateTask adds a card directly to a column. Column limits are not
// checked here; only moves and reorders enforce them.
func (o *Orchestrator) CreateTask(ctx context.Context, userID, projectID string, in NewTask) (Task, error) {
	if strings.TrimSpace(in.Title) == "" || in.Order == nil {
		return Task{}, Validation("title and order are required")
	}
	if in.ColumnKey == "" {
		return Task{}, Validation("columnKey is required for non-backlog tasks")
	}
	p, err := o.loadForTaskCreation(ctx, userID, projectID)
	if err != nil {
		return Task{}, err
	}
	if _, ok := p.Column(in.ColumnKey); !ok {
		return Task{}, Validation("Column not found")
	}
	t, err := o.newTask(p, userID, in)
	if err != nil {
		return Task{}, err
	}
	t.Order = *in.Order
	t.ToColumn(in.ColumnKey)
	if t, err = o.tasks.Create(ctx, t); err != nil {
		return Task{}, Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TaskCreated, taskPayload{Task: t})
	return t, nil
}

// CreateBacklogTask parks a new card in the backlog.
func (o *Orchestrator) CreateBacklogTask(ctx context.Context, userID, projectID string, in NewTask) (Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Task{}, Validation("title is required")
	}
	p, err := o.loadForTaskCreation(ctx, userID, projectID)
	if err != nil {
		return Task{}, err
	}
	t, err := o.newTask(p, userID, in)
	if err != nil {
		return Task{}, err
	}
	t.Order = o.backlogOrder()
	t.ToBacklog()
	if t, err = o.tasks.Create(ctx, t); err != nil {
		return Task{}, Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TaskCreated, taskPayload{Task: t})
	return t, nil
}

// MoveTask places a task in a column or the backlog. Moving into a column
// fails with a conflict when the column is already at its limit.
func (o *Orchestrator) MoveTask(ctx context.Context, userID, projectID, taskID string, to MoveTarget) (Task, error) {
	p, err := o.loadAccessible(ctx, projectID, userID)
	if err != nil {
		return Task{}, err
	}
	t, err := o.loadTask(ctx, p.ID, taskID)
	if err != nil {
		return Task{}, err
	}
	if to.Backlog {
		t.ToBacklog()
	} else {
		if to.ToColumnKey == "" {
			return Task{}, Validation("toColumnKey required to move to column")
		}
		col, ok := p.Column(to.ToColumnKey)
		if !ok {
			return Task{}, Validation("Column not found")
		}
		count, err := o.tasks.CountInColumn(ctx, p.ID, col.Key)
		if err != nil {
			return Task{}, Unexpected(err)
		}
		if v := CheckMove(col, count); v != nil {
			o.logger.WithFields(log.Fields{"project": p.ID, "task": t.ID, "column": col.Key, "count": count}).Info("move rejected by wip limit")
			return Task{}, WIPExceeded(*v)
		}
		t.ToColumn(col.Key)
	}
	t.UpdatedAt = o.now().UTC()
	if err := o.tasks.Save(ctx, t); err != nil {
		return Task{}, Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TaskMoved, taskPayload{Task: t})
	return t, nil
}

// UpdateTask applies patch. Owners may change any field; the assignee may
// only set startedAt and completedAt, and any other key rejects the whole
// request.
func (o *Orchestrator) UpdateTask(ctx context.Context, userID, projectID, taskID string, patch TaskPatch) (Task, error) {
	p, err := o.loadAccessible(ctx, projectID, userID)
	if err != nil {
		return Task{}, err
	}
	t, err := o.loadTask(ctx, p.ID, taskID)
	if err != nil {
		return Task{}, err
	}
	switch CanUpdateTask(p, t, userID, patch) {
	case Allow:
	case DenyNotMember:
		return Task{}, ErrForbidden
	default:
		if t.AssigneeID != userID {
			return Task{}, Forbidden("Only the project owner or task assignee can update this task")
		}
		return Task{}, Forbidden("Task assignees can only update status timestamps (startedAt, completedAt)")
	}

	if IsOwner(p, userID) {
		if err := applyPlacement(p, &t, patch); err != nil {
			return Task{}, err
		}
		if patch.AssigneeID.Present && patch.AssigneeID.Value != "" && !HasAccess(p, patch.AssigneeID.Value) {
			return Task{}, Validation("Assignee must be the owner or a member of the project")
		}
		patch.applyOwner(&t)
	} else {
		patch.applyTimestamps(&t)
	}
	t.UpdatedAt = o.now().UTC()
	if err := o.tasks.Save(ctx, t); err != nil {
		return Task{}, Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TaskUpdated, taskPayload{Task: t})
	return t, nil
}

// applyPlacement keeps backlog and columnKey consistent when an owner patch
// touches either of them.
func applyPlacement(p Project, t *Task, patch TaskPatch) error {
	if !patch.Placement() {
		return nil
	}
	toBacklog := patch.Backlog.Present && !patch.Backlog.Null && patch.Backlog.Value
	key := t.ColumnKey
	if patch.ColumnKey.Present {
		key = patch.ColumnKey.Value
	}
	switch {
	case toBacklog:
		t.ToBacklog()
	case key == "" && patch.ColumnKey.Present:
		t.ToBacklog()
	case key == "":
		return Validation("columnKey is required for non-backlog tasks")
	default:
		if _, ok := p.Column(key); !ok {
			return Validation("Column not found")
		}
		t.ToColumn(key)
	}
	return nil
}

// DeleteTask removes a card.
func (o *Orchestrator) DeleteTask(ctx context.Context, userID, projectID, taskID string) error {
	p, err := o.loadAccessible(ctx, projectID, userID)
	if err != nil {
		return err
	}
	t, err := o.loadTask(ctx, p.ID, taskID)
	if err != nil {
		return err
	}
	if err := deny(CanCreateOrDeleteTask(p, userID), "Only the project owner can delete tasks"); err != nil {
		return err
	}
	if err := o.tasks.Delete(ctx, p.ID, t.ID); err != nil {
		return Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TaskDeleted, taskIDPayload{TaskID: t.ID})
	return nil
}

// ReorderTasks validates the resulting occupancy of the whole batch against
// the stored board and then writes every change at once. Any violation
// rejects the batch without writing.
func (o *Orchestrator) ReorderTasks(ctx context.Context, userID, projectID string, changes []OrderChange) error {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !IsOwner(p, userID) {
		return ErrForbidden
	}
	if len(changes) == 0 {
		return nil
	}
	ctx = WithFreshReads(ctx)
	board, err := o.tasks.ListBoard(ctx, p.ID)
	if err != nil {
		return Unexpected(err)
	}
	backlog, err := o.tasks.ListBacklog(ctx, p.ID)
	if err != nil {
		return Unexpected(err)
	}
	placement := make(map[string]string, len(board)+len(backlog))
	baseline := make(map[string]int)
	for _, t := range board {
		placement[t.ID] = t.Placement()
		baseline[t.Placement()]++
	}
	for _, t := range backlog {
		placement[t.ID] = BacklogKey
	}

	final := make(map[string]string, len(changes))
	var order []string
	for _, c := range changes {
		from, ok := placement[c.ID]
		if !ok {
			return ErrTaskNotFound
		}
		to := from
		if c.ColumnKey != "" {
			if _, ok := p.Column(c.ColumnKey); !ok {
				return Validation("Column not found")
			}
			to = c.ColumnKey
		}
		if _, seen := final[c.ID]; !seen {
			order = append(order, c.ID)
		}
		final[c.ID] = to
	}
	moves := make([]Move, 0, len(order))
	for _, id := range order {
		moves = append(moves, Move{TaskID: id, From: placement[id], To: final[id]})
	}
	if v := CheckBatch(p.Columns, baseline, moves); len(v) > 0 {
		o.logger.WithFields(log.Fields{"project": p.ID, "violations": len(v)}).Info("reorder rejected by wip limit")
		return WIPExceeded(BatchViolations{Violations: v})
	}
	if err := o.tasks.Reorder(ctx, p.ID, changes); err != nil {
		return Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.TasksReordered, reorderedPayload{Tasks: changes})
	return nil
}

// ImportTasks bulk-creates cards carried over from a client's local storage.
// A repeated importID is skipped when a deduper is configured; without one
// every call creates new cards.
func (o *Orchestrator) ImportTasks(ctx context.Context, userID, projectID, importID string, items []ImportTask) (ImportResult, error) {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return ImportResult{}, err
	}
	if !IsOwner(p, userID) {
		return ImportResult{}, ErrForbidden
	}
	if len(p.Columns) == 0 && len(items) > 0 {
		return ImportResult{}, Validation("Project has no columns")
	}

	claimed := false
	if importID != "" && o.deduper != nil {
		added, err := o.deduper.Add(ctx, p.ID, importID)
		switch {
		case err != nil:
			o.logger.WithFields(log.Fields{"project": p.ID, "import": importID}).Warnf("import dedupe unavailable: %v", err)
		case !added:
			o.logger.WithFields(log.Fields{"project": p.ID, "import": importID}).Info("duplicate import skipped")
			return ImportResult{Tasks: []Task{}, Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	now := o.now().UTC()
	batch := make([]Task, 0, len(items))
	for i, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = "Untitled"
		}
		t := Task{
			ProjectID: p.ID,
			Title:     title,
			Color:     it.Color,
			Order:     float64((i + 1) * OrderGap),
			Priority:  PriorityMedium,
			CreatedBy: userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.ToColumn(importColumn(p, it))
		batch = append(batch, t)
	}
	created, err := o.tasks.CreateMany(ctx, batch)
	if err != nil {
		if claimed {
			if rerr := o.deduper.Remove(ctx, p.ID, importID); rerr != nil {
				o.logger.WithFields(log.Fields{"project": p.ID, "import": importID}).Warnf("release import key: %v", rerr)
			}
		}
		return ImportResult{}, Unexpected(err)
	}
	created = nonNil(created)
	if len(created) > 0 {
		changes := make([]OrderChange, 0, len(created))
		for _, t := range created {
			changes = append(changes, OrderChange{ID: t.ID, Order: t.Order, ColumnKey: t.ColumnKey})
		}
		o.emit(realtime.ProjectRoom(p.ID), realtime.TasksImported, importedPayload{Tasks: changes, ImportID: importID})
	}
	o.logger.WithFields(log.Fields{"project": p.ID, "imported": len(created)}).Info("local tasks imported")
	return ImportResult{Tasks: created, Imported: len(created)}, nil
}

// importColumn picks the card's column, falling back to to-do and then to the
// first column when the named one does not exist.
func importColumn(p Project, it ImportTask) string {
	key := it.Column
	if key == "" {
		key = it.ColumnKey
	}
	if key == "" {
		key = defaultImportColumn
	}
	if _, ok := p.Column(key); ok {
		return key
	}
	if _, ok := p.Column(defaultImportColumn); ok {
		return defaultImportColumn
	}
	return p.Columns[0].Key
}
