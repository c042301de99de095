package projection

import (
	"context"
	"slices"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"prism-board/board-api/domain"
	"prism-board/realtime"
)

const backlogTitle = "Backlog"

// Lane is one rendered column. The backlog lane always comes first.
type Lane struct {
	Column domain.Column
	Tasks  []domain.Task
}

// Snapshot is an immutable view of a board.
type Snapshot struct {
	Project domain.ProjectView
	Lanes   []Lane
}

// Lane returns the lane for key.
func (s Snapshot) Lane(key string) (Lane, bool) {
	for _, l := range s.Lanes {
		if l.Column.Key == key {
			return l, true
		}
	}
	return Lane{}, false
}

// API is the subset of the board API a Board needs.
type API interface {
	GetProject(ctx context.Context, projectID string) (domain.ProjectView, error)
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	ListBacklog(ctx context.Context, projectID string) ([]domain.Task, error)
	MoveTask(ctx context.Context, projectID, taskID, column string) (domain.Task, error)
	ReorderTasks(ctx context.Context, projectID string, changes []domain.OrderChange) error
}

// Board mirrors one project. The authoritative snapshot is only ever
// replaced by a full reload; local edits live on a separate working copy
// until the server answers.
type Board struct {
	api       API
	projectID string
	logger    *log.Logger

	mu      sync.RWMutex
	current Snapshot
	working *Snapshot
	version uint64
}

func NewBoard(api API, projectID string, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{api: api, projectID: projectID, logger: logger}
}

// Snapshot returns the working copy while a local edit is pending, the
// authoritative snapshot otherwise.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.working != nil {
		return *b.working
	}
	return b.current
}

// Reload fetches project, board tasks and backlog in parallel and replaces
// the snapshot wholesale. A pending working copy is dropped.
func (b *Board) Reload(ctx context.Context) error {
	b.mu.Lock()
	b.version++
	version := b.version
	b.mu.Unlock()

	var (
		project domain.ProjectView
		tasks   []domain.Task
		backlog []domain.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = b.api.GetProject(gctx, b.projectID)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = b.api.ListTasks(gctx, b.projectID)
		return err
	})
	g.Go(func() (err error) {
		backlog, err = b.api.ListBacklog(gctx, b.projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snap := buildSnapshot(project, tasks, backlog)
	b.mu.Lock()
	defer b.mu.Unlock()
	// A newer reload started while this one was in flight.
	if version != b.version {
		return nil
	}
	b.current = snap
	b.working = nil
	return nil
}

func buildSnapshot(project domain.ProjectView, tasks, backlog []domain.Task) Snapshot {
	columns := slices.Clone(project.Columns)
	slices.SortStableFunc(columns, func(a, b domain.Column) int { return a.Order - b.Order })

	lanes := make([]Lane, 0, len(columns)+1)
	lanes = append(lanes, Lane{
		Column: domain.Column{ID: domain.BacklogKey, Key: domain.BacklogKey, Title: backlogTitle, Order: -1},
		Tasks:  sortTasks(slices.Clone(backlog)),
	})
	byColumn := make(map[string][]domain.Task, len(columns))
	for _, t := range tasks {
		byColumn[t.ColumnKey] = append(byColumn[t.ColumnKey], t)
	}
	for _, c := range columns {
		lanes = append(lanes, Lane{Column: c, Tasks: sortTasks(byColumn[c.Key])})
	}
	return Snapshot{Project: project, Lanes: lanes}
}

// sortTasks orders a lane by priority, then story points, both descending,
// then by title.
func sortTasks(ts []domain.Task) []domain.Task {
	if ts == nil {
		ts = []domain.Task{}
	}
	slices.SortStableFunc(ts, func(a, b domain.Task) int {
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		if d := compareFloat(points(b), points(a)); d != 0 {
			return d
		}
		return strings.Compare(a.Title, b.Title)
	})
	return ts
}

func points(t domain.Task) float64 {
	if t.StoryPoints == nil {
		return 0
	}
	return *t.StoryPoints
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// HandleEvent reacts to a board event by reloading. Connection frames are
// ignored.
func (b *Board) HandleEvent(ctx context.Context, env realtime.Envelope) error {
	if strings.HasPrefix(env.Event, "socket:") {
		return nil
	}
	b.logger.WithFields(log.Fields{"project": b.projectID, "event": env.Event}).Debug("board event, reloading")
	return b.Reload(ctx)
}

// Move places a task in column (or the backlog) on the working copy, then
// persists it.
func (b *Board) Move(ctx context.Context, taskID, column string) error {
	b.edit(func(s *Snapshot) {
		t, ok := s.take(taskID)
		if !ok {
			return
		}
		if column == domain.BacklogKey {
			t.ToBacklog()
		} else {
			t.ToColumn(column)
		}
		s.put(column, t)
	})
	_, err := b.api.MoveTask(ctx, b.projectID, taskID, column)
	return b.settle(ctx, err)
}

// Reorder applies a batch of order changes to the working copy, then
// persists them in one request.
func (b *Board) Reorder(ctx context.Context, changes []domain.OrderChange) error {
	b.edit(func(s *Snapshot) {
		for _, ch := range changes {
			t, ok := s.take(ch.ID)
			if !ok {
				continue
			}
			t.Order = ch.Order
			column := t.Placement()
			if ch.ColumnKey != "" {
				column = ch.ColumnKey
				if column == domain.BacklogKey {
					t.ToBacklog()
				} else {
					t.ToColumn(column)
				}
			}
			s.put(column, t)
		}
	})
	err := b.api.ReorderTasks(ctx, b.projectID, changes)
	return b.settle(ctx, err)
}

func (b *Board) edit(fn func(*Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := b.current
	if b.working != nil {
		base = *b.working
	}
	w := base.clone()
	fn(&w)
	b.working = &w
}

// settle reconciles after a persistence call. Either way the working copy
// is replaced by a fresh authoritative reload; a failed call is reported
// even when the reload succeeds.
func (b *Board) settle(ctx context.Context, err error) error {
	if err != nil {
		b.mu.Lock()
		b.working = nil
		b.mu.Unlock()
		b.logger.WithField("project", b.projectID).Warnf("local edit rejected: %v", err)
	}
	if rerr := b.Reload(ctx); rerr != nil && err == nil {
		return rerr
	}
	return err
}

// Run applies events from src until ctx is done or the source closes.
func (b *Board) Run(ctx context.Context, src <-chan realtime.Envelope) error {
	if err := b.Reload(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-src:
			if !ok {
				return nil
			}
			if err := b.HandleEvent(ctx, env); err != nil {
				b.logger.WithField("project", b.projectID).Errorf("reload after %s: %v", env.Event, err)
			}
		}
	}
}

func (s Snapshot) clone() Snapshot {
	lanes := make([]Lane, len(s.Lanes))
	for i, l := range s.Lanes {
		lanes[i] = Lane{Column: l.Column, Tasks: slices.Clone(l.Tasks)}
	}
	return Snapshot{Project: s.Project, Lanes: lanes}
}

func (s *Snapshot) take(taskID string) (domain.Task, bool) {
	for i := range s.Lanes {
		for j, t := range s.Lanes[i].Tasks {
			if t.ID == taskID {
				s.Lanes[i].Tasks = slices.Delete(s.Lanes[i].Tasks, j, j+1)
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

func (s *Snapshot) put(column string, t domain.Task) {
	for i := range s.Lanes {
		if s.Lanes[i].Column.Key == column {
			s.Lanes[i].Tasks = sortTasks(append(s.Lanes[i].Tasks, t))
			return
		}
	}
}
