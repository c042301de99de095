package projection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"

	"prism-board/board-api/api"
	"prism-board/board-api/domain"
	"prism-board/board-api/storage/memory"
	"prism-board/realtime"
)

type bearerAuth struct{}

func (bearerAuth) UserIDFromAuthHeader(h string) (string, error) {
	id := strings.TrimPrefix(h, "Bearer ")
	if id == "" || id == h {
		return "", errors.New("missing token")
	}
	return id, nil
}

type fixture struct {
	srv   *httptest.Server
	board *domain.Orchestrator
	hub   *realtime.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	hub := realtime.NewHub(logger, 16)
	board := domain.NewOrchestrator(store.Projects(), store.Tasks(),
		domain.WithLogger(logger), domain.WithEmitter(hub))
	e := echo.New()
	e.JSONSerializer = api.SonicSerializer{}
	api.Register(e, board, bearerAuth{}, logger)
	e.GET("/ws", echo.WrapHandler(realtime.NewWSHandler(hub, bearerAuth{}, board, logger)))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, board: board, hub: hub}
}

func wip(n int) *int { return &n }

func (f *fixture) project(t *testing.T, owner string, columns []domain.Column) domain.ProjectView {
	t.Helper()
	p, err := f.board.CreateProject(context.Background(), owner, domain.CreateProject{Name: "Board", Columns: columns})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (f *fixture) task(t *testing.T, owner, projectID string, in domain.NewTask) domain.Task {
	t.Helper()
	var (
		task domain.Task
		err  error
	)
	if in.ColumnKey == "" {
		task, err = f.board.CreateBacklogTask(context.Background(), owner, projectID, in)
	} else {
		task, err = f.board.CreateTask(context.Background(), owner, projectID, in)
	}
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func laneTitles(s Snapshot, key string) []string {
	l, _ := s.Lane(key)
	out := make([]string, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		out = append(out, t.Title)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReloadBuildsLanes(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", nil)
	pts := 5.0
	f.task(t, "owner", p.ID, domain.NewTask{Title: "b-medium", ColumnKey: "to-do"})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "a-medium", ColumnKey: "to-do"})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "low", ColumnKey: "to-do", Priority: domain.PriorityLow})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "pointed", ColumnKey: "to-do", StoryPoints: &pts})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "high", ColumnKey: "to-do", Priority: domain.PriorityHigh})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "someday"})

	b := NewBoard(NewClient(f.srv.URL, "owner"), p.ID, nil)
	if err := b.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	s := b.Snapshot()
	if len(s.Lanes) != 5 {
		t.Fatalf("expected backlog plus 4 lanes, got %d", len(s.Lanes))
	}
	if first := s.Lanes[0].Column; first.Key != domain.BacklogKey || first.Title != "Backlog" || first.Order != -1 {
		t.Fatalf("unexpected first lane %+v", first)
	}
	if got := laneTitles(s, domain.BacklogKey); !equal(got, []string{"someday"}) {
		t.Fatalf("backlog lane: %v", got)
	}
	want := []string{"high", "pointed", "a-medium", "b-medium", "low"}
	if got := laneTitles(s, "to-do"); !equal(got, want) {
		t.Fatalf("to-do lane: got %v, want %v", got, want)
	}
	if s.Project.Name != "Board" {
		t.Fatalf("project not loaded: %+v", s.Project)
	}
}

func TestMoveRejectedByWIPRestoresServerState(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", []domain.Column{
		{Key: "todo", Title: "Todo", Order: 1},
		{Key: "doing", Title: "Doing", Order: 2, WIP: wip(1)},
	})
	f.task(t, "owner", p.ID, domain.NewTask{Title: "busy", ColumnKey: "doing"})
	waiting := f.task(t, "owner", p.ID, domain.NewTask{Title: "waiting", ColumnKey: "todo"})

	b := NewBoard(NewClient(f.srv.URL, "owner"), p.ID, nil)
	if err := b.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	err := b.Move(context.Background(), waiting.ID, "doing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.WIPExceeded() {
		t.Fatalf("expected WIP conflict, got %v", err)
	}
	v := apiErr.Violations()
	if len(v) != 1 || v[0].ColumnKey != "doing" || v[0].WIP != 1 || v[0].Count != 1 {
		t.Fatalf("unexpected violations %+v", v)
	}
	s := b.Snapshot()
	if got := laneTitles(s, "todo"); !equal(got, []string{"waiting"}) {
		t.Fatalf("todo lane after rejection: %v", got)
	}
	if got := laneTitles(s, "doing"); !equal(got, []string{"busy"}) {
		t.Fatalf("doing lane after rejection: %v", got)
	}
}

func TestMoveToBacklogAndBack(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", nil)
	task := f.task(t, "owner", p.ID, domain.NewTask{Title: "card", ColumnKey: "to-do"})

	b := NewBoard(NewClient(f.srv.URL, "owner"), p.ID, nil)
	ctx := context.Background()
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := b.Move(ctx, task.ID, domain.BacklogKey); err != nil {
		t.Fatalf("move to backlog: %v", err)
	}
	if got := laneTitles(b.Snapshot(), domain.BacklogKey); !equal(got, []string{"card"}) {
		t.Fatalf("backlog lane: %v", got)
	}
	if err := b.Move(ctx, task.ID, "done"); err != nil {
		t.Fatalf("move to done: %v", err)
	}
	s := b.Snapshot()
	if got := laneTitles(s, "done"); !equal(got, []string{"card"}) {
		t.Fatalf("done lane: %v", got)
	}
	if got := laneTitles(s, domain.BacklogKey); len(got) != 0 {
		t.Fatalf("backlog should be empty, got %v", got)
	}
}

func TestReorderBatchViolationReportsEveryColumn(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", []domain.Column{
		{Key: "a", Title: "A", Order: 1, WIP: wip(1)},
		{Key: "b", Title: "B", Order: 2, WIP: wip(1)},
		{Key: "c", Title: "C", Order: 3},
	})
	t1 := f.task(t, "owner", p.ID, domain.NewTask{Title: "one", ColumnKey: "c"})
	t2 := f.task(t, "owner", p.ID, domain.NewTask{Title: "two", ColumnKey: "c"})
	t3 := f.task(t, "owner", p.ID, domain.NewTask{Title: "three", ColumnKey: "c"})
	t4 := f.task(t, "owner", p.ID, domain.NewTask{Title: "four", ColumnKey: "c"})

	b := NewBoard(NewClient(f.srv.URL, "owner"), p.ID, nil)
	ctx := context.Background()
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	err := b.Reorder(ctx, []domain.OrderChange{
		{ID: t1.ID, Order: 1, ColumnKey: "a"},
		{ID: t2.ID, Order: 2, ColumnKey: "a"},
		{ID: t3.ID, Order: 1, ColumnKey: "b"},
		{ID: t4.ID, Order: 2, ColumnKey: "b"},
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if v := apiErr.Violations(); len(v) != 2 {
		t.Fatalf("expected two violations, got %+v", v)
	}
	if got := laneTitles(b.Snapshot(), "c"); len(got) != 4 {
		t.Fatalf("board should be unchanged, got %v", got)
	}

	if err := b.Reorder(ctx, []domain.OrderChange{{ID: t1.ID, Order: 1, ColumnKey: "a"}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := laneTitles(b.Snapshot(), "a"); !equal(got, []string{"one"}) {
		t.Fatalf("lane a: %v", got)
	}
}

// slowAPI holds MoveTask until release is closed.
type slowAPI struct {
	API
	entered chan struct{}
	release chan struct{}
}

func (s slowAPI) MoveTask(ctx context.Context, projectID, taskID, column string) (domain.Task, error) {
	close(s.entered)
	<-s.release
	return s.API.MoveTask(ctx, projectID, taskID, column)
}

func TestPendingMoveIsVisibleBeforeServerAnswers(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", nil)
	task := f.task(t, "owner", p.ID, domain.NewTask{Title: "card", ColumnKey: "to-do"})

	slow := slowAPI{API: NewClient(f.srv.URL, "owner"), entered: make(chan struct{}), release: make(chan struct{})}
	b := NewBoard(slow, p.ID, nil)
	ctx := context.Background()
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Move(ctx, task.ID, "in-work") }()
	<-slow.entered
	if got := laneTitles(b.Snapshot(), "in-work"); !equal(got, []string{"card"}) {
		t.Fatalf("working copy should show the move, got %v", got)
	}
	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := laneTitles(b.Snapshot(), "in-work"); !equal(got, []string{"card"}) {
		t.Fatalf("server state should keep the move, got %v", got)
	}
}

func TestEventsTriggerReload(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", nil)
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	events, err := Subscribe(ctx, wsURL, f.srv.URL, "owner", p.ID, "owner", logger)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer events.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Members(realtime.ProjectRoom(p.ID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("never joined the project room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b := NewBoard(NewClient(f.srv.URL, "owner"), p.ID, logger)
	go func() { _ = b.Run(ctx, events.C()) }()

	f.task(t, "owner", p.ID, domain.NewTask{Title: "from elsewhere", ColumnKey: "done"})
	for {
		if got := laneTitles(b.Snapshot(), "done"); equal(got, []string{"from elsewhere"}) {
			return
		}
		if time.Now().After(deadline.Add(time.Second)) {
			t.Fatal("board never picked up the created task")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if _, err := Subscribe(context.Background(), wsURL, f.srv.URL, "", "p", "", nil); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner", nil)
	breaker := NewBreaker("test")
	c := NewClient(f.srv.URL, "owner", WithBreaker(breaker))
	for i := 0; i < 5; i++ {
		err := c.DeleteTask(context.Background(), p.ID, "missing")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Fatalf("expected 404, got %v", err)
		}
	}
	if breaker.State() != gobreaker.StateClosed {
		t.Fatalf("breaker tripped on client errors: %v", breaker.State())
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "owner", WithBreaker(NewBreaker("test")))
	var last error
	for i := 0; i < 4; i++ {
		_, last = c.ListTasks(context.Background(), "p")
	}
	if !errors.Is(last, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", last)
	}
}
