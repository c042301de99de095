package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/board-api/domain"
	"prism-board/board-api/storage/memory"
)

type countingTasks struct {
	domain.TaskStore
	boardCalls   int
	backlogCalls int
}

func (c *countingTasks) ListBoard(ctx context.Context, projectID string) ([]domain.Task, error) {
	c.boardCalls++
	return c.TaskStore.ListBoard(ctx, projectID)
}

func (c *countingTasks) ListBacklog(ctx context.Context, projectID string) ([]domain.Task, error) {
	c.backlogCalls++
	return c.TaskStore.ListBacklog(ctx, projectID)
}

// pausingTasks snapshots the board on the first listing, then waits for
// release before returning it, so a write can land in between.
type pausingTasks struct {
	domain.TaskStore
	listed  chan struct{}
	release chan struct{}
	paused  bool
}

func (p *pausingTasks) ListBoard(ctx context.Context, projectID string) ([]domain.Task, error) {
	tasks, err := p.TaskStore.ListBoard(ctx, projectID)
	if !p.paused {
		p.paused = true
		close(p.listed)
		<-p.release
	}
	return tasks, err
}

func newCacheFixture(t *testing.T) (*miniredis.Miniredis, *countingTasks, *CachedTasks) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	base := &countingTasks{TaskStore: memory.New().Tasks()}
	return mr, base, NewCachedTasks(base, client, time.Minute, logger)
}

func TestCachedTasksMissThenHit(t *testing.T) {
	mr, base, cache := newCacheFixture(t)
	ctx := context.Background()

	if _, err := base.TaskStore.Create(ctx, domain.Task{ProjectID: "p1", Title: "Write code", ColumnKey: "to-do", Order: 1000}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 2; i++ {
		tasks, err := cache.ListBoard(ctx, "p1")
		if err != nil {
			t.Fatalf("list board: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Title != "Write code" {
			t.Fatalf("unexpected tasks: %#v", tasks)
		}
	}
	if base.boardCalls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", base.boardCalls)
	}
	if ttl := mr.TTL(boardCacheKey("p1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCachedTasksEmptyListingIsCached(t *testing.T) {
	mr, base, cache := newCacheFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tasks, err := cache.ListBacklog(ctx, "p1")
		if err != nil {
			t.Fatalf("list backlog: %v", err)
		}
		if len(tasks) != 0 {
			t.Fatalf("expected empty backlog, got %#v", tasks)
		}
	}
	if base.backlogCalls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", base.backlogCalls)
	}
	if !mr.Exists(backlogCacheKey("p1")) {
		t.Fatalf("expected backlog key to be cached")
	}
}

func TestCachedTasksWritesEvict(t *testing.T) {
	mr, base, cache := newCacheFixture(t)
	ctx := context.Background()

	if _, err := cache.ListBoard(ctx, "p1"); err != nil {
		t.Fatalf("list board: %v", err)
	}
	if _, err := cache.ListBacklog(ctx, "p1"); err != nil {
		t.Fatalf("list backlog: %v", err)
	}

	created, err := cache.Create(ctx, domain.Task{ProjectID: "p1", Title: "New", ColumnKey: "to-do", Order: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if mr.Exists(boardCacheKey("p1")) || mr.Exists(backlogCacheKey("p1")) {
		t.Fatalf("expected create to evict cached listings")
	}

	tasks, err := cache.ListBoard(ctx, "p1")
	if err != nil {
		t.Fatalf("list board: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("expected fresh listing, got %#v", tasks)
	}
	if base.boardCalls != 2 {
		t.Fatalf("expected reload after eviction, got %d calls", base.boardCalls)
	}

	if err := cache.Reorder(ctx, "p1", []domain.OrderChange{{ID: created.ID, Order: 5}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if mr.Exists(boardCacheKey("p1")) {
		t.Fatalf("expected reorder to evict")
	}
}

func TestCachedTasksFreshReadsBypassCache(t *testing.T) {
	_, base, cache := newCacheFixture(t)
	ctx := context.Background()

	if _, err := cache.ListBoard(ctx, "p1"); err != nil {
		t.Fatalf("list board: %v", err)
	}
	// Written behind the cache's back.
	if _, err := base.TaskStore.Create(ctx, domain.Task{ProjectID: "p1", Title: "Hidden", ColumnKey: "to-do"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stale, err := cache.ListBoard(ctx, "p1")
	if err != nil {
		t.Fatalf("list board: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected cached empty board, got %#v", stale)
	}

	fresh, err := cache.ListBoard(domain.WithFreshReads(ctx), "p1")
	if err != nil {
		t.Fatalf("list board: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected fresh read to see new task, got %#v", fresh)
	}
}

func TestCachedTasksCorruptEntryFallsBack(t *testing.T) {
	mr, base, cache := newCacheFixture(t)
	ctx := context.Background()

	if err := mr.Set(boardCacheKey("p1"), "not-json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if _, err := cache.ListBoard(ctx, "p1"); err != nil {
		t.Fatalf("list board: %v", err)
	}
	if base.boardCalls != 1 {
		t.Fatalf("expected backend call for corrupt entry, got %d", base.boardCalls)
	}
}

func TestCachedTasksWithoutRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	base := &countingTasks{TaskStore: memory.New().Tasks()}
	cache := NewCachedTasks(base, nil, time.Minute, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.ListBoard(ctx, "p1"); err != nil {
			t.Fatalf("list board: %v", err)
		}
	}
	if base.boardCalls != 2 {
		t.Fatalf("expected every call to reach backend, got %d", base.boardCalls)
	}
}

func TestCachedTasksFillAfterConcurrentWriteIsDiscarded(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger, _ := test.NewNullLogger()

	store := memory.New().Tasks()
	ctx := context.Background()
	task, err := store.Create(ctx, domain.Task{ProjectID: "p1", Title: "Card", ColumnKey: "to-do", Order: 1000})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	slow := &pausingTasks{TaskStore: store, listed: make(chan struct{}), release: make(chan struct{})}
	cache := NewCachedTasks(slow, client, time.Minute, logger)

	type result struct {
		tasks []domain.Task
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tasks, err := cache.ListBoard(ctx, "p1")
		done <- result{tasks, err}
	}()
	<-slow.listed

	task.ToColumn("done")
	if err := cache.Save(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	close(slow.release)
	if r := <-done; r.err != nil {
		t.Fatalf("list board: %v", r.err)
	}

	if mr.Exists(boardCacheKey("p1")) {
		t.Fatalf("listing read before the write must not be cached")
	}
	tasks, err := cache.ListBoard(ctx, "p1")
	if err != nil {
		t.Fatalf("list board: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ColumnKey != "done" {
		t.Fatalf("expected the moved task, got %#v", tasks)
	}
}

func TestCachedTasksEvictBumpsGeneration(t *testing.T) {
	mr, _, cache := newCacheFixture(t)
	ctx := context.Background()

	cache.Evict(ctx, "p1")
	cache.Evict(ctx, "p1")
	if got, err := mr.Get(generationKey("p1")); err != nil || got != "2" {
		t.Fatalf("expected generation 2, got %q (%v)", got, err)
	}
	if _, err := cache.ListBoard(ctx, "p1"); err != nil {
		t.Fatalf("list board: %v", err)
	}
	if !mr.Exists(boardCacheKey("p1")) {
		t.Fatalf("fill with a current generation should be cached")
	}
}
