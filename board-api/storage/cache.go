package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/board-api/domain"
)

var errStaleFill = errors.New("board cache generation changed")

// CachedTasks wraps a task gateway with Redis-backed caching of the board
// and backlog listings. Every write evicts the project's listings and bumps
// its generation; a fill only lands when the generation it started from is
// still current.
type CachedTasks struct {
	domain.TaskStore
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedTasks(base domain.TaskStore, client *redis.Client, ttl time.Duration, logger *log.Logger) *CachedTasks {
	if base == nil {
		panic("storage.NewCachedTasks: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &CachedTasks{TaskStore: base, redis: client, ttl: ttl, logger: logger}
}

func boardCacheKey(projectID string) string { return "board:" + projectID }

func backlogCacheKey(projectID string) string { return "backlog:" + projectID }

func generationKey(projectID string) string { return "board:gen:" + projectID }

func (c *CachedTasks) ListBoard(ctx context.Context, projectID string) ([]domain.Task, error) {
	return c.cached(ctx, projectID, boardCacheKey(projectID), func() ([]domain.Task, error) {
		return c.TaskStore.ListBoard(ctx, projectID)
	})
}

func (c *CachedTasks) ListBacklog(ctx context.Context, projectID string) ([]domain.Task, error) {
	return c.cached(ctx, projectID, backlogCacheKey(projectID), func() ([]domain.Task, error) {
		return c.TaskStore.ListBacklog(ctx, projectID)
	})
}

func (c *CachedTasks) cached(ctx context.Context, projectID, key string, load func() ([]domain.Task, error)) ([]domain.Task, error) {
	if domain.FreshReads(ctx) {
		return load()
	}
	if tasks, ok := c.load(ctx, key); ok {
		return tasks, nil
	}
	// The generation must be read before the backing store.
	gen, genOK := c.generation(ctx, projectID)
	tasks, err := load()
	if err != nil {
		return nil, err
	}
	if genOK {
		c.store(ctx, projectID, key, gen, tasks)
	}
	return tasks, nil
}

func (c *CachedTasks) generation(ctx context.Context, projectID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(projectID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

func (c *CachedTasks) load(ctx context.Context, key string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

// store writes tasks under key unless a write bumped the project's
// generation since gen was read.
func (c *CachedTasks) store(ctx context.Context, projectID, key string, gen int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	genKey := generationKey(projectID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.WithFields(log.Fields{"project": projectID, "key": key}).Debug("board changed during fill, not caching")
	default:
		c.logger.WithFields(log.Fields{"project": projectID, "key": key}).Warnf("fill board cache: %v", err)
	}
}

// Evict drops the cached listings of a project and bumps its generation so
// fills that started before the write are discarded.
func (c *CachedTasks) Evict(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(projectID))
		pipe.Del(ctx, boardCacheKey(projectID), backlogCacheKey(projectID))
		return nil
	})
	if err != nil {
		c.logger.WithField("project", projectID).Warnf("evict board cache: %v", err)
	}
}

func (c *CachedTasks) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	out, err := c.TaskStore.Create(ctx, t)
	if err == nil {
		c.Evict(ctx, t.ProjectID)
	}
	return out, err
}

func (c *CachedTasks) CreateMany(ctx context.Context, ts []domain.Task) ([]domain.Task, error) {
	out, err := c.TaskStore.CreateMany(ctx, ts)
	if err == nil && len(ts) > 0 {
		c.Evict(ctx, ts[0].ProjectID)
	}
	return out, err
}

func (c *CachedTasks) Save(ctx context.Context, t domain.Task) error {
	err := c.TaskStore.Save(ctx, t)
	if err == nil {
		c.Evict(ctx, t.ProjectID)
	}
	return err
}

func (c *CachedTasks) Reorder(ctx context.Context, projectID string, changes []domain.OrderChange) error {
	err := c.TaskStore.Reorder(ctx, projectID, changes)
	if err == nil {
		c.Evict(ctx, projectID)
	}
	return err
}

func (c *CachedTasks) Delete(ctx context.Context, projectID, taskID string) error {
	err := c.TaskStore.Delete(ctx, projectID, taskID)
	if err == nil {
		c.Evict(ctx, projectID)
	}
	return err
}

func (c *CachedTasks) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	n, err := c.TaskStore.DeleteByProject(ctx, projectID)
	if err == nil {
		c.Evict(ctx, projectID)
	}
	return n, err
}
