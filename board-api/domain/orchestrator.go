package domain

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/realtime"
)

// Orchestrator applies board intents: it authorizes the caller, validates WIP
// limits, writes through the stores and announces the change.
type Orchestrator struct {
	projects ProjectStore
	tasks    TaskStore
	users    UserDirectory
	emitter  realtime.Emitter
	deduper  ImportDeduper
	logger   *log.Logger
	now      func() time.Time

	lastBacklogOrder atomic.Int64
}

type Option func(*Orchestrator)

func WithUsers(u UserDirectory) Option { return func(o *Orchestrator) { o.users = u } }

func WithEmitter(e realtime.Emitter) Option { return func(o *Orchestrator) { o.emitter = e } }

func WithImportDeduper(d ImportDeduper) Option { return func(o *Orchestrator) { o.deduper = d } }

func WithLogger(l *log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(projects ProjectStore, tasks TaskStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		projects: projects,
		tasks:    tasks,
		emitter:  realtime.Nop{},
		logger:   log.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = realtime.Nop{}
	}
	return o
}

func (o *Orchestrator) emit(room realtime.Room, event string, payload any) {
	o.emitter.Emit(room, event, payload)
}

// backlogOrder hands out strictly increasing wall clock milliseconds so that
// newer backlog entries always sort after older ones.
func (o *Orchestrator) backlogOrder() float64 {
	for {
		now := o.now().UnixMilli()
		last := o.lastBacklogOrder.Load()
		if now <= last {
			now = last + 1
		}
		if o.lastBacklogOrder.CompareAndSwap(last, now) {
			return float64(now)
		}
	}
}

func (o *Orchestrator) loadProject(ctx context.Context, projectID string) (Project, error) {
	p, err := o.projects.FindByID(ctx, projectID)
	if err != nil {
		return Project{}, Unexpected(err)
	}
	if p == nil {
		return Project{}, ErrProjectNotFound
	}
	return *p, nil
}

// loadAccessible loads the project and requires the caller to be the owner or
// a member.
func (o *Orchestrator) loadAccessible(ctx context.Context, projectID, userID string) (Project, error) {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if !HasAccess(p, userID) {
		return Project{}, ErrForbidden
	}
	return p, nil
}

func (o *Orchestrator) loadTask(ctx context.Context, projectID, taskID string) (Task, error) {
	t, err := o.tasks.FindByID(ctx, projectID, taskID)
	if err != nil {
		return Task{}, Unexpected(err)
	}
	if t == nil {
		return Task{}, ErrTaskNotFound
	}
	return *t, nil
}

// deny maps an access decision to an error. roleMessage is used when the
// caller can see the project but lacks the role.
func deny(d Decision, roleMessage string) error {
	switch d {
	case Allow:
		return nil
	case DenyInvalidTarget:
		return Validation(roleMessage)
	case DenyNotMember:
		return ErrForbidden
	default:
		return Forbidden(roleMessage)
	}
}

// lookupUsers resolves ids through the directory. Directory failures only
// cost the populated form.
func (o *Orchestrator) lookupUsers(ctx context.Context, ids []string) map[string]User {
	if o.users == nil || len(ids) == 0 {
		return nil
	}
	users, err := o.users.Lookup(ctx, ids)
	if err != nil {
		o.logger.WithField("users", len(ids)).Warnf("user lookup failed: %v", err)
		return nil
	}
	return users
}

func (o *Orchestrator) view(ctx context.Context, p Project) ProjectView {
	ids := append([]string{p.OwnerID}, p.Members...)
	return p.View(o.lookupUsers(ctx, ids))
}
