package domain

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"prism-board/realtime"
)

type CreateProject struct {
	Name        string
	Description string
	Columns     []Column
}

// ProjectUpdate replaces the given fields. Columns, when non-nil, replace the
// whole column list.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Columns     []Column
}

// JoinResult reports the project after a join and whether the caller was
// already a member.
type JoinResult struct {
	Project       ProjectView
	AlreadyMember bool
}

type columnsPayload struct {
	ProjectID string   `json:"projectId"`
	Columns   []Column `json:"columns"`
}

type projectPayload struct {
	Project ProjectView `json:"project"`
}

type projectIDPayload struct {
	ProjectID string `json:"projectId"`
}

type memberJoinedPayload struct {
	ProjectID string  `json:"projectId"`
	MemberID  string  `json:"memberId"`
	Member    UserRef `json:"member"`
}

type userJoinedPayload struct {
	Project     ProjectView `json:"project"`
	ProjectID   string      `json:"projectId"`
	ProjectName string      `json:"projectName"`
}

type memberRemovedPayload struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
}

type userRemovedPayload struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
}

// ListProjects returns every project the user owns or belongs to.
func (o *Orchestrator) ListProjects(ctx context.Context, userID string) ([]ProjectView, error) {
	projects, err := o.projects.FindForUser(ctx, userID)
	if err != nil {
		return nil, Unexpected(err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range projects {
		for _, id := range append([]string{p.OwnerID}, p.Members...) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	users := o.lookupUsers(ctx, ids)
	out := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.View(users))
	}
	return out, nil
}

func (o *Orchestrator) GetProject(ctx context.Context, userID, projectID string) (ProjectView, error) {
	p, err := o.loadAccessible(ctx, projectID, userID)
	if err != nil {
		return ProjectView{}, err
	}
	return o.view(ctx, p), nil
}

// CreateProject stores a new project owned by userID. Without explicit
// columns the project gets the default board.
func (o *Orchestrator) CreateProject(ctx context.Context, userID string, in CreateProject) (ProjectView, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return ProjectView{}, Validation("Project name required")
	}
	cols := DefaultColumns()
	if in.Columns != nil {
		var err error
		if cols, err = NormalizeColumns(in.Columns); err != nil {
			return ProjectView{}, err
		}
	}
	code, err := uniqueJoinCode(ctx, o.projects)
	if err != nil {
		return ProjectView{}, Unexpected(err)
	}
	now := o.now().UTC()
	p, err := o.projects.Create(ctx, Project{
		OwnerID:     userID,
		Name:        name,
		Description: in.Description,
		Members:     []string{},
		JoinCode:    code,
		Columns:     cols,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return ProjectView{}, Unexpected(err)
	}
	o.logger.WithFields(log.Fields{"project": p.ID, "user": userID}).Info("project created")
	return o.view(ctx, p), nil
}

// UpdateProject changes name, description or the full column list.
func (o *Orchestrator) UpdateProject(ctx context.Context, userID, projectID string, in ProjectUpdate) (ProjectView, error) {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if err := deny(CanModifyProjectSettings(p, userID), "Only the project owner can modify project settings"); err != nil {
		return ProjectView{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return ProjectView{}, Validation("Project name required")
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Columns != nil {
		cols, err := NormalizeColumns(in.Columns)
		if err != nil {
			return ProjectView{}, err
		}
		p.Columns = cols
	}
	p.UpdatedAt = o.now().UTC()
	if err := o.projects.Save(ctx, p); err != nil {
		return ProjectView{}, Unexpected(err)
	}
	o.emit(realtime.ProjectRoom(p.ID), realtime.ProjectColumnsUpdated, columnsPayload{ProjectID: p.ID, Columns: p.Columns})
	return o.view(ctx, p), nil
}

// DeleteProject removes the project and every task in it.
func (o *Orchestrator) DeleteProject(ctx context.Context, userID, projectID string) error {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !IsOwner(p, userID) {
		return ErrForbidden
	}
	removed, err := o.tasks.DeleteByProject(ctx, p.ID)
	if err != nil {
		return Unexpected(err)
	}
	if err := o.projects.Delete(ctx, p.ID); err != nil {
		return Unexpected(err)
	}
	o.logger.WithFields(log.Fields{"project": p.ID, "tasks": removed}).Info("project deleted")
	o.emit(realtime.ProjectRoom(p.ID), realtime.ProjectDeleted, projectIDPayload{ProjectID: p.ID})
	for _, m := range p.Members {
		o.emit(realtime.UserRoom(m), realtime.UserRemovedFromProject, userRemovedPayload{ProjectID: p.ID, ProjectName: p.Name})
	}
	return nil
}

// JoinProject adds the caller as a member of the project holding code.
// Joining again is a successful no-op.
func (o *Orchestrator) JoinProject(ctx context.Context, userID, code string) (JoinResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return JoinResult{}, Validation("joinCode required")
	}
	found, err := o.projects.FindByJoinCode(ctx, code)
	if err != nil {
		return JoinResult{}, Unexpected(err)
	}
	if found == nil {
		return JoinResult{}, ErrProjectNotFound
	}
	p := *found
	if IsOwner(p, userID) {
		return JoinResult{}, Validation("Owner is already part of the project")
	}
	if p.IsMember(userID) {
		return JoinResult{Project: o.view(ctx, p), AlreadyMember: true}, nil
	}
	p.Members = append(p.Members, userID)
	p.UpdatedAt = o.now().UTC()
	if err := o.projects.Save(ctx, p); err != nil {
		return JoinResult{}, Unexpected(err)
	}
	v := o.view(ctx, p)
	member := RefID(userID)
	for _, m := range v.Members {
		if m.ID() == userID {
			member = m
		}
	}
	o.logger.WithFields(log.Fields{"project": p.ID, "user": userID}).Info("member joined")
	o.emit(realtime.ProjectRoom(p.ID), realtime.ProjectMemberJoined, memberJoinedPayload{ProjectID: p.ID, MemberID: userID, Member: member})
	o.emit(realtime.UserRoom(userID), realtime.UserJoinedProject, userJoinedPayload{Project: v, ProjectID: p.ID, ProjectName: p.Name})
	return JoinResult{Project: v}, nil
}

// RemoveMember drops memberID from the project.
func (o *Orchestrator) RemoveMember(ctx context.Context, userID, projectID, memberID string) (ProjectView, error) {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	switch d := CanRemoveMember(p, userID, memberID); d {
	case Allow:
	case DenyInvalidTarget:
		return ProjectView{}, Validation("Owner cannot be removed from the project")
	default:
		return ProjectView{}, Forbidden("Only the project owner can remove members")
	}
	idx := -1
	for i, m := range p.Members {
		if m == memberID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ProjectView{}, ErrMemberNotFound
	}
	p.Members = append(p.Members[:idx:idx], p.Members[idx+1:]...)
	p.UpdatedAt = o.now().UTC()
	if err := o.projects.Save(ctx, p); err != nil {
		return ProjectView{}, Unexpected(err)
	}
	o.logger.WithFields(log.Fields{"project": p.ID, "user": memberID}).Info("member removed")
	o.emit(realtime.ProjectRoom(p.ID), realtime.ProjectMemberRemoved, memberRemovedPayload{ProjectID: p.ID, MemberID: memberID})
	o.emit(realtime.UserRoom(memberID), realtime.UserRemovedFromProject, userRemovedPayload{ProjectID: p.ID, ProjectName: p.Name})
	return o.view(ctx, p), nil
}

// RegenerateJoinCode replaces the join code; the old code stops working.
func (o *Orchestrator) RegenerateJoinCode(ctx context.Context, userID, projectID string) (ProjectView, error) {
	p, err := o.loadProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if err := deny(CanModifyProjectSettings(p, userID), "Only the project owner can modify project settings"); err != nil {
		return ProjectView{}, err
	}
	code, err := uniqueJoinCode(ctx, o.projects)
	if err != nil {
		return ProjectView{}, Unexpected(err)
	}
	p.JoinCode = code
	p.UpdatedAt = o.now().UTC()
	if err := o.projects.Save(ctx, p); err != nil {
		return ProjectView{}, Unexpected(err)
	}
	v := o.view(ctx, p)
	o.emit(realtime.ProjectRoom(p.ID), realtime.ProjectUpdated, projectPayload{Project: v})
	return v, nil
}

// CanJoinProject reports whether userID may subscribe to the project's room.
func (o *Orchestrator) CanJoinProject(ctx context.Context, userID, projectID string) bool {
	return NewRoomGuard(o.projects, o.logger).CanJoinProject(ctx, userID, projectID)
}

// RoomGuard admits project room joins for the owner and members only.
// Lookup failures deny the join.
type RoomGuard struct {
	projects ProjectStore
	logger   *log.Logger
}

func NewRoomGuard(projects ProjectStore, logger *log.Logger) RoomGuard {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return RoomGuard{projects: projects, logger: logger}
}

func (g RoomGuard) CanJoinProject(ctx context.Context, userID, projectID string) bool {
	p, err := g.projects.FindByID(ctx, projectID)
	if err != nil {
		g.logger.WithFields(log.Fields{"project": projectID, "user": userID}).Warnf("room guard lookup failed: %v", err)
		return false
	}
	return p != nil && HasAccess(*p, userID)
}
