package domain_test

import (
	"testing"

	"prism-board/board-api/domain"
)

func mustPatch(t *testing.T, body string) domain.TaskPatch {
	t.Helper()
	p, err := domain.ParseTaskPatch([]byte(body))
	if err != nil {
		t.Fatalf("parse patch %s: %v", body, err)
	}
	return p
}

func TestAccessDecisions(t *testing.T) {
	p := domain.Project{ID: "p1", OwnerID: "owner", Members: []string{"member", "assignee"}}
	task := domain.Task{ID: "t1", ProjectID: "p1", AssigneeID: "assignee"}
	timestamps := mustPatch(t, `{"startedAt":"2024-05-01T10:00:00Z"}`)
	mixed := mustPatch(t, `{"startedAt":"2024-05-01T10:00:00Z","title":"x"}`)
	empty := mustPatch(t, `{}`)

	tests := []struct {
		name string
		got  domain.Decision
		want domain.Decision
	}{
		{"owner creates", domain.CanCreateOrDeleteTask(p, "owner"), domain.Allow},
		{"member creates", domain.CanCreateOrDeleteTask(p, "member"), domain.DenyRole},
		{"stranger creates", domain.CanCreateOrDeleteTask(p, "stranger"), domain.DenyNotMember},
		{"owner updates anything", domain.CanUpdateTask(p, task, "owner", mixed), domain.Allow},
		{"assignee sets timestamps", domain.CanUpdateTask(p, task, "assignee", timestamps), domain.Allow},
		{"assignee touches title", domain.CanUpdateTask(p, task, "assignee", mixed), domain.DenyRole},
		{"assignee empty patch", domain.CanUpdateTask(p, task, "assignee", empty), domain.DenyRole},
		{"member not assignee", domain.CanUpdateTask(p, task, "member", timestamps), domain.DenyRole},
		{"stranger updates", domain.CanUpdateTask(p, task, "stranger", timestamps), domain.DenyNotMember},
		{"owner settings", domain.CanModifyProjectSettings(p, "owner"), domain.Allow},
		{"member settings", domain.CanModifyProjectSettings(p, "member"), domain.DenyRole},
		{"owner removes member", domain.CanRemoveMember(p, "owner", "member"), domain.Allow},
		{"owner removes self", domain.CanRemoveMember(p, "owner", "owner"), domain.DenyInvalidTarget},
		{"member removes member", domain.CanRemoveMember(p, "member", "assignee"), domain.DenyRole},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %v want %v", tc.got, tc.want)
			}
		})
	}
}

func TestHasAccess(t *testing.T) {
	p := domain.Project{OwnerID: "owner", Members: []string{"member"}}
	if !domain.HasAccess(p, "owner") || !domain.HasAccess(p, "member") {
		t.Fatal("owner and member should have access")
	}
	if domain.HasAccess(p, "stranger") || domain.HasAccess(p, "") {
		t.Fatal("stranger and anonymous must not have access")
	}
	if !domain.IsOwner(p, "owner") || domain.IsOwner(p, "member") {
		t.Fatal("unexpected owner check")
	}
}
