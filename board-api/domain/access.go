package domain

// Decision is the outcome of an access check. The evaluator never fails; the
// Orchestrator maps denials onto the error taxonomy.
type Decision int

const (
	Allow Decision = iota
	DenyNotMember
	DenyRole
	DenyInvalidTarget
)

func (d Decision) OK() bool { return d == Allow }

func IsOwner(p Project, userID string) bool {
	return userID != "" && p.OwnerID == userID
}

// HasAccess reports whether userID may see the project at all.
func HasAccess(p Project, userID string) bool {
	return IsOwner(p, userID) || (userID != "" && p.IsMember(userID))
}

func ownerOnly(p Project, userID string) Decision {
	if IsOwner(p, userID) {
		return Allow
	}
	if !HasAccess(p, userID) {
		return DenyNotMember
	}
	return DenyRole
}

// CanCreateOrDeleteTask covers every owner-only board mutation: create,
// delete, reorder and import.
func CanCreateOrDeleteTask(p Project, userID string) Decision {
	return ownerOnly(p, userID)
}

// CanUpdateTask lets the owner change anything and the assignee change only
// the status timestamps.
func CanUpdateTask(p Project, t Task, userID string, patch TaskPatch) Decision {
	if IsOwner(p, userID) {
		return Allow
	}
	if !HasAccess(p, userID) {
		return DenyNotMember
	}
	if t.AssigneeID == "" || t.AssigneeID != userID {
		return DenyRole
	}
	if !patch.TimestampsOnly() {
		return DenyRole
	}
	return Allow
}

func CanModifyProjectSettings(p Project, userID string) Decision {
	return ownerOnly(p, userID)
}

// CanRemoveMember is owner-only and never targets the owner.
func CanRemoveMember(p Project, userID, targetID string) Decision {
	if d := ownerOnly(p, userID); !d.OK() {
		return d
	}
	if targetID == "" || targetID == p.OwnerID {
		return DenyInvalidTarget
	}
	return Allow
}
