package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BacklogKey names the implicit column holding unscheduled tasks. It is never
// stored as a real column.
const BacklogKey = "backlog"

// Column is one board lane. A nil or zero WIP means no limit.
type Column struct {
	ID    string `json:"id,omitempty"`
	Key   string `json:"key"`
	Title string `json:"title"`
	Order int    `json:"order"`
	WIP   *int   `json:"wip,omitempty"`
}

// Limit returns the enforced cap, or zero when the column is unlimited.
func (c Column) Limit() int {
	if c.WIP == nil || *c.WIP <= 0 {
		return 0
	}
	return *c.WIP
}

// DefaultColumns is the board every new project starts with.
func DefaultColumns() []Column {
	return []Column{
		{ID: uuid.NewString(), Key: "hot-tasks", Title: "Hot tasks", Order: 1},
		{ID: uuid.NewString(), Key: "to-do", Title: "To do", Order: 2},
		{ID: uuid.NewString(), Key: "in-work", Title: "In work", Order: 3},
		{ID: uuid.NewString(), Key: "done", Title: "Done", Order: 4},
	}
}

// NormalizeColumns validates a full column list submitted by the owner and
// returns it sorted by order with ids filled in.
func NormalizeColumns(cols []Column) ([]Column, error) {
	if len(cols) == 0 {
		return nil, Validation("At least one column is required")
	}
	out := make([]Column, 0, len(cols))
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		c.Key = strings.TrimSpace(c.Key)
		c.Title = strings.TrimSpace(c.Title)
		if c.Key == "" {
			return nil, Validation("Column key required")
		}
		if c.Key == BacklogKey {
			return nil, Validation("Column key \"backlog\" is reserved")
		}
		if _, dup := seen[c.Key]; dup {
			return nil, Validation(fmt.Sprintf("Duplicate column key %q", c.Key))
		}
		seen[c.Key] = struct{}{}
		if c.Title == "" {
			return nil, Validation(fmt.Sprintf("Column %q needs a title", c.Key))
		}
		if c.WIP != nil {
			switch {
			case *c.WIP < 0:
				return nil, Validation(fmt.Sprintf("Column %q has a negative WIP limit", c.Key))
			case *c.WIP == 0:
				c.WIP = nil
			default:
				wip := *c.WIP
				c.WIP = &wip
			}
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// Project is the persisted project record. Members never contains OwnerID.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	JoinCode    string    `json:"joinCode"`
	Columns     []Column  `json:"columns"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Column looks up a real column by key.
func (p Project) Column(key string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

func (p Project) IsMember(userID string) bool {
	return slices.Contains(p.Members, userID)
}

// ProjectView is the project as returned to clients, with owner and members
// populated where the user directory knows them.
type ProjectView struct {
	ID          string    `json:"id"`
	Owner       UserRef   `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Members     []UserRef `json:"members"`
	JoinCode    string    `json:"joinCode"`
	Columns     []Column  `json:"columns"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// View populates p from users. Unknown ids stay bare.
func (p Project) View(users map[string]User) ProjectView {
	ref := func(id string) UserRef {
		if u, ok := users[id]; ok {
			return RefUser(u)
		}
		return RefID(id)
	}
	members := make([]UserRef, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, ref(m))
	}
	cols := p.Columns
	if cols == nil {
		cols = []Column{}
	}
	return ProjectView{
		ID:          p.ID,
		Owner:       ref(p.OwnerID),
		Name:        p.Name,
		Description: p.Description,
		Members:     members,
		JoinCode:    p.JoinCode,
		Columns:     cols,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
