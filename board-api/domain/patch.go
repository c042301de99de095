package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Field is an optional patch value. Null is set when the key was sent as
// JSON null, which clears the stored value.
type Field[T any] struct {
	Present bool
	Null    bool
	Value   T
}

func (f *Field[T]) decode(key string, raw sonic.NoCopyRawMessage) error {
	f.Present = true
	if string(raw) == "null" {
		f.Null = true
		return nil
	}
	if err := sonic.Unmarshal(raw, &f.Value); err != nil {
		return Validation(fmt.Sprintf("Invalid value for %s", key))
	}
	return nil
}

// TaskPatch is a partial task update. Keys records every key the caller
// sent, including ones the board does not recognise.
type TaskPatch struct {
	keys []string

	Title       Field[string]
	Description Field[string]
	Color       Field[string]
	ColumnKey   Field[string]
	Order       Field[float64]
	AssigneeID  Field[string]
	Labels      Field[[]string]
	Estimate    Field[float64]
	StoryPoints Field[float64]
	Priority    Field[Priority]
	Backlog     Field[bool]
	DueDate     Field[time.Time]
	StartedAt   Field[time.Time]
	CompletedAt Field[time.Time]
}

var timestampKeys = map[string]struct{}{"startedAt": {}, "completedAt": {}}

// ParseTaskPatch decodes a JSON object into a patch.
func ParseTaskPatch(data []byte) (TaskPatch, error) {
	var raw map[string]sonic.NoCopyRawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return TaskPatch{}, Validation("Invalid JSON body")
	}
	var p TaskPatch
	for key, v := range raw {
		p.keys = append(p.keys, key)
		var err error
		switch key {
		case "title":
			err = p.Title.decode(key, v)
		case "description":
			err = p.Description.decode(key, v)
		case "color":
			err = p.Color.decode(key, v)
		case "columnKey":
			err = p.ColumnKey.decode(key, v)
		case "order":
			err = p.Order.decode(key, v)
		case "assigneeId":
			err = p.AssigneeID.decode(key, v)
		case "labels":
			err = p.Labels.decode(key, v)
		case "estimate":
			err = p.Estimate.decode(key, v)
		case "storyPoints":
			err = p.StoryPoints.decode(key, v)
		case "priority":
			err = p.Priority.decode(key, v)
			if err == nil && !p.Priority.Null && !p.Priority.Value.Valid() {
				err = Validation("Invalid value for priority")
			}
		case "backlog":
			err = p.Backlog.decode(key, v)
		case "dueDate":
			err = p.DueDate.decode(key, v)
		case "startedAt":
			err = p.StartedAt.decode(key, v)
		case "completedAt":
			err = p.CompletedAt.decode(key, v)
		}
		if err != nil {
			return TaskPatch{}, err
		}
	}
	sort.Strings(p.keys)
	return p, nil
}

// Keys lists the keys present in the request body.
func (p TaskPatch) Keys() []string { return p.keys }

// TimestampsOnly reports whether the patch is non-empty and touches nothing
// but startedAt and completedAt.
func (p TaskPatch) TimestampsOnly() bool {
	if len(p.keys) == 0 {
		return false
	}
	for _, k := range p.keys {
		if _, ok := timestampKeys[k]; !ok {
			return false
		}
	}
	return true
}

// Placement reports whether the patch moves the task between board and
// backlog or between columns.
func (p TaskPatch) Placement() bool {
	return p.ColumnKey.Present || p.Backlog.Present
}

// applyTimestamps copies the status timestamps onto t.
func (p TaskPatch) applyTimestamps(t *Task) {
	setTime(&t.StartedAt, p.StartedAt)
	setTime(&t.CompletedAt, p.CompletedAt)
}

// applyOwner copies every owner editable field except placement.
func (p TaskPatch) applyOwner(t *Task) {
	if p.Title.Present {
		t.Title = p.Title.Value
	}
	if p.Description.Present {
		t.Description = p.Description.Value
	}
	if p.Color.Present {
		t.Color = p.Color.Value
	}
	if p.Order.Present && !p.Order.Null {
		t.Order = p.Order.Value
	}
	if p.AssigneeID.Present {
		t.AssigneeID = p.AssigneeID.Value
	}
	if p.Labels.Present {
		t.Labels = p.Labels.Value
	}
	setFloat(&t.Estimate, p.Estimate)
	setFloat(&t.StoryPoints, p.StoryPoints)
	if p.Priority.Present {
		t.Priority = p.Priority.Value
		if p.Priority.Null {
			t.Priority = PriorityMedium
		}
	}
	setTime(&t.DueDate, p.DueDate)
	p.applyTimestamps(t)
}

func setTime(dst **time.Time, f Field[time.Time]) {
	if !f.Present {
		return
	}
	if f.Null {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}

func setFloat(dst **float64, f Field[float64]) {
	if !f.Present {
		return
	}
	if f.Null {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}
