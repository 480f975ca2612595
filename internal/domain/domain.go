package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type IssueType string

const (
	TypeTask  IssueType = "TASK"
	TypeBug   IssueType = "BUG"
	TypeStory IssueType = "STORY"
)

func (t IssueType) Valid() bool {
	switch t {
	case TypeTask, TypeBug, TypeStory:
		return true
	}
	return false
}

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Next returns the only status reachable from s. Terminal statuses report false.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusTodo:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusDone, true
	}
	return "", false
}

// CanTransition reports whether from -> to is an edge of the workflow.
func CanTransition(from, to Status) bool {
	next, ok := from.Next()
	return ok && next == to
}

// ParseStatus accepts the canonical names case-sensitively.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q", v)
	}
	return s, nil
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Issue struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        IssueType  `json:"type" enum:"TASK,BUG,STORY"`
	Status      Status     `json:"status" enum:"TODO,IN_PROGRESS,DONE"`
	Priority    Priority   `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	DueDate     *time.Time `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	Version     int64      `json:"version"`
	Assignee    *User      `json:"assignee,omitempty"`
	Reporter    *User      `json:"reporter,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
}

// AssigneeName returns the assignee's username or UnassignedName.
func (i Issue) AssigneeName() string {
	if i.Assignee == nil {
		return UnassignedName
	}
	return i.Assignee.Username
}

// UnassignedName stands in for the previous assignee on a first assignment.
const UnassignedName = "Unassigned"

type ChangeField string

const (
	FieldStatus   ChangeField = "status"
	FieldAssignee ChangeField = "assignee"
)

// Change is either a StatusChange or an AssigneeChange.
type Change interface {
	Field() ChangeField
	Values() (oldValue, newValue string)
}

type StatusChange struct {
	Old Status
	New Status
}

func (StatusChange) Field() ChangeField { return FieldStatus }

func (c StatusChange) Values() (string, string) { return string(c.Old), string(c.New) }

type AssigneeChange struct {
	Old string
	New string
}

func (AssigneeChange) Field() ChangeField { return FieldAssignee }

func (c AssigneeChange) Values() (string, string) { return c.Old, c.New }

// ChangeFromValues rebuilds the variant for a stored (field, old, new) triple.
func ChangeFromValues(field ChangeField, oldValue, newValue string) (Change, error) {
	switch field {
	case FieldStatus:
		return StatusChange{Old: Status(oldValue), New: Status(newValue)}, nil
	case FieldAssignee:
		return AssigneeChange{Old: oldValue, New: newValue}, nil
	}
	return nil, fmt.Errorf("unknown history field %q", field)
}

type HistoryEntry struct {
	ID        int64
	IssueID   string
	ChangedAt time.Time
	ChangedBy *string
	Change    Change
}

type historyEntryJSON struct {
	ID          int64       `json:"id"`
	IssueID     string      `json:"issue_id"`
	ChangedAt   time.Time   `json:"changed_at"`
	ChangedBy   *string     `json:"changed_by,omitempty"`
	Field       ChangeField `json:"field"`
	OldStatus   string      `json:"old_status,omitempty"`
	NewStatus   string      `json:"new_status,omitempty"`
	OldAssignee string      `json:"old_assignee,omitempty"`
	NewAssignee string      `json:"new_assignee,omitempty"`
}

func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	out := historyEntryJSON{
		ID:        h.ID,
		IssueID:   h.IssueID,
		ChangedAt: h.ChangedAt,
		ChangedBy: h.ChangedBy,
	}
	switch c := h.Change.(type) {
	case StatusChange:
		out.Field = FieldStatus
		out.OldStatus, out.NewStatus = string(c.Old), string(c.New)
	case AssigneeChange:
		out.Field = FieldAssignee
		out.OldAssignee, out.NewAssignee = c.Old, c.New
	default:
		return nil, fmt.Errorf("history entry %d has no change", h.ID)
	}
	return json.Marshal(out)
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var in historyEntryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	oldValue, newValue := in.OldStatus, in.NewStatus
	if in.Field == FieldAssignee {
		oldValue, newValue = in.OldAssignee, in.NewAssignee
	}
	change, err := ChangeFromValues(in.Field, oldValue, newValue)
	if err != nil {
		return err
	}
	*h = HistoryEntry{
		ID:        in.ID,
		IssueID:   in.IssueID,
		ChangedAt: in.ChangedAt,
		ChangedBy: in.ChangedBy,
		Change:    change,
	}
	return nil
}

type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Performer struct {
	AssigneeName string `json:"assignee_name"`
	ClosedCount  int    `json:"closed_count"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}
