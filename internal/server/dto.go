package server

import (
	"encoding/json"
	"time"

	"issueflow/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateUserRequest struct {
	ID       *string `json:"id,omitempty"`
	Username string  `json:"username"`
}

type CreateIssueRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Type        string     `json:"type,omitempty" enum:"TASK,BUG,STORY"`
	Priority    string     `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty" format:"date-time"`
	ReporterID  *string    `json:"reporter_id,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
}

type AddCommentRequest struct {
	Content string `json:"content"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type IssueResponse struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	SprintID    *string       `json:"sprint_id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Type        string        `json:"type" enum:"TASK,BUG,STORY"`
	Status      string        `json:"status" enum:"TODO,IN_PROGRESS,DONE"`
	Priority    string        `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	DueDate     *string       `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	Version     int64         `json:"version"`
	Assignee    *UserResponse `json:"assignee,omitempty"`
	Reporter    *UserResponse `json:"reporter,omitempty"`
	Labels      []string      `json:"labels"`
}

type HistoryResponse struct {
	ID        int64   `json:"id"`
	IssueID   string  `json:"issue_id"`
	ChangedAt string  `json:"changed_at" format:"date-time"`
	ChangedBy *string `json:"changed_by,omitempty"`
	Field     string  `json:"field" enum:"status,assignee"`
	OldValue  string  `json:"old_value"`
	NewValue  string  `json:"new_value"`
}

type CommentResponse struct {
	ID        int64        `json:"id"`
	IssueID   string       `json:"issue_id"`
	Author    UserResponse `json:"author"`
	Content   string       `json:"content"`
	CreatedAt string       `json:"created_at" format:"date-time"`
}

type PerformerResponse struct {
	AssigneeName string `json:"assignee_name"`
	ClosedCount  int    `json:"closed_count"`
}

type TopPerformersResponse struct {
	From  string              `json:"from" format:"date-time"`
	To    string              `json:"to" format:"date-time"`
	Items []PerformerResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, CreatedAt: formatTime(p.CreatedAt)}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, CreatedAt: formatTime(u.CreatedAt)}
}

func userPtrResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	res := userResponse(*u)
	return &res
}

func issueResponse(i domain.Issue) IssueResponse {
	res := IssueResponse{
		ID:          i.ID,
		ProjectID:   i.ProjectID,
		SprintID:    i.SprintID,
		Title:       i.Title,
		Description: i.Description,
		Type:        string(i.Type),
		Status:      string(i.Status),
		Priority:    string(i.Priority),
		CreatedAt:   formatTime(i.CreatedAt),
		Version:     i.Version,
		Assignee:    userPtrResponse(i.Assignee),
		Reporter:    userPtrResponse(i.Reporter),
		Labels:      nonNilSlice(i.Labels),
	}
	if i.DueDate != nil {
		due := formatTime(*i.DueDate)
		res.DueDate = &due
	}
	return res
}

func historyResponse(h domain.HistoryEntry) HistoryResponse {
	res := HistoryResponse{
		ID:        h.ID,
		IssueID:   h.IssueID,
		ChangedAt: formatTime(h.ChangedAt),
		ChangedBy: h.ChangedBy,
	}
	if h.Change != nil {
		res.Field = string(h.Change.Field())
		res.OldValue, res.NewValue = h.Change.Values()
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		IssueID:   c.IssueID,
		Author:    userResponse(c.Author),
		Content:   c.Content,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeMap(evt.Payload),
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	res := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		res = append(res, issueResponse(i))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func decodeMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
