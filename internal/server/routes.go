package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"issueflow/internal/domain"
	"issueflow/internal/engine"
	"issueflow/internal/events"
	"issueflow/internal/report"
	"issueflow/internal/store"
	"issueflow/internal/timeparse"
)

type issuePath struct {
	IssueID string `path:"issue_id"`
}

type issueBody struct {
	Body IssueResponse `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p := domain.Project{Name: input.Body.Name}
		if input.Body.ID != nil {
			p.ID = strings.TrimSpace(*input.Body.ID)
		}
		created, err := e.CreateProject(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u := domain.User{Username: strings.TrimSpace(input.Body.Username)}
		if input.Body.ID != nil {
			u.ID = strings.TrimSpace(*input.Body.ID)
		}
		created, err := e.CreateUser(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine, r report.Reader) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateIssueRequest `json:"body"`
	}) (*issueBody, error) {
		d := engine.IssueDraft{
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			Type:      domain.IssueType(input.Body.Type),
			Priority:  domain.Priority(input.Body.Priority),
			DueDate:   input.Body.DueDate,
			Labels:    input.Body.Labels,
		}
		if input.Body.Description != nil {
			d.Description = *input.Body.Description
		}
		if input.Body.SprintID != nil {
			d.SprintID = *input.Body.SprintID
		}
		if input.Body.ReporterID != nil {
			d.ReporterID = *input.Body.ReporterID
		}
		issue, err := e.CreateIssue(ctx, d)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues",
		Summary:     "Search issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Text      string `query:"text"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		var status *domain.Status
		if v := strings.TrimSpace(input.Status); v != "" {
			s := domain.Status(strings.ToUpper(v))
			status = &s
		}
		items, err := r.Search(ctx, input.ProjectID, status, input.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: mapIssues(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		issue, err := e.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(issue)}, nil
	})

	transitions := []struct {
		id, verb, summary string
		fn                func(context.Context, string) (domain.Issue, error)
	}{
		{"start-issue", "start", "Move issue to IN_PROGRESS", e.StartIssue},
		{"complete-issue", "complete", "Move issue to DONE", e.CompleteIssue},
	}
	for _, tr := range transitions {
		fn := tr.fn
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPut,
			Path:        "/issues/{issue_id}/" + tr.verb,
			Summary:     tr.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
			issue, err := fn(ctx, input.IssueID)
			if err != nil {
				return nil, handleError(err)
			}
			return &issueBody{Body: issueResponse(issue)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "assign-issue",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/assign",
		Summary:     "Assign issue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
		UserID  string `query:"user_id" required:"true"`
	}) (*issueBody, error) {
		if strings.TrimSpace(input.UserID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		user, err := e.Store.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		issue, err := e.AssignIssue(ctx, input.IssueID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-history",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/history",
		Summary:     "Issue history, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []HistoryResponse `json:"body"`
	}, error) {
		entries, err := e.History(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryResponse, 0, len(entries))
		for _, h := range entries {
			res = append(res, historyResponse(h))
		}
		return &struct {
			Body []HistoryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/comments",
		Summary:       "Comment on issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		IssueID string            `path:"issue_id"`
		UserID  string            `query:"user_id"`
		Body    AddCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		authorID := strings.TrimSpace(input.UserID)
		if authorID == "" {
			authorID = engine.ActorFrom(ctx)
		}
		var author domain.User
		if authorID != "" {
			u, err := e.Store.GetUser(ctx, authorID)
			if err != nil {
				return nil, handleError(err)
			}
			author = u
		}
		c, err := e.AddComment(ctx, input.IssueID, engine.CommentDraft{Author: author, Content: input.Body.Content})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		items, err := e.Comments(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CommentResponse, 0, len(items))
		for _, c := range items {
			res = append(res, commentResponse(c))
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, r report.Reader) {
	huma.Register(api, huma.Operation{
		OperationID: "top-performers",
		Method:      http.MethodGet,
		Path:        "/reports/top-performers",
		Summary:     "Rank assignees by completed issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From  string `query:"from" doc:"RFC3339 time, YYYY-MM-DD, +7d style offset or natural language"`
		To    string `query:"to"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body TopPerformersResponse `json:"body"`
	}, error) {
		now := time.Now()
		if r.Now != nil {
			now = r.Now()
		}
		var w report.Window
		for _, b := range []struct {
			name, raw string
			dst       *time.Time
		}{{"from", input.From, &w.From}, {"to", input.To, &w.To}} {
			if strings.TrimSpace(b.raw) == "" {
				continue
			}
			t, err := timeparse.Parse(b.raw, now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+b.name, map[string]any{b.name: b.raw})
			}
			*b.dst = t
		}
		w, err := r.Resolve(w)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := r.TopPerformers(ctx, w, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := TopPerformersResponse{From: formatTime(w.From), To: formatTime(w.To), Items: []PerformerResponse{}}
		for _, p := range items {
			res.Items = append(res.Items, PerformerResponse{AssigneeName: p.AssigneeName, ClosedCount: p.ClosedCount})
		}
		return &struct {
			Body TopPerformersResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, log store.EventLog) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Type      string `query:"type" doc:"comma separated event types; a trailing .* matches a prefix"`
		Limit     int    `query:"limit" default:"50"`
		After     string `query:"after" doc:"return events with a larger id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.After != "" {
			parsed, err := strconv.ParseInt(input.After, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid after cursor", map[string]any{"after": input.After})
			}
			cursor = parsed
		}
		items, err := log.EventsAfter(ctx, limit, cursor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		filter := events.ParseFilter([]string{input.Type})
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			if filter.Match(evt.Type) {
				resp.Items = append(resp.Items, eventResponse(evt))
			}
		}
		if len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
