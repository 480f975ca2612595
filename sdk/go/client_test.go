package issueflowsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issueflow/internal/engine"
	"issueflow/internal/logging"
	"issueflow/internal/memstore"
	"issueflow/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	s := memstore.New()
	handler, err := server.New(server.Config{Engine: engine.New(s, logging.Discard()), BasePath: "/v0"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	c.ActorID = "u-lead"
	return c
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	p, err := c.CreateProject(ctx, "Core")
	require.NoError(t, err)
	u, err := c.CreateUser(ctx, "u-lead", "lead")
	require.NoError(t, err)
	issue, err := c.CreateIssue(ctx, p.ID, NewIssue{Title: "Outage", Priority: "HIGH"})
	require.NoError(t, err)

	_, err = c.StartIssue(ctx, issue.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "constraint_violation", apiErr.Code)
	assert.False(t, IsConflict(err))

	_, err = c.AssignIssue(ctx, issue.ID, u.ID)
	require.NoError(t, err)
	_, err = c.StartIssue(ctx, issue.ID)
	require.NoError(t, err)
	done, err := c.CompleteIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", done.Status)

	_, err = c.AddComment(ctx, issue.ID, "", "resolved by restart")
	require.NoError(t, err)
	comments, err := c.Comments(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "lead", comments[0].Author.Username)

	history, err := c.History(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "DONE", history[0].NewValue)

	found, err := c.SearchIssues(ctx, p.ID, "DONE", "outage")
	require.NoError(t, err)
	require.Len(t, found, 1)

	top, err := c.TopPerformers(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []Performer{{AssigneeName: "lead", ClosedCount: 1}}, top)

	page, err := c.EventsPage(ctx, 100, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.Equal(t, "project.created", page.Items[0].Type)
}

func TestRetryOnConflict(t *testing.T) {
	attempts := 0
	err := RetryOnConflict(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &APIError{StatusCode: http.StatusConflict, Code: "concurrent_modification"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = RetryOnConflict(context.Background(), func(context.Context) error {
		attempts++
		return &APIError{StatusCode: http.StatusConflict, Code: "invalid_transition"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
