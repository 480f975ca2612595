package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issueflow/internal/db"
	"issueflow/internal/domain"
	"issueflow/internal/migrate"
	"issueflow/internal/repo"
	"issueflow/internal/store"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*repo.Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.New(conn)
	t.Cleanup(func() { r.Close() })

	_, err = r.CreateProject(ctx, domain.Project{ID: "p1", Name: "Core", CreatedAt: t0})
	require.NoError(t, err)
	for _, u := range []domain.User{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}, {ID: "u3", Username: "carol"}} {
		u.CreatedAt = t0
		_, err = r.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	return r, ctx
}

func seedIssue(t *testing.T, r *repo.Repo, ctx context.Context, i domain.Issue) domain.Issue {
	t.Helper()
	if i.ProjectID == "" {
		i.ProjectID = "p1"
	}
	if i.Type == "" {
		i.Type = domain.TypeTask
	}
	if i.Status == "" {
		i.Status = domain.StatusTodo
	}
	if i.Priority == "" {
		i.Priority = domain.PriorityMedium
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = t0
	}
	created, err := r.CreateIssue(ctx, i)
	require.NoError(t, err)
	return created
}

func TestIssueRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	due := t0.Add(48 * time.Hour)
	sprint := "s-1"
	seedIssue(t, r, ctx, domain.Issue{
		ID: "i1", Title: "Login fails", Description: "500 on submit", Type: domain.TypeBug,
		Priority: domain.PriorityHigh, DueDate: &due, SprintID: &sprint,
		Reporter: &domain.User{ID: "u1"}, Labels: []string{"backend", "auth"},
	})

	got, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "Login fails", got.Title)
	assert.Equal(t, domain.TypeBug, got.Type)
	assert.Equal(t, int64(0), got.Version)
	assert.Nil(t, got.Assignee)
	require.NotNil(t, got.Reporter)
	assert.Equal(t, "alice", got.Reporter.Username)
	assert.True(t, due.Equal(*got.DueDate))
	assert.Equal(t, "s-1", *got.SprintID)
	assert.Equal(t, []string{"auth", "backend"}, got.Labels)
	assert.True(t, t0.Equal(got.CreatedAt))
}

func TestGetIssueNotFound(t *testing.T) {
	r, ctx := newTestRepo(t)
	_, err := r.GetIssue(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateIssueIsConditional(t *testing.T) {
	r, ctx := newTestRepo(t)
	issue := seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "t"})

	issue.Status = domain.StatusInProgress
	updated, err := r.UpdateIssue(ctx, issue, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	stale := issue
	stale.Assignee = &domain.User{ID: "u2", Username: "bob"}
	_, err = r.UpdateIssue(ctx, stale, 0)
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)
	assert.Nil(t, got.Assignee)
	assert.Equal(t, int64(1), got.Version)

	_, err = r.UpdateIssue(ctx, domain.Issue{ID: "nope", Type: domain.TypeTask, Status: domain.StatusTodo, Priority: domain.PriorityLow}, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunInTxRollsBack(t *testing.T) {
	r, ctx := newTestRepo(t)
	issue := seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "t"})
	boom := errors.New("boom")

	err := r.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		issue.Status = domain.StatusInProgress
		if _, err := tx.UpdateIssue(ctx, issue, issue.Version); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := r.GetIssue(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTodo, got.Status)
	assert.Equal(t, int64(0), got.Version)
}

func TestRunInTxDoesNotRetryConflicts(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "t"})
	calls := 0
	err := r.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		calls++
		return store.ErrConflict
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 1, calls)
}

func TestHistoryNewestFirstAndAppendOnly(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "t"})
	actor := "u1"
	_, err := r.AppendHistory(ctx, domain.HistoryEntry{IssueID: "i1", ChangedAt: t0, ChangedBy: &actor,
		Change: domain.AssigneeChange{Old: domain.UnassignedName, New: "alice"}})
	require.NoError(t, err)
	_, err = r.AppendHistory(ctx, domain.HistoryEntry{IssueID: "i1", ChangedAt: t0.Add(time.Minute),
		Change: domain.StatusChange{Old: domain.StatusTodo, New: domain.StatusInProgress}})
	require.NoError(t, err)

	entries, err := r.ListHistory(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.StatusChange{Old: domain.StatusTodo, New: domain.StatusInProgress}, entries[0].Change)
	assert.Nil(t, entries[0].ChangedBy)
	assert.Equal(t, domain.AssigneeChange{Old: domain.UnassignedName, New: "alice"}, entries[1].Change)
	assert.Equal(t, "u1", *entries[1].ChangedBy)

	_, err = r.DB.ExecContext(ctx, `UPDATE issue_history SET new_value='x'`)
	assert.Error(t, err)
	_, err = r.DB.ExecContext(ctx, `DELETE FROM issue_history`)
	assert.Error(t, err)
}

func TestComments(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "t"})
	c, err := r.AddComment(ctx, domain.Comment{IssueID: "i1", Author: domain.User{ID: "u2"}, Content: "on it", CreatedAt: t0})
	require.NoError(t, err)
	assert.NotZero(t, c.ID)

	list, err := r.ListComments(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Author.Username)
	assert.Equal(t, "on it", list[0].Content)
}

func TestSearchIssues(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedIssue(t, r, ctx, domain.Issue{ID: "a", Title: "Fix LOGIN page"})
	seedIssue(t, r, ctx, domain.Issue{ID: "b", Title: "Other", Description: "login timeout", Status: domain.StatusInProgress})
	seedIssue(t, r, ctx, domain.Issue{ID: "c", Title: "Unrelated"})
	seedIssue(t, r, ctx, domain.Issue{ID: "d", Title: "100% done"})

	got, err := r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1", Text: "login"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, issueIDs(got))

	inProgress := domain.StatusInProgress
	got, err = r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1", Status: &inProgress, Text: "login"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, issueIDs(got))

	got, err = r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1", Text: "%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, issueIDs(got))

	got, err = r.SearchIssues(ctx, store.SearchFilter{ProjectID: "other"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTopPerformers(t *testing.T) {
	r, ctx := newTestRepo(t)
	alice := &domain.User{ID: "u1", Username: "alice"}
	bob := &domain.User{ID: "u2", Username: "bob"}
	carol := &domain.User{ID: "u3", Username: "carol"}
	seedIssue(t, r, ctx, domain.Issue{ID: "1", Title: "x", Status: domain.StatusDone, Assignee: bob})
	seedIssue(t, r, ctx, domain.Issue{ID: "2", Title: "x", Status: domain.StatusDone, Assignee: bob})
	seedIssue(t, r, ctx, domain.Issue{ID: "3", Title: "x", Status: domain.StatusDone, Assignee: carol})
	seedIssue(t, r, ctx, domain.Issue{ID: "4", Title: "x", Status: domain.StatusDone, Assignee: alice})
	seedIssue(t, r, ctx, domain.Issue{ID: "5", Title: "x", Status: domain.StatusInProgress, Assignee: alice})
	seedIssue(t, r, ctx, domain.Issue{ID: "6", Title: "x", Status: domain.StatusDone})
	seedIssue(t, r, ctx, domain.Issue{ID: "7", Title: "x", Status: domain.StatusDone, Assignee: carol, CreatedAt: t0.AddDate(0, -2, 0)})

	got, err := r.TopPerformers(ctx, t0.AddDate(0, 0, -30), t0, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.Performer{
		{AssigneeName: "bob", ClosedCount: 2},
		{AssigneeName: "alice", ClosedCount: 1},
		{AssigneeName: "carol", ClosedCount: 1},
	}, got)

	got, err = r.TopPerformers(ctx, t0.AddDate(0, 0, -30), t0, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTopPerformersBoundsAreInclusive(t *testing.T) {
	r, ctx := newTestRepo(t)
	alice := &domain.User{ID: "u1", Username: "alice"}
	bob := &domain.User{ID: "u2", Username: "bob"}
	from, to := t0.AddDate(0, 0, -7), t0
	seedIssue(t, r, ctx, domain.Issue{ID: "at-from", Title: "x", Status: domain.StatusDone, Assignee: alice, CreatedAt: from})
	seedIssue(t, r, ctx, domain.Issue{ID: "at-to", Title: "x", Status: domain.StatusDone, Assignee: bob, CreatedAt: to})
	seedIssue(t, r, ctx, domain.Issue{ID: "before", Title: "x", Status: domain.StatusDone, Assignee: bob, CreatedAt: from.Add(-time.Nanosecond)})
	seedIssue(t, r, ctx, domain.Issue{ID: "after", Title: "x", Status: domain.StatusDone, Assignee: bob, CreatedAt: to.Add(time.Nanosecond)})

	got, err := r.TopPerformers(ctx, from, to, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.Performer{
		{AssigneeName: "alice", ClosedCount: 1},
		{AssigneeName: "bob", ClosedCount: 1},
	}, got)
}

func TestMissingReferencesAreNotFound(t *testing.T) {
	r, ctx := newTestRepo(t)
	issue := seedIssue(t, r, ctx, domain.Issue{ID: "i1", Title: "x"})

	issue.Assignee = &domain.User{ID: "ghost", Username: "ghost"}
	_, err := r.UpdateIssue(ctx, issue, issue.Version)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.AddComment(ctx, domain.Comment{IssueID: "i1", Author: domain.User{ID: "ghost"}, Content: "boo", CreatedAt: t0})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.CreateIssue(ctx, domain.Issue{ID: "i2", ProjectID: "nope", Title: "x", Type: domain.TypeTask,
		Status: domain.StatusTodo, Priority: domain.PriorityLow, CreatedAt: t0})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchFoldsNonASCII(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedIssue(t, r, ctx, domain.Issue{ID: "a", Title: "ÉCRAN noir"})
	seedIssue(t, r, ctx, domain.Issue{ID: "b", Title: "x", Description: "Überlauf im Puffer"})

	got, err := r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1", Text: "écran"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, issueIDs(got))

	got, err = r.SearchIssues(ctx, store.SearchFilter{ProjectID: "p1", Text: "ÜBERLAUF"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, issueIDs(got))
}

func TestDuplicateUsername(t *testing.T) {
	r, ctx := newTestRepo(t)
	_, err := r.CreateUser(ctx, domain.User{ID: "u9", Username: "alice", CreatedAt: t0})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestEventsAfter(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, typ := range []string{"issue.created", "issue.started", "issue.completed"} {
		require.NoError(t, r.AppendEvent(ctx, domain.Event{TS: "2024-03-01T09:00:00.000000000Z", Type: typ, ProjectID: "p1", EntityKind: "issue", EntityID: "i1", Payload: "{}"}))
	}
	all, err := r.EventsAfter(ctx, 10, 0, "p1")
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := r.EventsAfter(ctx, 10, all[0].ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "issue.started", rest[0].Type)
	assert.Empty(t, rest[0].ActorID)

	latest, err := r.LatestEventID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, all[2].ID, latest)
}

func issueIDs(in []domain.Issue) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, i.ID)
	}
	return out
}
