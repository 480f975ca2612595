package memstore

import (
	"context"
	"fmt"
	"sort"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

// transaction owns a private copy of the state; it is only reachable from
// inside RunInTx, which holds the store lock.
type transaction struct {
	state memoryState
}

func (s memoryState) resolve(rec issueRecord) domain.Issue {
	i := rec.issue
	i.Assignee, i.Reporter = nil, nil
	if u, ok := s.users[rec.assigneeID]; ok {
		i.Assignee = &u
	}
	if u, ok := s.users[rec.reporterID]; ok {
		i.Reporter = &u
	}
	i.Labels = append([]string(nil), rec.issue.Labels...)
	return i
}

func record(i domain.Issue) issueRecord {
	rec := issueRecord{issue: i}
	if i.Assignee != nil {
		rec.assigneeID = i.Assignee.ID
	}
	if i.Reporter != nil {
		rec.reporterID = i.Reporter.ID
	}
	labels := append([]string(nil), i.Labels...)
	sort.Strings(labels)
	rec.issue.Labels = labels
	rec.issue.Assignee, rec.issue.Reporter = nil, nil
	return rec
}

func (tx *transaction) checkUser(u *domain.User) error {
	if u == nil {
		return nil
	}
	if _, ok := tx.state.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, store.ErrNotFound)
	}
	return nil
}

func (tx *transaction) GetIssue(_ context.Context, id string) (domain.Issue, error) {
	rec, ok := tx.state.issues[id]
	if !ok {
		return domain.Issue{}, store.ErrNotFound
	}
	return tx.state.resolve(rec), nil
}

func (tx *transaction) CreateIssue(_ context.Context, i domain.Issue) (domain.Issue, error) {
	if _, ok := tx.state.issues[i.ID]; ok {
		return i, store.ErrDuplicate
	}
	if _, ok := tx.state.projects[i.ProjectID]; !ok {
		return i, fmt.Errorf("project %s: %w", i.ProjectID, store.ErrNotFound)
	}
	if err := tx.checkUser(i.Assignee); err != nil {
		return i, err
	}
	if err := tx.checkUser(i.Reporter); err != nil {
		return i, err
	}
	tx.state.issues[i.ID] = record(i)
	return i, nil
}

func (tx *transaction) UpdateIssue(_ context.Context, i domain.Issue, expectedVersion int64) (domain.Issue, error) {
	cur, ok := tx.state.issues[i.ID]
	if !ok {
		return i, store.ErrNotFound
	}
	if cur.issue.Version != expectedVersion {
		return i, store.ErrConflict
	}
	if err := tx.checkUser(i.Assignee); err != nil {
		return i, err
	}
	i.Version = expectedVersion + 1
	i.CreatedAt = cur.issue.CreatedAt
	i.ProjectID = cur.issue.ProjectID
	tx.state.issues[i.ID] = record(i)
	return i, nil
}

func (tx *transaction) AppendHistory(_ context.Context, h domain.HistoryEntry) (domain.HistoryEntry, error) {
	if h.Change == nil {
		return h, fmt.Errorf("history entry for %s has no change", h.IssueID)
	}
	if _, ok := tx.state.issues[h.IssueID]; !ok {
		return h, fmt.Errorf("issue %s: %w", h.IssueID, store.ErrNotFound)
	}
	tx.state.seq++
	h.ID = tx.state.seq
	tx.state.history = append(tx.state.history, h)
	return h, nil
}

func (tx *transaction) ListHistory(_ context.Context, issueID string) ([]domain.HistoryEntry, error) {
	var res []domain.HistoryEntry
	for _, h := range tx.state.history {
		if h.IssueID == issueID {
			res = append(res, h)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].ChangedAt.Equal(res[j].ChangedAt) {
			return res[i].ChangedAt.After(res[j].ChangedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (tx *transaction) AddComment(_ context.Context, c domain.Comment) (domain.Comment, error) {
	if _, ok := tx.state.issues[c.IssueID]; !ok {
		return c, fmt.Errorf("issue %s: %w", c.IssueID, store.ErrNotFound)
	}
	if err := tx.checkUser(&c.Author); err != nil {
		return c, err
	}
	tx.state.seq++
	c.ID = tx.state.seq
	tx.state.comments = append(tx.state.comments, c)
	return c, nil
}

func (tx *transaction) ListComments(_ context.Context, issueID string) ([]domain.Comment, error) {
	var res []domain.Comment
	for _, c := range tx.state.comments {
		if c.IssueID == issueID {
			c.Author = tx.state.users[c.Author.ID]
			res = append(res, c)
		}
	}
	return res, nil
}

func (tx *transaction) AppendEvent(_ context.Context, e domain.Event) error {
	tx.state.seq++
	e.ID = tx.state.seq
	tx.state.events = append(tx.state.events, e)
	return nil
}

func (tx *transaction) CreateProject(_ context.Context, p domain.Project) (domain.Project, error) {
	if _, ok := tx.state.projects[p.ID]; ok {
		return p, store.ErrDuplicate
	}
	tx.state.projects[p.ID] = p
	return p, nil
}

func (tx *transaction) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	if _, ok := tx.state.users[u.ID]; ok {
		return u, store.ErrDuplicate
	}
	for _, existing := range tx.state.users {
		if existing.Username == u.Username {
			return u, store.ErrDuplicate
		}
	}
	tx.state.users[u.ID] = u
	return u, nil
}
