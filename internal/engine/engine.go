package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"issueflow/internal/domain"
	"issueflow/internal/events"
	"issueflow/internal/store"
)

// Engine applies lifecycle operations to issues. It holds no locks:
// every mutation is a conditional write on the version that was loaded.
type Engine struct {
	Store  store.Store
	Events events.Builder
	Now    func() time.Time
	Logger *slog.Logger
}

func New(s store.Store, logger *slog.Logger) Engine {
	return Engine{
		Store:  s,
		Events: events.Builder{},
		Now:    time.Now,
		Logger: logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) event(ctx context.Context, evtType, projectID, kind, entityID string, payload events.Payload) (domain.Event, error) {
	b := e.Events
	if b.Now == nil {
		b.Now = e.now
	}
	return b.New(evtType, projectID, kind, entityID, ActorFrom(ctx), payload)
}

// IssueDraft are parameters for creating an issue.
type IssueDraft struct {
	ProjectID   string
	SprintID    string
	Title       string
	Description string
	Type        domain.IssueType
	Priority    domain.Priority
	DueDate     *time.Time
	ReporterID  string
	Labels      []string
}

func (e Engine) CreateIssue(ctx context.Context, d IssueDraft) (domain.Issue, error) {
	const op = "create issue"
	if strings.TrimSpace(d.Title) == "" {
		return domain.Issue{}, newError(KindConstraintViolation, op, "", "title is required")
	}
	if d.ProjectID == "" {
		return domain.Issue{}, newError(KindConstraintViolation, op, "", "project is required")
	}
	if d.Type == "" {
		d.Type = domain.TypeTask
	}
	if !d.Type.Valid() {
		return domain.Issue{}, newError(KindConstraintViolation, op, "", "unknown issue type %q", d.Type)
	}
	if d.Priority == "" {
		d.Priority = domain.PriorityMedium
	}
	if !d.Priority.Valid() {
		return domain.Issue{}, newError(KindConstraintViolation, op, "", "unknown priority %q", d.Priority)
	}
	if _, err := e.Store.GetProject(ctx, d.ProjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Issue{}, newError(KindNotFound, op, "", "project %s not found", d.ProjectID)
		}
		return domain.Issue{}, fmt.Errorf("%s: %w", op, err)
	}
	issue := domain.Issue{
		ID:          uuid.NewString(),
		ProjectID:   d.ProjectID,
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Status:      domain.StatusTodo,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
		CreatedAt:   e.now(),
		Labels:      normalizeLabels(d.Labels),
	}
	if d.SprintID != "" {
		issue.SprintID = &d.SprintID
	}
	if d.ReporterID != "" {
		reporter, err := e.Store.GetUser(ctx, d.ReporterID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Issue{}, newError(KindNotFound, op, "", "reporter %s not found", d.ReporterID)
			}
			return domain.Issue{}, fmt.Errorf("%s: %w", op, err)
		}
		issue.Reporter = &reporter
	}
	evt, err := e.event(ctx, events.IssueCreated, issue.ProjectID, "issue", issue.ID, events.Payload{
		"title":    issue.Title,
		"type":     issue.Type,
		"priority": issue.Priority,
	})
	if err != nil {
		return domain.Issue{}, err
	}
	var created domain.Issue
	err = e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.CreateIssue(ctx, issue)
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return domain.Issue{}, e.storeError(op, issue.ID, err)
	}
	e.log().Debug("issue created", "issue", created.ID, "project", created.ProjectID)
	return created, nil
}

func normalizeLabels(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// StartIssue moves a TODO issue to IN_PROGRESS. HIGH priority issues must
// be assigned first.
func (e Engine) StartIssue(ctx context.Context, id string) (domain.Issue, error) {
	return e.transition(ctx, "start issue", id, domain.StatusInProgress, events.IssueStarted)
}

// CompleteIssue moves an IN_PROGRESS issue to DONE.
func (e Engine) CompleteIssue(ctx context.Context, id string) (domain.Issue, error) {
	return e.transition(ctx, "complete issue", id, domain.StatusDone, events.IssueCompleted)
}

func (e Engine) transition(ctx context.Context, op, id string, to domain.Status, evtType string) (domain.Issue, error) {
	issue, err := e.load(ctx, op, id)
	if err != nil {
		return domain.Issue{}, err
	}
	from := issue.Status
	if err := ensureTransition(from, to); err != nil {
		err.Op, err.IssueID = op, id
		return domain.Issue{}, err
	}
	if to == domain.StatusInProgress && issue.Priority == domain.PriorityHigh && issue.Assignee == nil {
		return domain.Issue{}, newError(KindConstraintViolation, op, id, "high priority issue must be assigned before it is started")
	}
	issue.Status = to
	change := domain.StatusChange{Old: from, New: to}
	return e.commit(ctx, op, issue, change, evtType, events.Payload{"from": from, "to": to})
}

func ensureTransition(from, to domain.Status) *Error {
	if domain.CanTransition(from, to) {
		return nil
	}
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf("cannot move issue from %s to %s", from, to)}
}

// AssignIssue sets the assignee. The previous assignee name, or
// domain.UnassignedName, is kept in the history entry.
func (e Engine) AssignIssue(ctx context.Context, id string, assignee domain.User) (domain.Issue, error) {
	const op = "assign issue"
	if assignee.ID == "" || assignee.Username == "" {
		return domain.Issue{}, newError(KindConstraintViolation, op, id, "assignee is required")
	}
	issue, err := e.load(ctx, op, id)
	if err != nil {
		return domain.Issue{}, err
	}
	change := domain.AssigneeChange{Old: issue.AssigneeName(), New: assignee.Username}
	issue.Assignee = &assignee
	return e.commit(ctx, op, issue, change, events.IssueAssigned, events.Payload{
		"from":        change.Old,
		"to":          change.New,
		"assignee_id": assignee.ID,
	})
}

// commit writes issue conditioned on the version it was loaded with and
// appends the history entry and event in the same transaction.
func (e Engine) commit(ctx context.Context, op string, issue domain.Issue, change domain.Change, evtType string, payload events.Payload) (domain.Issue, error) {
	at := e.now()
	evt, err := e.event(ctx, evtType, issue.ProjectID, "issue", issue.ID, payload)
	if err != nil {
		return domain.Issue{}, err
	}
	entry := domain.HistoryEntry{
		IssueID:   issue.ID,
		ChangedAt: at,
		ChangedBy: actorPtr(ctx),
		Change:    change,
	}
	var updated domain.Issue
	err = e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		updated, err = tx.UpdateIssue(ctx, issue, issue.Version)
		if err != nil {
			return err
		}
		if _, err := tx.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.log().Info("issue modified concurrently", "op", op, "issue", issue.ID, "version", issue.Version)
		}
		return domain.Issue{}, e.storeError(op, issue.ID, err)
	}
	e.log().Debug("issue updated", "op", op, "issue", updated.ID, "status", updated.Status, "version", updated.Version)
	return updated, nil
}

// CommentDraft are parameters for adding a comment.
type CommentDraft struct {
	Author  domain.User
	Content string
}

// AddComment attaches a comment to an existing issue. Comments do not touch
// the issue row and therefore never conflict.
func (e Engine) AddComment(ctx context.Context, issueID string, d CommentDraft) (domain.Comment, error) {
	const op = "add comment"
	if d.Author.ID == "" {
		return domain.Comment{}, newError(KindConstraintViolation, op, issueID, "author is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return domain.Comment{}, newError(KindConstraintViolation, op, issueID, "content is required")
	}
	c := domain.Comment{
		IssueID:   issueID,
		Author:    d.Author,
		Content:   d.Content,
		CreatedAt: e.now(),
	}
	var added domain.Comment
	err := e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, issueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", issueID, err)
		}
		added, err = tx.AddComment(ctx, c)
		if err != nil {
			return err
		}
		evt, err := e.event(ctx, events.IssueCommented, issue.ProjectID, "issue", issueID, events.Payload{
			"comment_id": added.ID,
			"author":     d.Author.Username,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return domain.Comment{}, e.storeError(op, issueID, err)
	}
	return added, nil
}

func (e Engine) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return e.load(ctx, "get issue", id)
}

// History returns the audit trail of an issue, newest first.
func (e Engine) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	const op = "issue history"
	if _, err := e.load(ctx, op, id); err != nil {
		return nil, err
	}
	entries, err := e.Store.ListHistory(ctx, id)
	if err != nil {
		return nil, e.storeError(op, id, err)
	}
	return entries, nil
}

func (e Engine) Comments(ctx context.Context, id string) ([]domain.Comment, error) {
	const op = "list comments"
	if _, err := e.load(ctx, op, id); err != nil {
		return nil, err
	}
	comments, err := e.Store.ListComments(ctx, id)
	if err != nil {
		return nil, e.storeError(op, id, err)
	}
	return comments, nil
}

func (e Engine) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	const op = "create project"
	if strings.TrimSpace(p.Name) == "" {
		return domain.Project{}, newError(KindConstraintViolation, op, "", "name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = e.now()
	evt, err := e.event(ctx, events.ProjectCreated, p.ID, "project", p.ID, events.Payload{"name": p.Name})
	if err != nil {
		return domain.Project{}, err
	}
	var created domain.Project
	err = e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if created, err = tx.CreateProject(ctx, p); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return domain.Project{}, e.storeError(op, "", err)
	}
	return created, nil
}

func (e Engine) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	const op = "create user"
	if strings.TrimSpace(u.Username) == "" {
		return domain.User{}, newError(KindConstraintViolation, op, "", "username is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = e.now()
	evt, err := e.event(ctx, events.UserCreated, "", "user", u.ID, events.Payload{"username": u.Username})
	if err != nil {
		return domain.User{}, err
	}
	var created domain.User
	err = e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if created, err = tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return domain.User{}, e.storeError(op, "", err)
	}
	return created, nil
}

func (e Engine) load(ctx context.Context, op, id string) (domain.Issue, error) {
	if id == "" {
		return domain.Issue{}, newError(KindNotFound, op, id, "issue id is required")
	}
	issue, err := e.Store.GetIssue(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Issue{}, &Error{Kind: KindNotFound, Op: op, IssueID: id, Msg: "issue not found", Err: err}
	}
	if err != nil {
		return domain.Issue{}, e.storeError(op, id, err)
	}
	return issue, nil
}

// storeError maps store sentinels to engine kinds and wraps everything else.
func (e Engine) storeError(op, id string, err error) error {
	var ee *Error
	switch {
	case errors.As(err, &ee):
		return err
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, IssueID: id, Msg: "referenced record not found", Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConcurrentModification, Op: op, IssueID: id, Msg: "issue was modified concurrently; reload and retry", Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &Error{Kind: KindConstraintViolation, Op: op, IssueID: id, Msg: "record already exists", Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
