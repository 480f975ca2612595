// Package store holds the persistence contracts consumed by the lifecycle
// engine and the reporting reader. The SQLite implementation lives in
// internal/repo and an in-process one in internal/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"issueflow/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by UpdateIssue when the stored version no longer
// matches the expected version.
var ErrConflict = errors.New("version conflict")

// ErrDuplicate is returned when a project id, user id or username is taken.
var ErrDuplicate = errors.New("already exists")

type IssueStore interface {
	GetIssue(ctx context.Context, id string) (domain.Issue, error)
	CreateIssue(ctx context.Context, issue domain.Issue) (domain.Issue, error)
	// UpdateIssue writes issue only if the stored version equals
	// expectedVersion, and returns the issue with its incremented version.
	UpdateIssue(ctx context.Context, issue domain.Issue, expectedVersion int64) (domain.Issue, error)
}

// HistoryStore is append-only.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error)
	// ListHistory returns entries newest first.
	ListHistory(ctx context.Context, issueID string) ([]domain.HistoryEntry, error)
}

type CommentStore interface {
	AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	ListComments(ctx context.Context, issueID string) ([]domain.Comment, error)
}

type EventLog interface {
	AppendEvent(ctx context.Context, evt domain.Event) error
	EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context, projectID string) (int64, error)
}

// Directory resolves the collaborator records referenced by issues.
type Directory interface {
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

type SearchFilter struct {
	ProjectID string
	Status    *domain.Status
	Text      string
}

// Reader answers read-only queries over issues.
type Reader interface {
	SearchIssues(ctx context.Context, f SearchFilter) ([]domain.Issue, error)
	// TopPerformers counts DONE, assigned issues created within [from, to]
	// per assignee name, ordered by count descending then name ascending.
	TopPerformers(ctx context.Context, from, to time.Time, limit int) ([]domain.Performer, error)
}

// Tx is the set of writes that commit or roll back together.
type Tx interface {
	IssueStore
	HistoryStore
	CommentStore
	AppendEvent(ctx context.Context, evt domain.Event) error
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
}

type Store interface {
	Tx
	EventLog
	Directory
	Reader
	// RunInTx runs fn in a transaction. Any error returned by fn rolls back
	// every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
