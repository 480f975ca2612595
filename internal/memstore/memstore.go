// Package memstore is an in-process implementation of the store contracts.
// Transactions work on a cloned state that replaces the live one only when
// the transaction function succeeds.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

type issueRecord struct {
	issue      domain.Issue
	assigneeID string
	reporterID string
}

type memoryState struct {
	projects map[string]domain.Project
	users    map[string]domain.User
	issues   map[string]issueRecord
	history  []domain.HistoryEntry
	comments []domain.Comment
	events   []domain.Event
	seq      int64
}

func newMemoryState() memoryState {
	return memoryState{
		projects: map[string]domain.Project{},
		users:    map[string]domain.User{},
		issues:   map[string]issueRecord{},
	}
}

// clone copies the containers. Stored values are never mutated in place,
// so sharing them between states is safe.
func (s memoryState) clone() memoryState {
	out := memoryState{
		projects: make(map[string]domain.Project, len(s.projects)),
		users:    make(map[string]domain.User, len(s.users)),
		issues:   make(map[string]issueRecord, len(s.issues)),
		history:  append([]domain.HistoryEntry(nil), s.history...),
		comments: append([]domain.Comment(nil), s.comments...),
		events:   append([]domain.Event(nil), s.events...),
		seq:      s.seq,
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.issues {
		out.issues[k] = v
	}
	return out
}

type Store struct {
	mu    sync.RWMutex
	state memoryState
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newMemoryState()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) view() *transaction {
	return &transaction{state: s.state}
}

func (s *Store) write(ctx context.Context, fn func(tx *transaction) error) error {
	return s.RunInTx(ctx, func(_ context.Context, tx store.Tx) error {
		return fn(tx.(*transaction))
	})
}

func (s *Store) Close() error { return nil }

func (s *Store) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetIssue(ctx, id)
}

func (s *Store) CreateIssue(ctx context.Context, i domain.Issue) (out domain.Issue, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.CreateIssue(ctx, i)
		return err
	})
	return out, err
}

func (s *Store) UpdateIssue(ctx context.Context, i domain.Issue, expectedVersion int64) (out domain.Issue, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.UpdateIssue(ctx, i, expectedVersion)
		return err
	})
	return out, err
}

func (s *Store) AppendHistory(ctx context.Context, h domain.HistoryEntry) (out domain.HistoryEntry, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.AppendHistory(ctx, h)
		return err
	})
	return out, err
}

func (s *Store) ListHistory(ctx context.Context, issueID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListHistory(ctx, issueID)
}

func (s *Store) AddComment(ctx context.Context, c domain.Comment) (out domain.Comment, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.AddComment(ctx, c)
		return err
	})
	return out, err
}

func (s *Store) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListComments(ctx, issueID)
}

func (s *Store) AppendEvent(ctx context.Context, e domain.Event) error {
	return s.write(ctx, func(tx *transaction) error {
		return tx.AppendEvent(ctx, e)
	})
}

func (s *Store) EventsAfter(_ context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var res []domain.Event
	for _, e := range s.state.events {
		if e.ID <= cursor || (projectID != "" && e.ProjectID != projectID) {
			continue
		}
		res = append(res, e)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *Store) LatestEventID(_ context.Context, projectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var id int64
	for _, e := range s.state.events {
		if projectID == "" || e.ProjectID == projectID {
			id = e.ID
		}
	}
	return id, nil
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (out domain.Project, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.CreateProject(ctx, p)
		return err
	})
	return out, err
}

func (s *Store) GetProject(_ context.Context, id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.projects[id]
	if !ok {
		return domain.Project{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProjects(context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Project, 0, len(s.state.projects))
	for _, p := range s.state.projects {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) (out domain.User, err error) {
	err = s.write(ctx, func(tx *transaction) error {
		out, err = tx.CreateUser(ctx, u)
		return err
	})
	return out, err
}

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.User, 0, len(s.state.users))
	for _, u := range s.state.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
	return res, nil
}

func (s *Store) SearchIssues(_ context.Context, f store.SearchFilter) ([]domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(f.Text)
	var res []domain.Issue
	for _, rec := range s.state.issues {
		i := rec.issue
		if i.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != nil && i.Status != *f.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(i.Title), needle) && !strings.Contains(strings.ToLower(i.Description), needle) {
			continue
		}
		res = append(res, s.state.resolve(rec))
	}
	sort.Slice(res, func(a, b int) bool {
		if !res[a].CreatedAt.Equal(res[b].CreatedAt) {
			return res[a].CreatedAt.Before(res[b].CreatedAt)
		}
		return res[a].ID < res[b].ID
	})
	return res, nil
}

func (s *Store) TopPerformers(_ context.Context, from, to time.Time, limit int) ([]domain.Performer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, rec := range s.state.issues {
		i := rec.issue
		if i.Status != domain.StatusDone || rec.assigneeID == "" {
			continue
		}
		if i.CreatedAt.Before(from) || i.CreatedAt.After(to) {
			continue
		}
		u, ok := s.state.users[rec.assigneeID]
		if !ok {
			continue
		}
		counts[u.Username]++
	}
	res := make([]domain.Performer, 0, len(counts))
	for name, n := range counts {
		res = append(res, domain.Performer{AssigneeName: name, ClosedCount: n})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ClosedCount != res[j].ClosedCount {
			return res[i].ClosedCount > res[j].ClosedCount
		}
		return res[i].AssigneeName < res[j].AssigneeName
	})
	if limit >= 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
