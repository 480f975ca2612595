package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

const (
	DefaultWindowDays = 30
	DefaultTopLimit   = 5
)

var (
	ErrInvalidWindow = errors.New("invalid report window")
	ErrInvalidFilter = errors.New("invalid search filter")
)

// Window bounds are inclusive. A zero From or To is filled from the
// reader's defaults.
type Window struct {
	From time.Time
	To   time.Time
}

// Reader serves search and aggregate queries. It never writes.
type Reader struct {
	Store      store.Reader
	Now        func() time.Time
	WindowDays int
	TopLimit   int
}

func New(s store.Reader) Reader {
	return Reader{Store: s, Now: time.Now, WindowDays: DefaultWindowDays, TopLimit: DefaultTopLimit}
}

func (r Reader) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Search lists a project's issues, optionally filtered by status and by a
// case-insensitive substring of title or description.
func (r Reader) Search(ctx context.Context, projectID string, status *domain.Status, text string) ([]domain.Issue, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, *status)
	}
	issues, err := r.Store.SearchIssues(ctx, store.SearchFilter{ProjectID: projectID, Status: status, Text: text})
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	return issues, nil
}

// Resolve fills the zero bounds of w and validates the result.
func (r Reader) Resolve(w Window) (Window, error) {
	days := r.WindowDays
	if days <= 0 {
		days = DefaultWindowDays
	}
	if w.To.IsZero() {
		w.To = r.now()
	}
	if w.From.IsZero() {
		w.From = w.To.AddDate(0, 0, -days)
	}
	if w.From.After(w.To) {
		return w, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow, w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return w, nil
}

// TopPerformers ranks assignees by DONE issues created inside the window.
// Equal counts are ordered by assignee name.
func (r Reader) TopPerformers(ctx context.Context, w Window, limit int) ([]domain.Performer, error) {
	w, err := r.Resolve(w)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.TopLimit
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	res, err := r.Store.TopPerformers(ctx, w.From, w.To, limit)
	if err != nil {
		return nil, fmt.Errorf("top performers: %w", err)
	}
	return res, nil
}
