package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

const issueColumns = `i.id,i.project_id,i.sprint_id,i.title,COALESCE(i.description,''),i.type,i.status,i.priority,i.due_date,i.created_at,i.version,
a.id,a.username,a.created_at,rp.id,rp.username,rp.created_at`

const issueFrom = `FROM issues i
LEFT JOIN users a ON a.id=i.assignee_id
LEFT JOIN users rp ON rp.id=i.reporter_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (domain.Issue, error) {
	var i domain.Issue
	var createdAt string
	var sprint, due sql.NullString
	var assigneeID, assigneeName, assigneeAt sql.NullString
	var reporterID, reporterName, reporterAt sql.NullString
	err := row.Scan(&i.ID, &i.ProjectID, &sprint, &i.Title, &i.Description, &i.Type, &i.Status, &i.Priority, &due, &createdAt, &i.Version,
		&assigneeID, &assigneeName, &assigneeAt, &reporterID, &reporterName, &reporterAt)
	if err != nil {
		return i, notFound(err)
	}
	if sprint.Valid {
		i.SprintID = &sprint.String
	}
	if due.Valid {
		t, err := parseTS(due.String)
		if err != nil {
			return i, err
		}
		i.DueDate = &t
	}
	if i.CreatedAt, err = parseTS(createdAt); err != nil {
		return i, err
	}
	if i.Assignee, err = joinedUser(assigneeID, assigneeName, assigneeAt); err != nil {
		return i, err
	}
	if i.Reporter, err = joinedUser(reporterID, reporterName, reporterAt); err != nil {
		return i, err
	}
	return i, nil
}

func joinedUser(id, name, createdAt sql.NullString) (*domain.User, error) {
	if !id.Valid {
		return nil, nil
	}
	u := domain.User{ID: id.String, Username: name.String}
	if createdAt.Valid {
		t, err := parseTS(createdAt.String)
		if err != nil {
			return nil, err
		}
		u.CreatedAt = t
	}
	return &u, nil
}

func (r *Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	i, err := scanIssue(r.conn().QueryRowContext(ctx, `SELECT `+issueColumns+` `+issueFrom+` WHERE i.id=?`, id))
	if err != nil {
		return i, err
	}
	if err := r.attachLabels(ctx, []*domain.Issue{&i}); err != nil {
		return i, err
	}
	return i, nil
}

func (r *Repo) CreateIssue(ctx context.Context, i domain.Issue) (domain.Issue, error) {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO issues(id,project_id,sprint_id,title,description,type,status,priority,due_date,created_at,version,assignee_id,reporter_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.ProjectID, nullableStringPtr(i.SprintID), i.Title, nullable(i.Description), i.Type, i.Status, i.Priority,
		nullableTime(i.DueDate), formatTS(i.CreatedAt), i.Version, userRef(i.Assignee), userRef(i.Reporter))
	switch {
	case isUnique(err):
		return i, store.ErrDuplicate
	case isForeignKey(err):
		return i, fmt.Errorf("issue %s references a missing project or user: %w", i.ID, store.ErrNotFound)
	case err != nil:
		return i, err
	}
	if err := r.insertLabels(ctx, i.ID, i.Labels); err != nil {
		return i, err
	}
	return i, nil
}

// UpdateIssue is the conditional write every lifecycle mutation goes through.
func (r *Repo) UpdateIssue(ctx context.Context, i domain.Issue, expectedVersion int64) (domain.Issue, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE issues SET sprint_id=?,title=?,description=?,type=?,status=?,priority=?,due_date=?,assignee_id=?,reporter_id=?,version=version+1
WHERE id=? AND version=?`,
		nullableStringPtr(i.SprintID), i.Title, nullable(i.Description), i.Type, i.Status, i.Priority, nullableTime(i.DueDate),
		userRef(i.Assignee), userRef(i.Reporter), i.ID, expectedVersion)
	if isForeignKey(err) {
		return i, fmt.Errorf("issue %s references a missing user: %w", i.ID, store.ErrNotFound)
	}
	if err != nil {
		return i, fmt.Errorf("update issue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return i, err
	}
	if affected == 0 {
		var one int
		err := r.conn().QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id=?`, i.ID).Scan(&one)
		if err != nil {
			return i, notFound(err)
		}
		return i, store.ErrConflict
	}
	if _, err := r.conn().ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id=?`, i.ID); err != nil {
		return i, err
	}
	if err := r.insertLabels(ctx, i.ID, i.Labels); err != nil {
		return i, err
	}
	i.Version = expectedVersion + 1
	return i, nil
}

func userRef(u *domain.User) any {
	if u == nil {
		return nil
	}
	return nullable(u.ID)
}

func (r *Repo) insertLabels(ctx context.Context, issueID string, labels []string) error {
	for _, l := range labels {
		if _, err := r.conn().ExecContext(ctx, `INSERT OR IGNORE INTO issue_labels(issue_id,label) VALUES (?,?)`, issueID, l); err != nil {
			return fmt.Errorf("insert label: %w", err)
		}
	}
	return nil
}

// attachLabels must run after the issue rows are closed: the pool has a
// single connection.
func (r *Repo) attachLabels(ctx context.Context, issues []*domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Issue, len(issues))
	placeholders := make([]string, 0, len(issues))
	args := make([]any, 0, len(issues))
	for _, i := range issues {
		byID[i.ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, i.ID)
	}
	rows, err := r.conn().QueryContext(ctx, fmt.Sprintf(`SELECT issue_id,label FROM issue_labels WHERE issue_id IN (%s) ORDER BY issue_id,label`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return err
		}
		if i := byID[id]; i != nil {
			i.Labels = append(i.Labels, label)
		}
	}
	return rows.Err()
}
