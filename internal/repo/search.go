package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repo) SearchIssues(ctx context.Context, f store.SearchFilter) ([]domain.Issue, error) {
	clauses := []string{"i.project_id=?"}
	args := []any{f.ProjectID}
	if f.Status != nil {
		clauses = append(clauses, "i.status=?")
		args = append(args, string(*f.Status))
	}
	if f.Text != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(f.Text)) + "%"
		clauses = append(clauses, fmt.Sprintf(`(%[1]s(i.title) LIKE ? ESCAPE '\' OR %[1]s(COALESCE(i.description,'')) LIKE ? ESCAPE '\')`, foldFunc))
		args = append(args, pattern, pattern)
	}
	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY i.created_at ASC, i.id ASC`, issueColumns, issueFrom, strings.Join(clauses, " AND "))
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, i)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	ptrs := make([]*domain.Issue, len(res))
	for n := range res {
		ptrs[n] = &res[n]
	}
	if err := r.attachLabels(ctx, ptrs); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repo) TopPerformers(ctx context.Context, from, to time.Time, limit int) ([]domain.Performer, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT u.username, COUNT(*) AS closed
FROM issues i JOIN users u ON u.id=i.assignee_id
WHERE i.status=? AND i.created_at>=? AND i.created_at<=?
GROUP BY u.username
ORDER BY closed DESC, u.username ASC
LIMIT ?`, string(domain.StatusDone), formatTS(from), formatTS(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Performer
	for rows.Next() {
		var p domain.Performer
		if err := rows.Scan(&p.AssigneeName, &p.ClosedCount); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
