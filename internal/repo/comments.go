package repo

import (
	"context"
	"fmt"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

func (r *Repo) AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	res, err := r.conn().ExecContext(ctx, `INSERT INTO issue_comments(issue_id,author_id,content,created_at) VALUES (?,?,?,?)`,
		c.IssueID, c.Author.ID, c.Content, formatTS(c.CreatedAt))
	if isForeignKey(err) {
		return c, fmt.Errorf("comment on %s by %s: %w", c.IssueID, c.Author.ID, store.ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("insert comment: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return c, err
	}
	return c, nil
}

func (r *Repo) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT c.id,c.issue_id,c.content,c.created_at,u.id,u.username,u.created_at
FROM issue_comments c JOIN users u ON u.id=c.author_id
WHERE c.issue_id=? ORDER BY c.created_at ASC, c.id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var createdAt, authorAt string
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Content, &createdAt, &c.Author.ID, &c.Author.Username, &authorAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, err
		}
		if c.Author.CreatedAt, err = parseTS(authorAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
