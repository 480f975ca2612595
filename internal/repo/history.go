package repo

import (
	"context"
	"database/sql"
	"fmt"

	"issueflow/internal/domain"
)

// AppendHistory inserts one audit row. The table has no update or delete
// path; triggers reject both.
func (r *Repo) AppendHistory(ctx context.Context, h domain.HistoryEntry) (domain.HistoryEntry, error) {
	if h.Change == nil {
		return h, fmt.Errorf("history entry for %s has no change", h.IssueID)
	}
	oldValue, newValue := h.Change.Values()
	res, err := r.conn().ExecContext(ctx, `INSERT INTO issue_history(issue_id,changed_at,changed_by,field,old_value,new_value) VALUES (?,?,?,?,?,?)`,
		h.IssueID, formatTS(h.ChangedAt), nullableStringPtr(h.ChangedBy), string(h.Change.Field()), oldValue, newValue)
	if err != nil {
		return h, fmt.Errorf("insert history: %w", err)
	}
	if h.ID, err = res.LastInsertId(); err != nil {
		return h, err
	}
	return h, nil
}

func (r *Repo) ListHistory(ctx context.Context, issueID string) ([]domain.HistoryEntry, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id,issue_id,changed_at,changed_by,field,old_value,new_value FROM issue_history
WHERE issue_id=? ORDER BY changed_at DESC, id DESC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var (
			h          domain.HistoryEntry
			changedAt  string
			changedBy  sql.NullString
			field      string
			oldV, newV string
		)
		if err := rows.Scan(&h.ID, &h.IssueID, &changedAt, &changedBy, &field, &oldV, &newV); err != nil {
			return nil, err
		}
		if h.ChangedAt, err = parseTS(changedAt); err != nil {
			return nil, err
		}
		if changedBy.Valid {
			h.ChangedBy = &changedBy.String
		}
		if h.Change, err = domain.ChangeFromValues(domain.ChangeField(field), oldV, newV); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
