package repo

import (
	"context"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

func (r *Repo) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO projects(id,name,created_at) VALUES (?,?,?)`, p.ID, p.Name, formatTS(p.CreatedAt))
	if isUnique(err) {
		return p, store.ErrDuplicate
	}
	return p, err
}

func (r *Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var createdAt string
	err := r.conn().QueryRowContext(ctx, `SELECT id,name,created_at FROM projects WHERE id=?`, id).Scan(&p.ID, &p.Name, &createdAt)
	if err != nil {
		return p, notFound(err)
	}
	p.CreatedAt, err = parseTS(createdAt)
	return p, err
}

func (r *Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id,name,created_at FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r *Repo) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO users(id,username,created_at) VALUES (?,?,?)`, u.ID, u.Username, formatTS(u.CreatedAt))
	if isUnique(err) {
		return u, store.ErrDuplicate
	}
	return u, err
}

func (r *Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var createdAt string
	err := r.conn().QueryRowContext(ctx, `SELECT id,username,created_at FROM users WHERE id=?`, id).Scan(&u.ID, &u.Username, &createdAt)
	if err != nil {
		return u, notFound(err)
	}
	u.CreatedAt, err = parseTS(createdAt)
	return u, err
}

func (r *Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id,username,created_at FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
