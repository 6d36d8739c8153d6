package repo

import (
	"context"
	"database/sql"

	"protoline/internal/domain"
)

func (r Repo) InsertEmployee(ctx context.Context, e domain.Employee) error {
	_, err := r.Store.Exec(ctx, `INSERT INTO employees(id,name,email,team,created_at) VALUES (?,?,?,?,?)`,
		e.ID, e.Name, e.Email, nullable(e.Team), e.CreatedAt)
	return err
}

func (r Repo) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	var e domain.Employee
	var team sql.NullString
	err := r.Store.QueryRow(ctx, `SELECT id,name,email,team,created_at FROM employees WHERE id=?`, id).
		Scan(&e.ID, &e.Name, &e.Email, &team, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.Team = team.String
	return e, err
}

func (r Repo) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := r.Store.Query(ctx, `SELECT id,name,email,team,created_at FROM employees ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		var e domain.Employee
		var team sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &team, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Team = team.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteEmployee(ctx context.Context, id string) error {
	res, err := r.Store.Exec(ctx, `DELETE FROM employees WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
