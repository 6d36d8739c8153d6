package repo

import (
	"context"
	"database/sql"

	"protoline/internal/domain"
)

// FinalizedPreview summarizes the rows a purge would remove, so an operator
// can look before deleting.
type FinalizedPreview struct {
	Total           int    `json:"total"`
	Peticionados    int    `json:"peticionados"`
	Cancelados      int    `json:"cancelados"`
	Devolvidos      int    `json:"devolvidos"`
	OldestCreatedAt string `json:"oldest_created_at,omitempty"`
	NewestCreatedAt string `json:"newest_created_at,omitempty"`
}

// PurgeResult reports how many rows a purge removed, by status.
type PurgeResult struct {
	Total        int `json:"total"`
	Peticionados int `json:"peticionados"`
	Cancelados   int `json:"cancelados"`
	Devolvidos   int `json:"devolvidos"`
}

func (r Repo) countFinalized(ctx context.Context, tx *sql.Tx) (peticionados, cancelados, devolvidos int, err error) {
	query := `SELECT status, COUNT(*) FROM protocols WHERE status IN (?,?,?) GROUP BY status`
	args := []any{domain.StatusFiled, domain.StatusCancelled, domain.StatusReturned}
	var rows *sql.Rows
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = r.Store.Query(ctx, query, args...)
	}
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, 0, err
		}
		switch status {
		case domain.StatusFiled:
			peticionados = count
		case domain.StatusCancelled:
			cancelados = count
		case domain.StatusReturned:
			devolvidos = count
		}
	}
	return peticionados, cancelados, devolvidos, rows.Err()
}

// PreviewFinalized is the read-only half of bulk cleanup.
func (r Repo) PreviewFinalized(ctx context.Context) (FinalizedPreview, error) {
	var preview FinalizedPreview
	var err error
	preview.Peticionados, preview.Cancelados, preview.Devolvidos, err = r.countFinalized(ctx, nil)
	if err != nil {
		return preview, err
	}
	preview.Total = preview.Peticionados + preview.Cancelados + preview.Devolvidos
	if preview.Total == 0 {
		return preview, nil
	}
	var oldest, newest sql.NullString
	err = r.Store.QueryRow(ctx, `SELECT MIN(created_at), MAX(created_at) FROM protocols WHERE status IN (?,?,?)`,
		domain.StatusFiled, domain.StatusCancelled, domain.StatusReturned).Scan(&oldest, &newest)
	if err != nil {
		return preview, err
	}
	preview.OldestCreatedAt = oldest.String
	preview.NewestCreatedAt = newest.String
	return preview, nil
}

// PurgeFinalizedTx deletes every finalized row in a single statement. The
// per-status counts are taken inside the same transaction, so they are exact.
// Not reversible; no archival copy is made.
func (r Repo) PurgeFinalizedTx(ctx context.Context, tx *sql.Tx) (PurgeResult, error) {
	var result PurgeResult
	var err error
	result.Peticionados, result.Cancelados, result.Devolvidos, err = r.countFinalized(ctx, tx)
	if err != nil {
		return result, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM protocols WHERE status IN (?,?,?)`,
		domain.StatusFiled, domain.StatusCancelled, domain.StatusReturned)
	if err != nil {
		return result, err
	}
	n, _ := res.RowsAffected()
	result.Total = int(n)
	return result, nil
}
