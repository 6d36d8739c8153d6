package repo

import (
	"context"
	"database/sql"

	"protoline/internal/domain"
)

// QueueCount is one lane's pending backlog. A nil Assignee is the robot lane.
type QueueCount struct {
	Assignee *string `json:"assignee"`
	Pending  int     `json:"pending"`
}

// NextQueuePositionTx ranks a protocol at the tail of its target queue.
func (r Repo) NextQueuePositionTx(ctx context.Context, tx *sql.Tx, assignee *string) (int, error) {
	var pos int
	var err error
	if assignee == nil {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position),0)+1 FROM protocols WHERE status=? AND assigned_to IS NULL`, domain.StatusPending).Scan(&pos)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position),0)+1 FROM protocols WHERE status=? AND assigned_to=?`, domain.StatusPending, *assignee).Scan(&pos)
	}
	return pos, err
}

// ListQueue returns a lane's pending protocols in queue order. Queue
// membership is derived, not stored: matching assignee plus pending status.
func (r Repo) ListQueue(ctx context.Context, assignee *string) ([]domain.Protocol, error) {
	query := `SELECT ` + protocolColumns + ` FROM protocols WHERE status=? AND assigned_to IS NULL ORDER BY queue_position ASC, created_at ASC`
	args := []any{domain.StatusPending}
	if assignee != nil {
		query = `SELECT ` + protocolColumns + ` FROM protocols WHERE status=? AND assigned_to=? ORDER BY queue_position ASC, created_at ASC`
		args = append(args, *assignee)
	}
	rows, err := r.Store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// QueueCounts summarizes the pending backlog per lane.
func (r Repo) QueueCounts(ctx context.Context) ([]QueueCount, error) {
	rows, err := r.Store.Query(ctx, `SELECT assigned_to, COUNT(*) FROM protocols WHERE status=? GROUP BY assigned_to ORDER BY assigned_to`, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []QueueCount
	for rows.Next() {
		var assignee sql.NullString
		var qc QueueCount
		if err := rows.Scan(&assignee, &qc.Pending); err != nil {
			return nil, err
		}
		if assignee.Valid {
			qc.Assignee = &assignee.String
		}
		res = append(res, qc)
	}
	return res, rows.Err()
}
