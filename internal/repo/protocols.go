package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"protoline/internal/audit"
	"protoline/internal/domain"
	"protoline/internal/store"
)

// Repo is the record store. Every statement goes through the store adapter,
// which owns the single connection and the retry policy.
type Repo struct {
	Store *store.Store
}

var ErrNotFound = errors.New("not found")

const protocolColumns = `id,process_number,court,system,degree,process_type,task,petition_type,observations,documents,guias,is_fatal,needs_procuration,procuration_type,needs_guia,is_distribution,status,assigned_to,return_reason,queue_position,activity_log,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProtocol(row rowScanner) (domain.Protocol, error) {
	var p domain.Protocol
	var processNumber, processType, task, petitionType, observations sql.NullString
	var documents, guias, procurationType, assignedTo, returnReason sql.NullString
	var isFatal, needsProcuration, needsGuia, isDistribution int
	err := row.Scan(&p.ID, &processNumber, &p.Court, &p.System, &p.Degree, &processType, &task,
		&petitionType, &observations, &documents, &guias, &isFatal, &needsProcuration,
		&procurationType, &needsGuia, &isDistribution, &p.Status, &assignedTo, &returnReason,
		&p.QueuePosition, &p.ActivityLogRaw, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ProcessNumber = processNumber.String
	p.ProcessType = processType.String
	p.Task = task.String
	p.PetitionType = petitionType.String
	p.Observations = observations.String
	p.ProcurationType = procurationType.String
	p.ReturnReason = returnReason.String
	if assignedTo.Valid {
		p.AssignedTo = &assignedTo.String
	}
	p.IsFatal = isFatal != 0
	p.NeedsProcuration = needsProcuration != 0
	p.NeedsGuia = needsGuia != 0
	p.IsDistribution = isDistribution != 0
	p.Documents = parseStringList(documents.String)
	p.Guias = parseStringList(guias.String)
	p.ActivityLog, p.LogRecovered = audit.Parse(p.ActivityLogRaw)
	return p, nil
}

// parseStringList decodes a stored JSON array; anything unreadable counts as
// an empty list so the row stays usable.
func parseStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func marshalStringList(in []string) string {
	if in == nil {
		in = []string{}
	}
	data, _ := json.Marshal(in)
	return string(data)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// InsertProtocolTx writes a fully-built protocol row. Lists are serialized to
// JSON text, flags to 0/1.
func (r Repo) InsertProtocolTx(ctx context.Context, tx *sql.Tx, p domain.Protocol) error {
	logJSON, err := audit.Marshal(p.ActivityLog)
	if err != nil {
		return fmt.Errorf("marshal activity log: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO protocols(`+protocolColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, nullable(p.ProcessNumber), p.Court, p.System, p.Degree, nullable(p.ProcessType),
		nullable(p.Task), nullable(p.PetitionType), nullable(p.Observations),
		marshalStringList(p.Documents), marshalStringList(p.Guias),
		boolToInt(p.IsFatal), boolToInt(p.NeedsProcuration), nullable(p.ProcurationType),
		boolToInt(p.NeedsGuia), boolToInt(p.IsDistribution), p.Status,
		nullableStringPtr(p.AssignedTo), nullable(p.ReturnReason), p.QueuePosition,
		logJSON, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProtocol(ctx context.Context, id string) (domain.Protocol, error) {
	return scanProtocol(r.Store.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE id=?`, id))
}

func (r Repo) GetProtocolTx(ctx context.Context, tx *sql.Tx, id string) (domain.Protocol, error) {
	return scanProtocol(tx.QueryRowContext(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE id=?`, id))
}

// ListProtocols returns every protocol joined with its creator's identity,
// newest first.
func (r Repo) ListProtocols(ctx context.Context) ([]domain.Protocol, error) {
	query := `SELECT p.` + strings.ReplaceAll(protocolColumns, ",", ",p.") + `,
		COALESCE(e.name,''), COALESCE(e.email,'')
		FROM protocols p LEFT JOIN employees e ON e.id = p.created_by
		ORDER BY p.created_at DESC, p.id DESC`
	rows, err := r.Store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Protocol
	for rows.Next() {
		p, err := scanProtocolWithCreator(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanProtocolWithCreator(rows *sql.Rows) (domain.Protocol, error) {
	var p domain.Protocol
	var processNumber, processType, task, petitionType, observations sql.NullString
	var documents, guias, procurationType, assignedTo, returnReason sql.NullString
	var isFatal, needsProcuration, needsGuia, isDistribution int
	err := rows.Scan(&p.ID, &processNumber, &p.Court, &p.System, &p.Degree, &processType, &task,
		&petitionType, &observations, &documents, &guias, &isFatal, &needsProcuration,
		&procurationType, &needsGuia, &isDistribution, &p.Status, &assignedTo, &returnReason,
		&p.QueuePosition, &p.ActivityLogRaw, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
		&p.CreatorName, &p.CreatorEmail)
	if err != nil {
		return p, err
	}
	p.ProcessNumber = processNumber.String
	p.ProcessType = processType.String
	p.Task = task.String
	p.PetitionType = petitionType.String
	p.Observations = observations.String
	p.ProcurationType = procurationType.String
	p.ReturnReason = returnReason.String
	if assignedTo.Valid {
		p.AssignedTo = &assignedTo.String
	}
	p.IsFatal = isFatal != 0
	p.NeedsProcuration = needsProcuration != 0
	p.NeedsGuia = needsGuia != 0
	p.IsDistribution = isDistribution != 0
	p.Documents = parseStringList(documents.String)
	p.Guias = parseStringList(guias.String)
	p.ActivityLog, p.LogRecovered = audit.Parse(p.ActivityLogRaw)
	return p, nil
}

// UpdateProtocolTx applies a typed partial update plus the refreshed activity
// log and timestamp in one statement. Zero rows affected means the row
// vanished between the caller's read and this write, which surfaces as
// ErrNotFound.
func (r Repo) UpdateProtocolTx(ctx context.Context, tx *sql.Tx, id string, u domain.ProtocolUpdate, logJSON, updatedAt string) (int64, error) {
	fields := []string{"activity_log=?", "updated_at=?"}
	args := []any{logJSON, updatedAt}
	add := func(column string, value any) {
		fields = append(fields, column+"=?")
		args = append(args, value)
	}
	if u.ProcessNumber != nil {
		add("process_number", nullable(*u.ProcessNumber))
	}
	if u.Court != nil {
		add("court", *u.Court)
	}
	if u.System != nil {
		add("system", *u.System)
	}
	if u.Degree != nil {
		add("degree", *u.Degree)
	}
	if u.ProcessType != nil {
		add("process_type", nullable(*u.ProcessType))
	}
	if u.Task != nil {
		add("task", nullable(*u.Task))
	}
	if u.PetitionType != nil {
		add("petition_type", nullable(*u.PetitionType))
	}
	if u.Observations != nil {
		add("observations", nullable(*u.Observations))
	}
	if u.Documents != nil {
		add("documents", marshalStringList(*u.Documents))
	}
	if u.Guias != nil {
		add("guias", marshalStringList(*u.Guias))
	}
	if u.IsFatal != nil {
		add("is_fatal", boolToInt(*u.IsFatal))
	}
	if u.NeedsProcuration != nil {
		add("needs_procuration", boolToInt(*u.NeedsProcuration))
	}
	if u.ProcurationType != nil {
		add("procuration_type", nullable(*u.ProcurationType))
	}
	if u.NeedsGuia != nil {
		add("needs_guia", boolToInt(*u.NeedsGuia))
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.ReturnReason != nil {
		add("return_reason", nullable(*u.ReturnReason))
	}
	if u.QueuePosition != nil {
		add("queue_position", *u.QueuePosition)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE protocols SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return 0, ErrNotFound
	}
	return affected, nil
}

// UpdateAssignmentTx moves a protocol to another queue. Only this explicit
// hand-off may change assigned_to after routing.
func (r Repo) UpdateAssignmentTx(ctx context.Context, tx *sql.Tx, id string, assignee *string, queuePosition int, logJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE protocols SET assigned_to=?, queue_position=?, activity_log=?, updated_at=? WHERE id=?`,
		nullableStringPtr(assignee), queuePosition, logJSON, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProtocol removes a row and reports how many rows went away.
func (r Repo) DeleteProtocol(ctx context.Context, id string) (int64, error) {
	res, err := r.Store.Exec(ctx, `DELETE FROM protocols WHERE id=?`, id)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
