package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"protoline/internal/audit"
	"protoline/internal/config"
	"protoline/internal/domain"
	"protoline/internal/repo"
	"protoline/internal/routing"
	"protoline/internal/store"
)

// Engine enforces the protocol lifecycle: intake routing, status transitions
// and the append-only activity trail, all committed through the store adapter.
type Engine struct {
	Store  *store.Store
	Repo   repo.Repo
	Router routing.Router
	Config *config.Config
	Now    func() time.Time
}

func New(st *store.Store, cfg *config.Config) Engine {
	return Engine{
		Store:  st,
		Repo:   repo.Repo{Store: st},
		Router: routing.FromConfig(cfg),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError rejects a request before any store access.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CreateOptions are the intake fields for a new protocol.
type CreateOptions struct {
	ProcessNumber    string
	Court            string
	System           string
	Degree           string
	ProcessType      string
	Task             string
	PetitionType     string
	Observations     string
	Documents        []string
	Guias            []string
	IsFatal          bool
	NeedsProcuration bool
	ProcurationType  string
	NeedsGuia        bool
	IsDistribution   bool
	IsResubmission   bool
	PreviousAssignee *string
	CreatedBy        string
	CreatedByEmail   string
}

// CreateProtocol routes a new filing into a queue and persists it in Pending
// state with its first activity entry.
func (e Engine) CreateProtocol(ctx context.Context, opts CreateOptions) (domain.Protocol, error) {
	if opts.CreatedBy == "" {
		return domain.Protocol{}, validationf("created_by is required")
	}
	if opts.Court == "" {
		return domain.Protocol{}, validationf("court is required")
	}
	if opts.System == "" {
		return domain.Protocol{}, validationf("system is required")
	}
	if opts.Degree == "" {
		opts.Degree = domain.DegreeFirst
	}
	now := e.now().UTC().Format(time.RFC3339)
	performedBy := opts.CreatedByEmail
	if performedBy == "" {
		performedBy = opts.CreatedBy
	}
	assignee := e.Router.Route(routing.Draft{
		Court:        opts.Court,
		System:       opts.System,
		Degree:       opts.Degree,
		Observations: opts.Observations,
	}, opts.IsDistribution, opts.IsResubmission, opts.PreviousAssignee)

	p := domain.Protocol{
		ID:               uuid.New().String(),
		ProcessNumber:    opts.ProcessNumber,
		Court:            opts.Court,
		System:           opts.System,
		Degree:           opts.Degree,
		ProcessType:      opts.ProcessType,
		Task:             opts.Task,
		PetitionType:     opts.PetitionType,
		Observations:     opts.Observations,
		Documents:        opts.Documents,
		Guias:            opts.Guias,
		IsFatal:          opts.IsFatal,
		NeedsProcuration: opts.NeedsProcuration,
		ProcurationType:  opts.ProcurationType,
		NeedsGuia:        opts.NeedsGuia,
		IsDistribution:   opts.IsDistribution,
		Status:           domain.StatusPending,
		AssignedTo:       assignee,
		CreatedBy:        opts.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p.ActivityLog = []domain.LogEntry{
		audit.NewEntry(e.now(), audit.ActionCreated, "Protocolo criado", performedBy),
	}
	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		pos, err := e.Repo.NextQueuePositionTx(ctx, tx, assignee)
		if err != nil {
			return err
		}
		p.QueuePosition = pos
		return e.Repo.InsertProtocolTx(ctx, tx, p)
	})
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("insert protocol: %w", err)
	}
	return p, nil
}

// UpdateOptions carry a typed partial update plus an optional caller-supplied
// activity entry.
type UpdateOptions struct {
	Update   domain.ProtocolUpdate
	NewEntry *domain.LogEntry
	ActorID  string
}

// UpdateResult reports a finished update.
type UpdateResult struct {
	Changes      int64 `json:"changes"`
	LogRecovered bool  `json:"log_recovered,omitempty"`
}

// UpdateProtocol applies a partial update. Status only changes when the
// request asks for it, every transition appends exactly one activity entry,
// and the full field set plus the refreshed log lands in one write.
func (e Engine) UpdateProtocol(ctx context.Context, id string, opts UpdateOptions) (UpdateResult, error) {
	if opts.Update.Status != nil && !domain.ValidStatus(*opts.Update.Status) {
		return UpdateResult{}, validationf("unknown status %q", *opts.Update.Status)
	}
	var result UpdateResult
	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProtocolTx(ctx, tx, id)
		if err != nil {
			return err
		}
		// A corrupt stored log reads as empty so the record stays reachable;
		// the recovery is reported to the caller, not swallowed.
		entries := p.ActivityLog
		result.LogRecovered = p.LogRecovered

		now := e.now()
		if opts.NewEntry != nil {
			entry := *opts.NewEntry
			if entry.PerformedBy == "" {
				entry.PerformedBy = opts.ActorID
			}
			entries = append(entries, audit.Normalize(entry, now))
		}

		update := opts.Update
		resubmitted := false
		if update.Status != nil && *update.Status != p.Status {
			if err := ensureStatusTransition(p.Status, *update.Status); err != nil {
				return err
			}
			entries = append(entries, transitionEntry(now, p.Status, *update.Status, opts.ActorID))
			if p.Status == domain.StatusReturned && *update.Status == domain.StatusPending {
				resubmitted = true
				if update.ReturnReason == nil {
					empty := ""
					update.ReturnReason = &empty
				}
			}
		}

		logJSON, err := audit.Marshal(entries)
		if err != nil {
			return fmt.Errorf("marshal activity log: %w", err)
		}
		nowStr := now.UTC().Format(time.RFC3339)
		result.Changes, err = e.Repo.UpdateProtocolTx(ctx, tx, id, update, logJSON, nowStr)
		if err != nil {
			return err
		}
		if resubmitted {
			// Re-entering Pending goes back through routing; the resubmission
			// rule pins the protocol to the reviewer lane.
			assignee := e.Router.Route(draftAfter(p, update), p.IsDistribution, true, p.AssignedTo)
			pos, err := e.Repo.NextQueuePositionTx(ctx, tx, assignee)
			if err != nil {
				return err
			}
			return e.Repo.UpdateAssignmentTx(ctx, tx, id, assignee, pos, logJSON, nowStr)
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

// ensureStatusTransition enforces the lifecycle edges: Aguardando may move to
// any final status, Devolvido may re-enter Aguardando, Peticionado and
// Cancelado are terminal.
func ensureStatusTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusPending:
		if newStatus == domain.StatusFiled || newStatus == domain.StatusCancelled || newStatus == domain.StatusReturned {
			return nil
		}
	case domain.StatusReturned:
		if newStatus == domain.StatusPending {
			return nil
		}
	}
	return validationf("invalid status transition %s -> %s", oldStatus, newStatus)
}

func transitionEntry(now time.Time, oldStatus, newStatus, actorID string) domain.LogEntry {
	switch {
	case newStatus == domain.StatusFiled:
		return audit.NewEntry(now, audit.ActionStatusChange, "Protocolo peticionado com sucesso", actorID)
	case oldStatus == domain.StatusReturned && newStatus == domain.StatusPending:
		return audit.NewEntry(now, audit.ActionResubmitted, "Protocolo reenviado para análise", actorID)
	default:
		return audit.NewEntry(now, audit.ActionStatusChange, "Status alterado para "+newStatus, actorID)
	}
}

// draftAfter projects the routing-relevant fields as they stand after the
// partial update.
func draftAfter(p domain.Protocol, u domain.ProtocolUpdate) routing.Draft {
	d := routing.Draft{
		Court:        p.Court,
		System:       p.System,
		Degree:       p.Degree,
		Observations: p.Observations,
	}
	if u.Court != nil {
		d.Court = *u.Court
	}
	if u.System != nil {
		d.System = *u.System
	}
	if u.Degree != nil {
		d.Degree = *u.Degree
	}
	if u.Observations != nil {
		d.Observations = *u.Observations
	}
	return d
}

// ResubmitProtocol is the hand-off for a corrected Devolvido protocol: it
// re-enters Aguardando through the resubmission routing rule.
func (e Engine) ResubmitProtocol(ctx context.Context, id, actorID string) (UpdateResult, error) {
	status := domain.StatusPending
	return e.UpdateProtocol(ctx, id, UpdateOptions{
		Update:  domain.ProtocolUpdate{Status: &status},
		ActorID: actorID,
	})
}

// ReassignProtocol moves a pending protocol to another queue. This is the only
// path that changes assigned_to outside of routing.
func (e Engine) ReassignProtocol(ctx context.Context, id string, assignee *string, actorID string) error {
	return e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProtocolTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusPending {
			return validationf("only pending protocols can be reassigned (status %s)", p.Status)
		}
		lane := "robô"
		if assignee != nil {
			lane = *assignee
		}
		entries := append(p.ActivityLog, audit.NewEntry(e.now(), audit.ActionReassigned, "Protocolo movido para a fila "+lane, actorID))
		logJSON, err := audit.Marshal(entries)
		if err != nil {
			return fmt.Errorf("marshal activity log: %w", err)
		}
		pos, err := e.Repo.NextQueuePositionTx(ctx, tx, assignee)
		if err != nil {
			return err
		}
		return e.Repo.UpdateAssignmentTx(ctx, tx, id, assignee, pos, logJSON, e.now().UTC().Format(time.RFC3339))
	})
}

// DeleteProtocol removes a protocol row outright.
func (e Engine) DeleteProtocol(ctx context.Context, id string) (int64, error) {
	return e.Repo.DeleteProtocol(ctx, id)
}

func (e Engine) GetProtocol(ctx context.Context, id string) (domain.Protocol, error) {
	return e.Repo.GetProtocol(ctx, id)
}

func (e Engine) ListProtocols(ctx context.Context) ([]domain.Protocol, error) {
	return e.Repo.ListProtocols(ctx)
}

func (e Engine) ListQueue(ctx context.Context, assignee *string) ([]domain.Protocol, error) {
	return e.Repo.ListQueue(ctx, assignee)
}

func (e Engine) QueueCounts(ctx context.Context) ([]repo.QueueCount, error) {
	return e.Repo.QueueCounts(ctx)
}

// PreviewFinalized is the read-only look at what a purge would remove.
func (e Engine) PreviewFinalized(ctx context.Context) (repo.FinalizedPreview, error) {
	return e.Repo.PreviewFinalized(ctx)
}

// PurgeFinalized deletes all finalized protocols and reports the counts.
func (e Engine) PurgeFinalized(ctx context.Context) (repo.PurgeResult, error) {
	var result repo.PurgeResult
	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = e.Repo.PurgeFinalizedTx(ctx, tx)
		return txErr
	})
	return result, err
}

// CreateEmployee registers an employee protocols can reference.
func (e Engine) CreateEmployee(ctx context.Context, name, email, team string) (domain.Employee, error) {
	if name == "" {
		return domain.Employee{}, validationf("name is required")
	}
	if email == "" {
		return domain.Employee{}, validationf("email is required")
	}
	emp := domain.Employee{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Team:      team,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEmployee(ctx, emp); err != nil {
		return domain.Employee{}, err
	}
	return emp, nil
}

func (e Engine) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	return e.Repo.ListEmployees(ctx)
}

func (e Engine) DeleteEmployee(ctx context.Context, id string) error {
	return e.Repo.DeleteEmployee(ctx, id)
}

// CreateTeam registers a team name.
func (e Engine) CreateTeam(ctx context.Context, name string) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, validationf("name is required")
	}
	t := domain.Team{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTeam(ctx, t); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

func (e Engine) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return e.Repo.ListTeams(ctx)
}

func (e Engine) DeleteTeam(ctx context.Context, id string) error {
	return e.Repo.DeleteTeam(ctx, id)
}
