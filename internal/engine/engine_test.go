package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"protoline/internal/config"
	"protoline/internal/db"
	"protoline/internal/domain"
	"protoline/internal/engine"
	"protoline/internal/migrate"
	"protoline/internal/repo"
	"protoline/internal/store"
)

const courtTJMG = "Tribunal de Justiça de Minas Gerais"

type testEnv struct {
	Engine engine.Engine
	Store  *store.Store
	Ctx    context.Context
	Atende string // seeded employee id
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(conn)
	eng := engine.New(st, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	emp, err := eng.CreateEmployee(ctx, "Ana Souza", "ana@escritorio.example", "Cível")
	if err != nil {
		t.Fatalf("seed employee: %v", err)
	}
	return testEnv{Engine: eng, Store: st, Ctx: ctx, Atende: emp.ID}
}

func (env testEnv) create(t *testing.T, opts engine.CreateOptions) domain.Protocol {
	t.Helper()
	if opts.CreatedBy == "" {
		opts.CreatedBy = env.Atende
	}
	if opts.Court == "" {
		opts.Court = courtTJMG
	}
	if opts.System == "" {
		opts.System = "PJe"
	}
	p, err := env.Engine.CreateProtocol(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create protocol: %v", err)
	}
	return p
}

func TestCreateProtocolRoutesAndLogs(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	if p.Status != domain.StatusPending {
		t.Fatalf("status = %q, want %q", p.Status, domain.StatusPending)
	}
	if p.AssignedTo != nil {
		t.Fatalf("PJe at TJMG should land in the robot lane, got %q", *p.AssignedTo)
	}
	if p.QueuePosition != 1 {
		t.Fatalf("queue position = %d, want 1", p.QueuePosition)
	}
	if len(p.ActivityLog) != 1 {
		t.Fatalf("activity log has %d entries, want 1", len(p.ActivityLog))
	}
	entry := p.ActivityLog[0]
	if entry.Description != "Protocolo criado" {
		t.Fatalf("entry description = %q", entry.Description)
	}
	if entry.ID == "" || entry.Timestamp == "" {
		t.Fatalf("entry missing id or timestamp: %+v", entry)
	}

	// round-trip through the store
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get protocol: %v", err)
	}
	if got.Status != domain.StatusPending || len(got.ActivityLog) != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateProtocolObservationsGoToReviewer(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{Observations: "conferir guia antes do protocolo"})
	if p.AssignedTo == nil || *p.AssignedTo != "Carlos" {
		t.Fatalf("expected Carlos, got %v", p.AssignedTo)
	}
}

func TestCreateProtocolFieldsSurviveRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{
		ProcessNumber: "5001234-56.2025.8.13.0024",
		ProcessType:   domain.ProcessCivil,
		Degree:        domain.DegreeFirst,
		Documents:     []string{"peticao.pdf", "procuracao.pdf"},
		Guias:         []string{"guia-custas-01"},
		IsFatal:       true,
		NeedsGuia:     true,
	})
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessNumber != p.ProcessNumber || !got.IsFatal || !got.NeedsGuia {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if len(got.Documents) != 2 || got.Documents[1] != "procuracao.pdf" {
		t.Fatalf("documents lost: %v", got.Documents)
	}
	if len(got.Guias) != 1 || got.Guias[0] != "guia-custas-01" {
		t.Fatalf("guias lost: %v", got.Guias)
	}
}

func TestCreateProtocolValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProtocol(env.Ctx, engine.CreateOptions{Court: courtTJMG, System: "PJe"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFilingAppendsExactlyOneEntry(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	before := len(p.ActivityLog)

	status := domain.StatusFiled
	res, err := env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update:  domain.ProtocolUpdate{Status: &status},
		ActorID: "robo-peticionador",
	})
	if err != nil {
		t.Fatalf("file protocol: %v", err)
	}
	if res.Changes != 1 {
		t.Fatalf("changes = %d, want 1", res.Changes)
	}
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFiled {
		t.Fatalf("status = %q", got.Status)
	}
	if len(got.ActivityLog) != before+1 {
		t.Fatalf("log grew by %d entries, want 1", len(got.ActivityLog)-before)
	}
	last := got.ActivityLog[len(got.ActivityLog)-1]
	if last.Description != "Protocolo peticionado com sucesso" {
		t.Fatalf("entry description = %q", last.Description)
	}
	if last.PerformedBy != "robo-peticionador" {
		t.Fatalf("performed_by = %q", last.PerformedBy)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)

	set := func(t *testing.T, id, status string) error {
		t.Helper()
		_, err := env.Engine.UpdateProtocol(env.Ctx, id, engine.UpdateOptions{
			Update:  domain.ProtocolUpdate{Status: &status},
			ActorID: "tester",
		})
		return err
	}

	// terminal statuses reject further movement
	p := env.create(t, engine.CreateOptions{})
	if err := set(t, p.ID, domain.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err := set(t, p.ID, domain.StatusPending)
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Cancelado -> Aguardando should fail, got %v", err)
	}

	// Devolvido may re-enter Aguardando
	p = env.create(t, engine.CreateOptions{})
	if err := set(t, p.ID, domain.StatusReturned); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := set(t, p.ID, domain.StatusPending); err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	// unknown status rejected before touching the store
	bogus := "Arquivado"
	_, err = env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update: domain.ProtocolUpdate{Status: &bogus},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("unknown status should fail validation, got %v", err)
	}
}

func TestSameStatusUpdateAppendsNothing(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	status := domain.StatusPending
	obs := "sem alteração de status"
	if _, err := env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update:  domain.ProtocolUpdate{Status: &status, Observations: &obs},
		ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ActivityLog) != 1 {
		t.Fatalf("log grew on a no-op status, entries = %d", len(got.ActivityLog))
	}
	if got.Observations != obs {
		t.Fatalf("observations = %q", got.Observations)
	}
}

func TestResubmissionReturnsToReviewer(t *testing.T) {
	env := newTestEnv(t)
	// robot-eligible intake
	p := env.create(t, engine.CreateOptions{})
	if p.AssignedTo != nil {
		t.Fatalf("precondition: expected robot lane")
	}

	status := domain.StatusReturned
	reason := "guia de custas ausente"
	if _, err := env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update:  domain.ProtocolUpdate{Status: &status, ReturnReason: &reason},
		ActorID: "Carlos",
	}); err != nil {
		t.Fatalf("return: %v", err)
	}

	if _, err := env.Engine.ResubmitProtocol(env.Ctx, p.ID, env.Atende); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %q", got.Status)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "Carlos" {
		t.Fatalf("resubmission should land with the reviewer, got %v", got.AssignedTo)
	}
	if got.ReturnReason != "" {
		t.Fatalf("return reason should be cleared, got %q", got.ReturnReason)
	}
	last := got.ActivityLog[len(got.ActivityLog)-1]
	if last.Description != "Protocolo reenviado para análise" {
		t.Fatalf("entry description = %q", last.Description)
	}
}

func TestReassignPendingOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	reviewer := "Carlos"
	if err := env.Engine.ReassignProtocol(env.Ctx, p.ID, &reviewer, env.Atende); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "Carlos" {
		t.Fatalf("assigned_to = %v", got.AssignedTo)
	}
	last := got.ActivityLog[len(got.ActivityLog)-1]
	if last.Description != "Protocolo movido para a fila Carlos" {
		t.Fatalf("entry description = %q", last.Description)
	}

	// not allowed after filing
	status := domain.StatusFiled
	if _, err := env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update: domain.ProtocolUpdate{Status: &status}, ActorID: "Carlos",
	}); err != nil {
		t.Fatal(err)
	}
	err = env.Engine.ReassignProtocol(env.Ctx, p.ID, nil, env.Atende)
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("reassigning a filed protocol should fail, got %v", err)
	}
}

func TestQueuePositionsPerLane(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, engine.CreateOptions{})
	b := env.create(t, engine.CreateOptions{})
	c := env.create(t, engine.CreateOptions{Degree: domain.DegreeSecond})
	if a.QueuePosition != 1 || b.QueuePosition != 2 {
		t.Fatalf("robot lane positions = %d, %d", a.QueuePosition, b.QueuePosition)
	}
	if c.QueuePosition != 1 {
		t.Fatalf("reviewer lane starts at 1, got %d", c.QueuePosition)
	}

	robots, err := env.Engine.ListQueue(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(robots) != 2 || robots[0].ID != a.ID || robots[1].ID != b.ID {
		t.Fatalf("robot queue order wrong: %+v", robots)
	}

	counts, err := env.Engine.QueueCounts(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	byLane := map[string]int{}
	for _, qc := range counts {
		lane := "robô"
		if qc.Assignee != nil {
			lane = *qc.Assignee
		}
		byLane[lane] = qc.Pending
	}
	if byLane["robô"] != 2 || byLane["Carlos"] != 1 {
		t.Fatalf("queue counts = %v", byLane)
	}
}

func TestUpdateMissingProtocol(t *testing.T) {
	env := newTestEnv(t)
	status := domain.StatusFiled
	_, err := env.Engine.UpdateProtocol(env.Ctx, "nao-existe", engine.UpdateOptions{
		Update: domain.ProtocolUpdate{Status: &status},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var fe *store.FailureError
	if errors.As(err, &fe) {
		t.Fatalf("missing row must not surface as a store failure: %v", err)
	}
}

func TestCorruptActivityLogRecovers(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	if _, err := env.Store.Exec(env.Ctx, `UPDATE protocols SET activity_log = '{{not json' WHERE id = ?`, p.ID); err != nil {
		t.Fatalf("corrupt log: %v", err)
	}

	got, err := env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get with corrupt log: %v", err)
	}
	if !got.LogRecovered || len(got.ActivityLog) != 0 {
		t.Fatalf("expected recovered empty log, got recovered=%v entries=%d", got.LogRecovered, len(got.ActivityLog))
	}

	status := domain.StatusFiled
	res, err := env.Engine.UpdateProtocol(env.Ctx, p.ID, engine.UpdateOptions{
		Update: domain.ProtocolUpdate{Status: &status}, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update with corrupt log: %v", err)
	}
	if !res.LogRecovered {
		t.Fatal("recovery should be reported to the caller")
	}
	got, err = env.Engine.GetProtocol(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ActivityLog) != 1 {
		t.Fatalf("rebuilt log has %d entries, want 1", len(got.ActivityLog))
	}
}

func TestPurgeFinalized(t *testing.T) {
	env := newTestEnv(t)
	set := func(id, status string) {
		t.Helper()
		if _, err := env.Engine.UpdateProtocol(env.Ctx, id, engine.UpdateOptions{
			Update: domain.ProtocolUpdate{Status: &status}, ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}

	filed1 := env.create(t, engine.CreateOptions{})
	filed2 := env.create(t, engine.CreateOptions{})
	cancelled := env.create(t, engine.CreateOptions{})
	pending := env.create(t, engine.CreateOptions{})
	set(filed1.ID, domain.StatusFiled)
	set(filed2.ID, domain.StatusFiled)
	set(cancelled.ID, domain.StatusCancelled)

	preview, err := env.Engine.PreviewFinalized(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if preview.Total != 3 || preview.Peticionados != 2 || preview.Cancelados != 1 || preview.Devolvidos != 0 {
		t.Fatalf("preview = %+v", preview)
	}

	result, err := env.Engine.PurgeFinalized(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 3 || result.Peticionados != 2 || result.Cancelados != 1 || result.Devolvidos != 0 {
		t.Fatalf("purge result = %+v", result)
	}

	remaining, err := env.Engine.ListProtocols(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != pending.ID {
		t.Fatalf("pending row should survive the purge: %+v", remaining)
	}

	// purge of an empty set is a no-op, not an error
	result, err = env.Engine.PurgeFinalized(env.Ctx)
	if err != nil || result.Total != 0 {
		t.Fatalf("second purge = %+v, %v", result, err)
	}
}

func TestDeleteProtocol(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.CreateOptions{})
	n, err := env.Engine.DeleteProtocol(env.Ctx, p.ID)
	if err != nil || n != 1 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	_, err = env.Engine.DeleteProtocol(env.Ctx, p.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmployeeEmailUnique(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateEmployee(env.Ctx, "Outra Ana", "ana@escritorio.example", ""); err == nil {
		t.Fatal("duplicate email should fail")
	}
}
