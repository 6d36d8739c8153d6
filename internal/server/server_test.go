package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"protoline/internal/config"
	"protoline/internal/db"
	"protoline/internal/domain"
	"protoline/internal/engine"
	"protoline/internal/migrate"
	"protoline/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(conn)
	e := engine.New(st, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Close()
			st.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s: %v (body %s)", method, path, err, data)
		}
	}
	return resp.StatusCode
}

func (s *testServer) seedEmployee(t *testing.T) domain.Employee {
	t.Helper()
	var emp domain.Employee
	code := s.do(t, http.MethodPost, "/v1/employees", map[string]any{
		"name":  "Ana Souza",
		"email": "ana@escritorio.example",
	}, &emp)
	if code != http.StatusCreated {
		t.Fatalf("create employee status = %d", code)
	}
	return emp
}

func TestProtocolLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	emp := s.seedEmployee(t)

	var created domain.Protocol
	code := s.do(t, http.MethodPost, "/v1/protocols", map[string]any{
		"court":      "Tribunal de Justiça de Minas Gerais",
		"system":     "PJe",
		"created_by": emp.ID,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.Status != domain.StatusPending || created.AssignedTo != nil {
		t.Fatalf("created = %+v", created)
	}

	var list []domain.Protocol
	if code := s.do(t, http.MethodGet, "/v1/protocols", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list) != 1 || list[0].CreatorName != "Ana Souza" {
		t.Fatalf("list = %+v", list)
	}

	var result engine.UpdateResult
	code = s.do(t, http.MethodPatch, "/v1/protocols/"+created.ID, map[string]any{
		"status": domain.StatusFiled,
	}, &result)
	if code != http.StatusOK || result.Changes != 1 {
		t.Fatalf("update status = %d, result = %+v", code, result)
	}

	var got domain.Protocol
	if code := s.do(t, http.MethodGet, "/v1/protocols/"+created.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Status != domain.StatusFiled || len(got.ActivityLog) != 2 {
		t.Fatalf("got = %+v", got)
	}

	var changes ChangesResponse
	if code := s.do(t, http.MethodDelete, "/v1/protocols/"+created.ID, nil, &changes); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if changes.Changes != 1 {
		t.Fatalf("changes = %d", changes.Changes)
	}
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	emp := s.seedEmployee(t)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	// missing row
	code := s.do(t, http.MethodGet, "/v1/protocols/nao-existe", nil, &envelope)
	if code != http.StatusNotFound || envelope.Error.Code != "not_found" {
		t.Fatalf("status = %d, envelope = %+v", code, envelope)
	}

	// invalid transition
	var created domain.Protocol
	s.do(t, http.MethodPost, "/v1/protocols", map[string]any{
		"court":      "Tribunal de Justiça de Minas Gerais",
		"system":     "PJe",
		"created_by": emp.ID,
	}, &created)
	s.do(t, http.MethodPatch, "/v1/protocols/"+created.ID, map[string]any{"status": domain.StatusCancelled}, nil)
	code = s.do(t, http.MethodPatch, "/v1/protocols/"+created.ID, map[string]any{"status": domain.StatusFiled}, &envelope)
	if code != http.StatusBadRequest || envelope.Error.Code != "bad_request" {
		t.Fatalf("status = %d, envelope = %+v", code, envelope)
	}

	// unknown creator trips the foreign key
	code = s.do(t, http.MethodPost, "/v1/protocols", map[string]any{
		"court":      "Tribunal de Justiça de Minas Gerais",
		"system":     "PJe",
		"created_by": "ninguem",
	}, &envelope)
	if code != http.StatusConflict || envelope.Error.Code != "constraint_violation" {
		t.Fatalf("status = %d, envelope = %+v", code, envelope)
	}
}

func TestQueueEndpoints(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	emp := s.seedEmployee(t)

	post := func(body map[string]any) {
		t.Helper()
		body["created_by"] = emp.ID
		if code := s.do(t, http.MethodPost, "/v1/protocols", body, nil); code != http.StatusCreated {
			t.Fatalf("create status = %d", code)
		}
	}
	post(map[string]any{"court": "Tribunal de Justiça de Minas Gerais", "system": "PJe"})
	post(map[string]any{"court": "Tribunal de Justiça de Minas Gerais", "system": "PJe", "degree": domain.DegreeSecond})

	var robot []domain.Protocol
	if code := s.do(t, http.MethodGet, "/v1/queues/robot", nil, &robot); code != http.StatusOK {
		t.Fatalf("robot queue status = %d", code)
	}
	if len(robot) != 1 {
		t.Fatalf("robot queue = %+v", robot)
	}
	var carlos []domain.Protocol
	if code := s.do(t, http.MethodGet, "/v1/queues/Carlos", nil, &carlos); code != http.StatusOK {
		t.Fatalf("reviewer queue status = %d", code)
	}
	if len(carlos) != 1 || carlos[0].AssignedTo == nil || *carlos[0].AssignedTo != "Carlos" {
		t.Fatalf("reviewer queue = %+v", carlos)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t, AuthConfig{})
	emp := s.seedEmployee(t)

	var created domain.Protocol
	s.do(t, http.MethodPost, "/v1/protocols", map[string]any{
		"court":      "Tribunal de Justiça de Minas Gerais",
		"system":     "PJe",
		"created_by": emp.ID,
	}, &created)
	s.do(t, http.MethodPatch, "/v1/protocols/"+created.ID, map[string]any{"status": domain.StatusFiled}, nil)

	var preview struct {
		Total        int `json:"total"`
		Peticionados int `json:"peticionados"`
	}
	if code := s.do(t, http.MethodGet, "/v1/maintenance/finalized", nil, &preview); code != http.StatusOK {
		t.Fatalf("preview status = %d", code)
	}
	if preview.Total != 1 || preview.Peticionados != 1 {
		t.Fatalf("preview = %+v", preview)
	}

	var purge struct {
		Total int `json:"total"`
	}
	if code := s.do(t, http.MethodDelete, "/v1/maintenance/finalized", nil, &purge); code != http.StatusOK {
		t.Fatalf("purge status = %d", code)
	}
	if purge.Total != 1 {
		t.Fatalf("purge = %+v", purge)
	}
}

func TestJWTAuth(t *testing.T) {
	s := newTestServer(t, AuthConfig{JWTSecret: "segredo-de-teste", DefaultActor: "sistema"})

	// an invalid bearer token is rejected outright
	req, _ := http.NewRequest(http.MethodGet, s.URL+"/v1/protocols", nil)
	req.Header.Set("Authorization", "Bearer nao-e-um-token")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d", resp.StatusCode)
	}

	// a minted dev token is accepted
	var minted DevTokenResponse
	if code := s.do(t, http.MethodPost, "/v1/auth/dev-token", map[string]any{"actor_id": "ana"}, &minted); code != http.StatusOK {
		t.Fatalf("dev token status = %d", code)
	}
	req, _ = http.NewRequest(http.MethodGet, s.URL+"/v1/protocols", nil)
	req.Header.Set("Authorization", "Bearer "+minted.Token)
	resp, err = s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("minted token status = %d", resp.StatusCode)
	}
}

func TestActorHeaderFlowsIntoActivityLog(t *testing.T) {
	s := newTestServer(t, AuthConfig{DefaultActor: "sistema"})
	emp := s.seedEmployee(t)

	var created domain.Protocol
	s.do(t, http.MethodPost, "/v1/protocols", map[string]any{
		"court":      "Tribunal de Justiça de Minas Gerais",
		"system":     "PJe",
		"created_by": emp.ID,
	}, &created)

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]any{"status": domain.StatusFiled})
	req, _ := http.NewRequest(http.MethodPatch, s.URL+"/v1/protocols/"+created.ID, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "carlos@escritorio.example")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	var got domain.Protocol
	s.do(t, http.MethodGet, "/v1/protocols/"+created.ID, nil, &got)
	last := got.ActivityLog[len(got.ActivityLog)-1]
	if last.PerformedBy != "carlos@escritorio.example" {
		t.Fatalf("performed_by = %q", last.PerformedBy)
	}
}
