package server

import (
	"protoline/internal/domain"
	"protoline/internal/engine"
)

// Request payloads

type CreateProtocolRequest struct {
	ProcessNumber    string   `json:"process_number,omitempty"`
	Court            string   `json:"court"`
	System           string   `json:"system"`
	Degree           string   `json:"degree,omitempty" enum:"1º grau,2º grau"`
	ProcessType      string   `json:"process_type,omitempty" enum:"cível,trabalhista"`
	Task             string   `json:"task,omitempty"`
	PetitionType     string   `json:"petition_type,omitempty"`
	Observations     string   `json:"observations,omitempty"`
	Documents        []string `json:"documents,omitempty"`
	Guias            []string `json:"guias,omitempty"`
	IsFatal          bool     `json:"is_fatal,omitempty"`
	NeedsProcuration bool     `json:"needs_procuration,omitempty"`
	ProcurationType  string   `json:"procuration_type,omitempty"`
	NeedsGuia        bool     `json:"needs_guia,omitempty"`
	IsDistribution   bool     `json:"is_distribution,omitempty"`
	IsResubmission   bool     `json:"is_resubmission,omitempty"`
	PreviousAssignee *string  `json:"previous_assignee,omitempty"`
	CreatedBy        string   `json:"created_by"`
	CreatedByEmail   string   `json:"created_by_email,omitempty"`
}

type NewLogEntryRequest struct {
	ID          string `json:"id,omitempty"`
	Action      string `json:"action"`
	Description string `json:"description"`
	PerformedBy string `json:"performed_by,omitempty"`
}

type UpdateProtocolRequest struct {
	domain.ProtocolUpdate
	NewEntry *NewLogEntryRequest `json:"new_entry,omitempty"`
}

type ReassignProtocolRequest struct {
	// A null assignee moves the protocol to the robot lane.
	Assignee *string `json:"assignee"`
}

type CreateEmployeeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Team  string `json:"team,omitempty"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type DevTokenRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type ChangesResponse struct {
	Changes int64 `json:"changes"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

func logEntryFromRequest(req *NewLogEntryRequest) *domain.LogEntry {
	if req == nil {
		return nil
	}
	return &domain.LogEntry{
		ID:          req.ID,
		Action:      req.Action,
		Description: req.Description,
		PerformedBy: req.PerformedBy,
	}
}

func createOptionsFromRequest(req CreateProtocolRequest) engine.CreateOptions {
	return engine.CreateOptions{
		ProcessNumber:    req.ProcessNumber,
		Court:            req.Court,
		System:           req.System,
		Degree:           req.Degree,
		ProcessType:      req.ProcessType,
		Task:             req.Task,
		PetitionType:     req.PetitionType,
		Observations:     req.Observations,
		Documents:        req.Documents,
		Guias:            req.Guias,
		IsFatal:          req.IsFatal,
		NeedsProcuration: req.NeedsProcuration,
		ProcurationType:  req.ProcurationType,
		NeedsGuia:        req.NeedsGuia,
		IsDistribution:   req.IsDistribution,
		IsResubmission:   req.IsResubmission,
		PreviousAssignee: req.PreviousAssignee,
		CreatedBy:        req.CreatedBy,
		CreatedByEmail:   req.CreatedByEmail,
	}
}
