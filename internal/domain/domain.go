package domain

// Protocol statuses. The wire values are the ones the firm's workflow uses;
// Aguardando is the only non-final working state, Devolvido may re-enter it
// through resubmission.
const (
	StatusPending   = "Aguardando"
	StatusFiled     = "Peticionado"
	StatusCancelled = "Cancelado"
	StatusReturned  = "Devolvido"
)

// Jurisdiction degrees.
const (
	DegreeFirst  = "1º grau"
	DegreeSecond = "2º grau"
)

// Process types.
const (
	ProcessCivil = "cível"
	ProcessLabor = "trabalhista"
)

// Statuses lists every legal protocol status.
var Statuses = []string{StatusPending, StatusFiled, StatusCancelled, StatusReturned}

// ValidStatus reports whether s is a known protocol status.
func ValidStatus(s string) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// FinalStatus reports whether s makes a protocol eligible for bulk cleanup.
// Devolvido counts as final here even though it is logically reopenable.
func FinalStatus(s string) bool {
	return s == StatusFiled || s == StatusCancelled || s == StatusReturned
}

// Protocol is one legal filing request tracked from intake to filing,
// cancellation or return.
type Protocol struct {
	ID               string     `json:"id"`
	ProcessNumber    string     `json:"process_number,omitempty"`
	Court            string     `json:"court"`
	System           string     `json:"system"`
	Degree           string     `json:"degree" enum:"1º grau,2º grau"`
	ProcessType      string     `json:"process_type,omitempty" enum:"cível,trabalhista"`
	Task             string     `json:"task,omitempty"`
	PetitionType     string     `json:"petition_type,omitempty"`
	Observations     string     `json:"observations,omitempty"`
	Documents        []string   `json:"documents,omitempty"`
	Guias            []string   `json:"guias,omitempty"`
	IsFatal          bool       `json:"is_fatal"`
	NeedsProcuration bool       `json:"needs_procuration"`
	ProcurationType  string     `json:"procuration_type,omitempty"`
	NeedsGuia        bool       `json:"needs_guia"`
	IsDistribution   bool       `json:"is_distribution"`
	Status           string     `json:"status" enum:"Aguardando,Peticionado,Cancelado,Devolvido"`
	AssignedTo       *string    `json:"assigned_to,omitempty"`
	ReturnReason     string     `json:"return_reason,omitempty"`
	QueuePosition    int        `json:"queue_position"`
	ActivityLog      []LogEntry `json:"activity_log"`
	ActivityLogRaw   string     `json:"-"`
	LogRecovered     bool       `json:"log_recovered,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatorName      string     `json:"creator_name,omitempty"`
	CreatorEmail     string     `json:"creator_email,omitempty"`
	CreatedAt        string     `json:"created_at" format:"date-time"`
	UpdatedAt        string     `json:"updated_at" format:"date-time"`
}

// LogEntry is one line of a protocol's append-only activity trail.
type LogEntry struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp" format:"date-time"`
	Action      string `json:"action"`
	Description string `json:"description"`
	PerformedBy string `json:"performed_by"`
}

// ProtocolUpdate is a typed partial update. Only the enumerated fields are
// updatable; a nil field is left untouched. Status changes flow through the
// state machine, which appends the matching activity entry.
type ProtocolUpdate struct {
	ProcessNumber    *string   `json:"process_number,omitempty"`
	Court            *string   `json:"court,omitempty"`
	System           *string   `json:"system,omitempty"`
	Degree           *string   `json:"degree,omitempty" enum:"1º grau,2º grau"`
	ProcessType      *string   `json:"process_type,omitempty" enum:"cível,trabalhista"`
	Task             *string   `json:"task,omitempty"`
	PetitionType     *string   `json:"petition_type,omitempty"`
	Observations     *string   `json:"observations,omitempty"`
	Documents        *[]string `json:"documents,omitempty"`
	Guias            *[]string `json:"guias,omitempty"`
	IsFatal          *bool     `json:"is_fatal,omitempty"`
	NeedsProcuration *bool     `json:"needs_procuration,omitempty"`
	ProcurationType  *string   `json:"procuration_type,omitempty"`
	NeedsGuia        *bool     `json:"needs_guia,omitempty"`
	Status           *string   `json:"status,omitempty" enum:"Aguardando,Peticionado,Cancelado,Devolvido"`
	ReturnReason     *string   `json:"return_reason,omitempty"`
	QueuePosition    *int      `json:"queue_position,omitempty"`
}

// Employee is an external collaborator referenced by protocols.created_by.
// The core never mutates one beyond plain CRUD.
type Employee struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Team      string `json:"team,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Team is a named group of employees.
type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
