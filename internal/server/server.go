package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"protoline/internal/domain"
	"protoline/internal/engine"
	"protoline/internal/repo"
	"protoline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"protocol not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Protoline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Protoline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProtocols(group, cfg.Engine)
	registerQueues(group, cfg.Engine)
	registerMaintenance(group, cfg.Engine)
	registerEmployees(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var fe *store.FailureError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusInternalServerError, "store_failure", err.Error(), map[string]any{"attempts": fe.Attempts})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "foreign key"), strings.Contains(lowered, "unique"):
		return newAPIError(http.StatusConflict, "constraint_violation", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerProtocols(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-protocol",
		Method:        http.MethodPost,
		Path:          "/protocols",
		Summary:       "Create protocol",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProtocolRequest `json:"body"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		opts := createOptionsFromRequest(input.Body)
		if opts.CreatedByEmail == "" {
			opts.CreatedByEmail = actorIDFromContext(ctx)
		}
		p, err := e.CreateProtocol(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-protocols",
		Method:      http.MethodGet,
		Path:        "/protocols",
		Summary:     "List protocols",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Protocol `json:"body"`
	}, error) {
		items, err := e.ListProtocols(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Protocol `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-protocol",
		Method:      http.MethodGet,
		Path:        "/protocols/{protocol_id}",
		Summary:     "Get protocol",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProtocolID string `path:"protocol_id"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		p, err := e.GetProtocol(ctx, input.ProtocolID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-protocol",
		Method:      http.MethodPatch,
		Path:        "/protocols/{protocol_id}",
		Summary:     "Update protocol",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProtocolID string                `path:"protocol_id"`
		Body       UpdateProtocolRequest `json:"body"`
	}) (*struct {
		Body engine.UpdateResult `json:"body"`
	}, error) {
		result, err := e.UpdateProtocol(ctx, input.ProtocolID, engine.UpdateOptions{
			Update:   input.Body.ProtocolUpdate,
			NewEntry: logEntryFromRequest(input.Body.NewEntry),
			ActorID:  actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.UpdateResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-protocol",
		Method:      http.MethodDelete,
		Path:        "/protocols/{protocol_id}",
		Summary:     "Delete protocol",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProtocolID string `path:"protocol_id"`
	}) (*struct {
		Body ChangesResponse `json:"body"`
	}, error) {
		n, err := e.DeleteProtocol(ctx, input.ProtocolID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChangesResponse `json:"body"`
		}{Body: ChangesResponse{Changes: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/{protocol_id}/resubmit",
		Summary:     "Resubmit a returned protocol",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProtocolID string `path:"protocol_id"`
	}) (*struct {
		Body engine.UpdateResult `json:"body"`
	}, error) {
		result, err := e.ResubmitProtocol(ctx, input.ProtocolID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.UpdateResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/{protocol_id}/reassign",
		Summary:     "Move a pending protocol to another queue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProtocolID string                  `path:"protocol_id"`
		Body       ReassignProtocolRequest `json:"body"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		if err := e.ReassignProtocol(ctx, input.ProtocolID, input.Body.Assignee, actorIDFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProtocol(ctx, input.ProtocolID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})
}

func registerQueues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queues",
		Method:      http.MethodGet,
		Path:        "/queues",
		Summary:     "Pending backlog per queue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []repo.QueueCount `json:"body"`
	}, error) {
		counts, err := e.QueueCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []repo.QueueCount `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-queue",
		Method:      http.MethodGet,
		Path:        "/queues/{lane}",
		Summary:     "Pending protocols in a queue",
		Description: "Lane \"robot\" is the automated lane; any other value names a human reviewer.",
	}, func(ctx context.Context, input *struct {
		Lane string `path:"lane"`
	}) (*struct {
		Body []domain.Protocol `json:"body"`
	}, error) {
		var assignee *string
		if input.Lane != "robot" {
			assignee = &input.Lane
		}
		items, err := e.ListQueue(ctx, assignee)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Protocol `json:"body"`
		}{Body: items}, nil
	})
}

func registerMaintenance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-finalized",
		Method:      http.MethodGet,
		Path:        "/maintenance/finalized",
		Summary:     "Preview finalized protocols eligible for purge",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.FinalizedPreview `json:"body"`
	}, error) {
		preview, err := e.PreviewFinalized(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.FinalizedPreview `json:"body"`
		}{Body: preview}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-finalized",
		Method:      http.MethodDelete,
		Path:        "/maintenance/finalized",
		Summary:     "Purge finalized protocols",
		Description: "Deletes every Peticionado, Cancelado and Devolvido protocol. Not reversible.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.PurgeResult `json:"body"`
	}, error) {
		result, err := e.PurgeFinalized(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.PurgeResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerEmployees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-employee",
		Method:        http.MethodPost,
		Path:          "/employees",
		Summary:       "Create employee",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEmployeeRequest `json:"body"`
	}) (*struct {
		Body domain.Employee `json:"body"`
	}, error) {
		emp, err := e.CreateEmployee(ctx, input.Body.Name, input.Body.Email, input.Body.Team)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Employee `json:"body"`
		}{Body: emp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-employees",
		Method:      http.MethodGet,
		Path:        "/employees",
		Summary:     "List employees",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		items, err := e.ListEmployees(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-employee",
		Method:      http.MethodDelete,
		Path:        "/employees/{employee_id}",
		Summary:     "Delete employee",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `path:"employee_id"`
	}) (*struct{}, error) {
		if err := e.DeleteEmployee(ctx, input.EmployeeID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*struct {
		Body domain.Team `json:"body"`
	}, error) {
		t, err := e.CreateTeam(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Team `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Team `json:"body"`
	}, error) {
		items, err := e.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Team `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-team",
		Method:      http.MethodDelete,
		Path:        "/teams/{team_id}",
		Summary:     "Delete team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTeam(ctx, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	if auth.JWTSecret == "" {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev-token",
		Summary:     "Mint a development token for an actor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(input.Body.ActorID, auth.JWTSecret, timeNow())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token}}, nil
	})
}
